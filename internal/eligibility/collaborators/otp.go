package collaborators

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"mf-loan-eligibility/internal/common/database"
	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"

	"github.com/redis/go-redis/v9"
)

const (
	OTPReasonMismatch         = "mismatch"
	OTPReasonExpired          = "expired"
	OTPReasonAttemptsExceeded = "attempts_exceeded"

	countryCode = "+91"
)

// SMSSender delivers a text message; satisfied by aws.SMSSender.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) (string, error)
}

// OTPGateway issues six digit codes over SMS and verifies them against an
// HMAC-SHA256 digest held in Redis, keyed by secret. Each code expires after
// expiry and allows at most maxAttempts verification attempts.
type OTPGateway struct {
	cache       *database.RedisClient
	sms         SMSSender
	secret      []byte
	expiry      time.Duration
	maxAttempts int
	log         logger.Logger
	generate    func() (string, error)
}

func NewOTPGateway(cache *database.RedisClient, sms SMSSender, secret []byte, expiry time.Duration, maxAttempts int, log logger.Logger) *OTPGateway {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OTPGateway{
		cache:       cache,
		sms:         sms,
		secret:      secret,
		expiry:      expiry,
		maxAttempts: maxAttempts,
		log:         log.Named("otp-gateway"),
		generate:    randomCode,
	}
}

func (g *OTPGateway) SendOTP(ctx context.Context, mobile string) error {
	code, err := g.generate()
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("generate otp: %v", err))
	}

	codeKey, attemptsKey := g.keys(mobile)
	_, err = g.cache.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, codeKey, g.digest(mobile, code), g.expiry)
		pipe.Del(ctx, attemptsKey)
		return nil
	})
	if err != nil {
		return errors.NewCacheFailedError("store_otp", err)
	}

	msg := fmt.Sprintf("%s is your OTP to check loan eligibility against your mutual funds. It is valid for %d minutes.",
		code, int(g.expiry.Minutes()))
	msgID, err := g.sms.SendSMS(ctx, countryCode+mobile, msg)
	if err != nil {
		g.cache.Client.Del(ctx, codeKey)
		return errors.NewNotificationSendFailedError("sms", err)
	}

	g.log.Info("otp sent", map[string]interface{}{
		"maskedMobile": flow.MaskMobile(mobile),
		"messageId":    msgID,
	})
	return nil
}

func (g *OTPGateway) VerifyOTP(ctx context.Context, mobile, code string) (flow.OTPVerdict, error) {
	codeKey, attemptsKey := g.keys(mobile)

	attempts, err := g.cache.Client.Incr(ctx, attemptsKey).Result()
	if err != nil {
		return flow.OTPVerdict{}, errors.NewCacheFailedError("count_otp_attempt", err)
	}
	if attempts == 1 {
		g.cache.Client.Expire(ctx, attemptsKey, g.expiry)
	}
	if attempts > int64(g.maxAttempts) {
		return flow.OTPVerdict{Reason: OTPReasonAttemptsExceeded}, nil
	}

	stored, err := g.cache.Client.Get(ctx, codeKey).Result()
	if err == redis.Nil {
		return flow.OTPVerdict{Reason: OTPReasonExpired}, nil
	}
	if err != nil {
		return flow.OTPVerdict{}, errors.NewCacheFailedError("read_otp", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(g.digest(mobile, code))) != 1 {
		return flow.OTPVerdict{Reason: OTPReasonMismatch}, nil
	}

	g.cache.Client.Del(ctx, codeKey, attemptsKey)
	return flow.OTPVerdict{Verified: true}, nil
}

func (g *OTPGateway) keys(mobile string) (string, string) {
	return g.cache.Key("otp", mobile, "code"), g.cache.Key("otp", mobile, "attempts")
}

func (g *OTPGateway) digest(mobile, code string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(mobile + ":" + code))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
