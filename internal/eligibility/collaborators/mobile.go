package collaborators

import (
	"context"
	"time"

	"mf-loan-eligibility/internal/common/database"
	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"

	"github.com/redis/go-redis/v9"
)

const existsQuery = `SELECT EXISTS(SELECT 1 FROM customer_accounts WHERE mobile_number = $1 AND deleted_at IS NULL)`

// MobileRegistry answers whether a mobile number already has an account.
// Verdicts are cached in Redis for the configured TTL.
type MobileRegistry struct {
	db    *database.PostgresClient
	cache *database.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewMobileRegistry(db *database.PostgresClient, cache *database.RedisClient, ttl time.Duration, log logger.Logger) *MobileRegistry {
	return &MobileRegistry{
		db:    db,
		cache: cache,
		ttl:   ttl,
		log:   log.Named("mobile-registry"),
	}
}

func (r *MobileRegistry) CheckMobileExists(ctx context.Context, mobile string) (flow.MobileCheck, error) {
	key := ""
	if r.cache != nil {
		key = r.cache.Key("mobile", mobile)
		val, err := r.cache.Client.Get(ctx, key).Result()
		switch {
		case err == nil:
			return flow.MobileCheck{Exists: val == "1"}, nil
		case err != redis.Nil:
			r.log.Warn("mobile cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	var exists bool
	if err := r.db.DB.QueryRowContext(ctx, existsQuery, mobile).Scan(&exists); err != nil {
		return flow.MobileCheck{}, errors.NewQueryExecutionFailedError("mobile_exists", err)
	}

	if key != "" && r.ttl > 0 {
		val := "0"
		if exists {
			val = "1"
		}
		if err := r.cache.Client.Set(ctx, key, val, r.ttl).Err(); err != nil {
			r.log.Warn("mobile cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return flow.MobileCheck{Exists: exists}, nil
}
