// Package api exposes the eligibility wizard over HTTP. Each session owns one
// flow.Controller; handlers translate controller outcomes into JSON and the
// StandardError code into an HTTP status.
package api

import (
	"context"
	"net/http"
	"time"

	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/common/validation"
	"mf-loan-eligibility/internal/eligibility/flow"
	"mf-loan-eligibility/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	store  *SessionStore
	log    logger.Logger
	checks []ReadinessCheck
}

type mobileRequest struct {
	MobileNumber string `json:"mobileNumber" validate:"required"`
}

type otpRequest struct {
	Code string `json:"code" validate:"required"`
}

type intentRequest struct {
	Intent string `json:"intent" validate:"required,oneof=exploring future now"`
}

type panRequest struct {
	PAN string `json:"pan" validate:"required"`
}

// sessionResponse is returned by every session route. Error is set for
// rejected operations and for the non-fatal re-prompts.
type sessionResponse struct {
	SessionID string               `json:"sessionId"`
	Session   flow.View            `json:"session"`
	Error     *errors.StandardError `json:"error,omitempty"`
}

func NewServer(store *SessionStore, log logger.Logger, checks ...ReadinessCheck) *Server {
	return &Server{store: store, log: log.Named("api"), checks: checks}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", s.createSession)

		session := v1.Group("/sessions/:id")
		session.GET("", s.withSession(nil))
		session.POST("/mobile", s.withSession(s.submitMobile))
		session.POST("/otp", s.withSession(s.submitOTP))
		session.POST("/otp/resend", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			_, err := ctrl.ResendOTP(c.Request.Context())
			return err
		}))
		session.POST("/intent", s.withSession(s.selectIntent))
		session.POST("/pan", s.withSession(s.submitPAN))
		session.POST("/offers/request", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			_, err := ctrl.RequestOffers(c.Request.Context())
			return err
		}))
		session.POST("/investments/confirm", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			_, err := ctrl.ConfirmNoInvestments(c.Request.Context())
			return err
		}))
		session.POST("/investments/go-back", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			_, err := ctrl.GoBackToStart(c.Request.Context())
			return err
		}))
		session.POST("/offer-details/toggle", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			ctrl.ToggleOfferDetails()
			return nil
		}))
		session.POST("/restart", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			ctrl.Restart(c.Request.Context())
			return nil
		}))
		session.POST("/sanction", s.withSession(func(c *gin.Context, ctrl *flow.Controller) error {
			_, err := ctrl.ProceedToCreditSanction(c.Request.Context())
			return err
		}))
	}
	return r
}

// ==========================
// Handlers
// ==========================

func (s *Server) createSession(c *gin.Context) {
	id, ctrl := s.store.Create()
	c.JSON(http.StatusCreated, sessionResponse{SessionID: id, Session: ctrl.Snapshot()})
}

func (s *Server) submitMobile(c *gin.Context, ctrl *flow.Controller) error {
	var req mobileRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	_, err := ctrl.SubmitMobileNumber(c.Request.Context(), req.MobileNumber)
	return err
}

func (s *Server) submitOTP(c *gin.Context, ctrl *flow.Controller) error {
	var req otpRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	_, err := ctrl.SubmitOTP(c.Request.Context(), req.Code)
	return err
}

func (s *Server) selectIntent(c *gin.Context, ctrl *flow.Controller) error {
	var req intentRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	_, err := ctrl.SelectIntent(c.Request.Context(), models.Intent(req.Intent))
	return err
}

func (s *Server) submitPAN(c *gin.Context, ctrl *flow.Controller) error {
	var req panRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if _, err := ctrl.SubmitPAN(c.Request.Context(), req.PAN); err != nil {
		return err
	}
	if view := ctrl.Snapshot(); view.PANPhoneMismatch {
		return errors.NewPANPhoneMismatchError(view.MaskedMobile)
	}
	return nil
}

// bindBody decodes the JSON body into req and checks its validate tags.
func bindBody(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return errors.NewInvalidInputError("body", err.Error())
	}
	if res := validation.Struct(req); !res.Valid {
		field := "body"
		if len(res.Errors) > 0 {
			field = res.Errors[0].Field
		}
		return errors.NewInvalidInputError(field, res.Summary())
	}
	return nil
}

// withSession resolves the :id session, runs op (nil for a plain read) and
// writes the resulting snapshot.
func (s *Server) withSession(op func(c *gin.Context, ctrl *flow.Controller) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctrl, ok := s.store.Get(id)
		if !ok {
			err := errors.NewSessionNotFoundError(id)
			c.JSON(http.StatusNotFound, gin.H{"error": err})
			return
		}

		var err error
		if op != nil {
			err = op(c, ctrl)
		}

		resp := sessionResponse{SessionID: id, Session: ctrl.Snapshot()}
		if err != nil {
			resp.Error = errors.Normalize(err)
		}
		c.JSON(statusFor(resp.Error), resp)
	}
}

func statusFor(err *errors.StandardError) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Code {
	case errors.ErrCodeInvalidInput:
		return http.StatusUnprocessableEntity
	case errors.ErrCodePANPhoneMismatch, errors.ErrCodeOTPRejected:
		return http.StatusOK
	case errors.ErrCodeStepNotApplicable, errors.ErrCodeOperationInFlight:
		return http.StatusConflict
	case errors.ErrCodeStaleResult:
		return http.StatusGone
	case errors.ErrCodeCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.store.Len()})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request handled", map[string]interface{}{
			"method":    c.Request.Method,
			"route":     c.FullPath(),
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		})
	}
}
