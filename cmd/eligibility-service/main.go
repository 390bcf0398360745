package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mf-loan-eligibility/internal/api"
	"mf-loan-eligibility/internal/common/aws"
	"mf-loan-eligibility/internal/common/camunda"
	"mf-loan-eligibility/internal/common/config"
	"mf-loan-eligibility/internal/common/database"
	httpclient "mf-loan-eligibility/internal/common/http"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/common/observability"
	"mf-loan-eligibility/internal/eligibility/collaborators"
	"mf-loan-eligibility/internal/eligibility/flow"

	elo "mf-loan-eligibility/internal/workers/offers/evaluate-lender-offers"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// logOnlySMS stands in for SNS when SMS delivery is disabled.
type logOnlySMS struct {
	log       logger.Logger
	revealOTP bool
}

func (s logOnlySMS) SendSMS(_ context.Context, phoneNumber, message string) (string, error) {
	fields := map[string]interface{}{"maskedMobile": flow.MaskMobile(phoneNumber)}
	if s.revealOTP {
		fields["message"] = message
	}
	s.log.Warn("sms delivery disabled, message not sent", fields)
	return "", nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting eligibility service...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs, err := observability.New(cfg.App.Name, cfg.App.Version)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init messaging ---
	awsCfgs := cfg.Integrations.AWS
	var sms collaborators.SMSSender = logOnlySMS{
		log:       log.Named("sms"),
		revealOTP: cfg.App.Environment == "development",
	}
	var email collaborators.EmailSender
	if awsCfgs.SNS.Enabled || awsCfgs.SES.Enabled {
		awsCfg, err := aws.LoadConfig(ctx, awsCfgs.Region)
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		if awsCfgs.SNS.Enabled {
			sms = aws.NewSMSSender(awsCfg, awsCfgs.SNS.SenderID)
		}
		if awsCfgs.SES.Enabled {
			email = aws.NewEmailSender(awsCfg, awsCfgs.SES.FromEmail)
		}
	}

	pan := cfg.Integrations.PANRegistry
	panClient := httpclient.NewClient(pan.BaseURL, config.GetDuration(pan.Timeout), map[string]string{
		"X-API-Key": pan.APIKey,
	})

	collab := collaborators.New(collaborators.Deps{
		Postgres:          pg,
		Redis:             redis,
		Elasticsearch:     esClient,
		PANClient:         panClient,
		SMS:               sms,
		Processes:         zeebe,
		Email:             email,
		MobileCacheTTL:    config.GetDuration(cfg.Flow.MobileCacheTTL),
		OTPExpiry:         config.GetDuration(cfg.Flow.OTPExpiry),
		OTPMaxAttempts:    cfg.Flow.OTPMaxAttempts,
		OTPSecret:         []byte(cfg.Flow.OTPSecret),
		SanctionProcessID: cfg.Camunda.SanctionProcessID,
		SanctionDeskEmail: awsCfgs.SES.SanctionDeskEmail,
		Logger:            log,
	})
	zapLog.Info("All collaborators initialized")

	// --- Workers ---
	var workers []*camunda.Worker
	if config.IsWorkerEnabled(cfg, elo.TaskType) {
		wc := config.GetWorkerConfig(cfg, elo.TaskType)
		handler := elo.NewHandler(elo.LoadConfig(cfg), log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), elo.TaskType, camunda.WorkerOptions{
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       config.GetDuration(wc.Timeout),
		}, handler, log))
	}

	// --- Session API ---
	collaboratorTimeout := config.GetDuration(cfg.Flow.CollaboratorTimeout)
	store := api.NewSessionStore(func(sessionID string) *flow.Controller {
		return flow.NewController(collab, flow.Options{
			SessionID:           sessionID,
			CollaboratorTimeout: collaboratorTimeout,
			Logger:              log,
			Observability:       obs,
		})
	}, config.GetDuration(cfg.Server.SessionIdleTimeout), log)
	go store.Run(ctx, config.GetDuration(cfg.Server.CleanupInterval))

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(store, log,
		api.ReadinessCheck{Name: "postgres", Check: pg.Ping},
		api.ReadinessCheck{Name: "redis", Check: redis.Ping},
		api.ReadinessCheck{Name: "elasticsearch", Check: esClient.Ping},
		api.ReadinessCheck{Name: "zeebe", Check: zeebe.HealthCheck},
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("observability shutdown failed", zap.Error(err))
	}

	zapLog.Info("Eligibility service stopped")
}
