package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	analyticshandler "bloodbridge/internal/analytics/handler"
	analyticssvc "bloodbridge/internal/analytics/service"
	httpapi "bloodbridge/internal/http"
	identityhandler "bloodbridge/internal/identity/handler"
	"bloodbridge/internal/identity/revocation"
	identitysvc "bloodbridge/internal/identity/service"
	identitystore "bloodbridge/internal/identity/store"
	"bloodbridge/internal/identity/token"
	ledgerhandler "bloodbridge/internal/ledger/handler"
	ledgersvc "bloodbridge/internal/ledger/service"
	ledgerstore "bloodbridge/internal/ledger/store"
	"bloodbridge/internal/notify"
	paymenthandler "bloodbridge/internal/payment/handler"
	paymentsvc "bloodbridge/internal/payment/service"
	paymentstore "bloodbridge/internal/payment/store"
	"bloodbridge/internal/platform/config"
	"bloodbridge/internal/platform/httpserver"
	"bloodbridge/internal/platform/logger"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/postgres"
	platformredis "bloodbridge/internal/platform/redis"
	"bloodbridge/pkg/platform/audit"
	auditmemory "bloodbridge/pkg/platform/audit/store/memory"
	auditpostgres "bloodbridge/pkg/platform/audit/store/postgres"
	"bloodbridge/pkg/platform/audit/worker"
	"bloodbridge/pkg/platform/tx"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps
// the server lifecycle small. Business logic lives in the services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when configured, in-memory otherwise.
	var (
		ledgerStore  ledgerstore.Store
		userStore    identitystore.Store
		payStore     paymentstore.Store
		auditStore   audit.Store
		runner       tx.Runner
		outboxWorker *worker.Worker
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Error("postgres migration failed", "error", err)
			os.Exit(1)
		}
		ledgerStore = ledgerstore.NewPostgresStore(db)
		userStore = identitystore.NewPostgresStore(db)
		payStore = paymentstore.NewPostgresStore(db)
		auditStore = auditpostgres.New(db)
		runner = postgres.NewTxRunner(db)

		if len(cfg.Kafka.Brokers) > 0 {
			kafkaClient, err := kgo.NewClient(
				kgo.SeedBrokers(cfg.Kafka.Brokers...),
				kgo.DefaultProduceTopic(cfg.Kafka.AuditTopic),
			)
			if err != nil {
				log.Error("kafka connect failed", "error", err)
				os.Exit(1)
			}
			defer kafkaClient.Close()
			outboxWorker = worker.New(db, kafkaClient, cfg.Kafka.AuditTopic, log)
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		ledgerStore = ledgerstore.NewInMemoryStore()
		userStore = identitystore.NewInMemoryStore()
		payStore = paymentstore.NewInMemoryStore()
		auditStore = auditmemory.New()
		runner = tx.NewInProcess()
	}

	// Token revocation list: Redis when configured.
	var trl revocation.TokenRevocationList = revocation.NewInMemoryTRL()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		trl = revocation.NewRedisTRL(redisClient.Client)
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.SMTP.Host != "" {
		notifier = notify.NewGuardedNotifier(notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}), log)
	}

	auditPublisher := audit.NewPublisher(auditStore)
	jwtService := token.NewJWTService(cfg.JWTSigningKey, "bloodbridge")
	validator := token.NewValidatorAdapter(jwtService, trl)

	identityService := identitysvc.New(userStore, jwtService, trl, cfg.TokenTTL, auditPublisher, notifier, m, log)
	resolver := identitysvc.NewResolver(identityService)
	ledgerService := ledgersvc.New(ledgerStore, resolver, runner, auditPublisher, notifier, m, log)
	analyticsService := analyticssvc.New(ledgerStore, log)
	paymentService := paymentsvc.New(payStore, ledgerService, runner, auditPublisher, m, log, cfg.PaymentSecret)

	router := httpapi.NewRouter(cfg.CORSOrigins,
		identityhandler.New(identityService, log, m, validator),
		ledgerhandler.New(ledgerService, log, m, validator),
		analyticshandler.New(analyticsService, log, m, validator),
		paymenthandler.New(paymentService, log, m, validator),
	)

	if outboxWorker != nil {
		go func() {
			if err := outboxWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit outbox worker stopped", "error", err)
			}
		}()
	}

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting bloodbridge", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
