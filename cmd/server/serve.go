package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/audit"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/compliance"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/config"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/events/kafka"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/httpapi"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/kyc"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/lock"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models/events"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/security"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/storage/memory"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/storage/postgres"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/transfer"
)

const shutdownTimeout = 15 * time.Second

// service is everything serve runs, plus what must be closed after it.
type service struct {
	app      *fiber.App
	recorder *audit.Recorder
	closers  []io.Closer
}

// close flushes the audit trail first, then releases resources in reverse
// order of acquisition.
func (s *service) close(ctx context.Context) error {
	var errs []error
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func serve(parent context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store), zap.String("env", cfg.Env))
		return svc.app.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		return svc.app.ShutdownWithTimeout(shutdownTimeout)
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := svc.close(closeCtx); cerr != nil {
		log.Error("shutdown cleanup failed", zap.Error(cerr))
	}
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("server exited")
	return nil
}

func newService(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *service, err error) {
	svc := &service{}
	defer func() {
		if err != nil {
			_ = svc.close(context.Background())
		}
	}()

	locker, err := newLocker(ctx, cfg, log, svc)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg, log, locker, svc)
	if err != nil {
		return nil, err
	}

	sinks, err := newSinks(cfg, svc)
	if err != nil {
		return nil, err
	}
	var recorderOpts []audit.Option
	if cfg.AuditLogPath != "" {
		last, ok, err := audit.LastEntry(cfg.AuditLogPath)
		if err != nil {
			return nil, err
		}
		if ok {
			recorderOpts = append(recorderOpts, audit.ResumeAfter(last))
		}
	}
	recorderOpts = append(recorderOpts, audit.WithAlert(func(msg string, err error, e events.TransferAttempted) {
		log.Error("ALERT: audit trail degraded", zap.String("alert", msg), zap.String("sender", e.SenderID), zap.Error(err))
	}))
	svc.recorder = audit.NewRecorder(log.Named("audit"), sinks, recorderOpts...)

	var orchOpts []transfer.Option
	if cfg.ReceiptKey != "" {
		box, err := security.NewSecretBoxFromHex(cfg.ReceiptKey)
		if err != nil {
			return nil, fmt.Errorf("RECEIPT_KEY: %w", err)
		}
		orchOpts = append(orchOpts, transfer.WithSealer(box))
	}

	orch := transfer.NewOrchestrator(
		store,
		kyc.NewVerifier(store),
		compliance.NewScreener(cfg.Policy),
		svc.recorder,
		log.Named("transfer"),
		orchOpts...,
	)

	handler := httpapi.NewHandler(orch, ledger.NewLedger(store), log.Named("http"), httpapi.WithTransferTimeout(cfg.LockTimeout))
	svc.app = httpapi.NewApp(handler)
	return svc, nil
}

func newLocker(ctx context.Context, cfg *config.Config, log *zap.Logger, svc *service) (interfaces.AccountLocker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	svc.closers = append(svc.closers, client)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	opts := lock.DefaultRedisOptions()
	if cfg.LockTimeout > opts.Expiry {
		opts.Expiry = 2 * cfg.LockTimeout
	}
	return lock.NewRedis(client, opts, log.Named("lock")), nil
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger, locker interfaces.AccountLocker, svc *service) (interfaces.LedgerStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db)

		var opts []postgres.Option
		opts = append(opts, postgres.WithLogger(log.Named("postgres")))
		if cfg.RedisAddr != "" {
			opts = append(opts, postgres.WithLocker(locker))
		}
		return postgres.NewPostgresLedgerStore(db, opts...), nil

	default:
		store := memory.NewMemoryLedgerStore(memory.WithLocker(locker))
		if cfg.SeedFile != "" {
			accounts, err := config.LoadSeed(cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			for _, acc := range accounts {
				store.PutAccount(acc)
			}
			log.Info("memory store seeded", zap.Int("accounts", len(accounts)))
		}
		return store, nil
	}
}

func newSinks(cfg *config.Config, svc *service) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if cfg.AuditLogPath != "" {
		file, err := audit.NewFileSink(cfg.AuditLogPath)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, file)
		sinks = append(sinks, file)
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
		svc.closers = append(svc.closers, pub)
		sinks = append(sinks, audit.NewPublisherSink(pub))
	}

	if len(sinks) == 0 {
		return nil, errors.New("no audit sink configured: set AUDIT_LOG_PATH or KAFKA_BROKERS")
	}
	return sinks, nil
}
