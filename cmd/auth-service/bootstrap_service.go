package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/sessiongate/internal/auth"
	config "github.com/NordCoder/sessiongate/internal/config/auth-service"
	"github.com/NordCoder/sessiongate/internal/obs/retry"
	"github.com/NordCoder/sessiongate/internal/outbox"
	kafkax "github.com/NordCoder/sessiongate/internal/repository/kafka"
	rds "github.com/NordCoder/sessiongate/internal/repository/redis"
	authsvc "github.com/NordCoder/sessiongate/internal/services/auth-service/auth"
	"github.com/NordCoder/sessiongate/internal/services/auth-service/refresh"
	"go.uber.org/zap"
)

type service struct {
	manager *refresh.Manager
	usecase *authsvc.Usecase
	server  *authsvc.Server
	closers []func() error
}

func (s *service) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func buildService(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store) (*service, error) {
	fp, err := auth.NewFingerprinter()
	if err != nil {
		logger.Fatal("refresh token hashing", zap.Error(err))
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:    []byte(cfg.Auth.JWTSecret),
		AccessTTL: cfg.Auth.AccessTTL,
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	manager, err := refresh.NewManager(st.tokens, st.tx, fp, st.events, logger.Named("refresh"), refresh.Config{
		RefreshTTL: cfg.Auth.RefreshTTL,
		SweepBatch: cfg.Sweep.Batch,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh manager: %w", err)
	}

	svc := &service{manager: manager}

	var limiter authsvc.LoginLimiter
	if cfg.Redis.Enable {
		client, err := rds.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, client.Close)
		st.health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		limiter = rds.NewLoginLimiter(client, cfg.Redis.Config)
		logger.Info("login throttling enabled", zap.Int("max_attempts", cfg.Redis.MaxLoginAttempts))
	}

	svc.usecase = authsvc.NewUsecase(st.users, manager, issuer, limiter, logger.Named("auth"))
	svc.server = authsvc.NewServer(svc.usecase, authsvc.Opts{
		Logger:       logger.Named("http"),
		CookieName:   cfg.Auth.CookieName,
		CookieDomain: cfg.Auth.CookieDomain,
		CookiePath:   cfg.Auth.CookiePath,
		CookieSecure: cfg.Auth.CookieSecure,
		RefreshTTL:   cfg.Auth.RefreshTTL,
	})
	return svc, nil
}

func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, logger *zap.Logger, st *store, svc *service) {
	if cfg.Sweep.Enable {
		sweeper := refresh.NewSweeper(logger.Named("sweeper"), svc.manager, cfg.Sweep.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sweeper.Run(ctx)
		}()
	}

	if !cfg.Outbox.Enable || st.outbox == nil {
		return
	}

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := kafkax.EnsureTopic(ensureCtx, cfg.Kafka.Brokers, kafkax.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.Replication,
	}, logger)
	cancel()
	if err != nil {
		logger.Warn("kafka topic not ensured; producer will retry", zap.Error(err))
	}

	producer := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(logger)
	svc.closers = append(svc.closers, producer.Close)

	dispatch := outbox.MakeGlobalOutboxHandler(
		kafkax.NewSessionEventsKafka(producer),
		retry.PublishPolicy(logger, cfg.Outbox.Attempts),
	)
	runner := outbox.NewOutboxRunner(logger.Named("outbox"), st.outbox, dispatch, outbox.RunnerConfig{
		Workers:       cfg.Outbox.Workers,
		BatchSize:     cfg.Outbox.Batch,
		WaitTime:      cfg.Outbox.Wait,
		InProgressTTL: cfg.Outbox.InProgressTTL,
	})
	runner.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Wait()
	}()
}
