package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/wager/internal/audit"
	"github.com/MarkoPoloResearchLab/wager/internal/config"
	"github.com/MarkoPoloResearchLab/wager/internal/events"
	"github.com/MarkoPoloResearchLab/wager/internal/health"
	"github.com/MarkoPoloResearchLab/wager/internal/httpapi"
	"github.com/MarkoPoloResearchLab/wager/internal/oplog"
	"github.com/MarkoPoloResearchLab/wager/internal/scheduler"
	"github.com/MarkoPoloResearchLab/wager/internal/solana"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName           = "wagerd"
	healthRefreshInterval = 15 * time.Second
	drainTimeout          = 30 * time.Second
)

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := opened.close(); closeErr != nil {
			logger.Warn("store close", zap.Error(closeErr))
		}
	}()

	commitment, err := solana.ParseCommitment(cfg.Commitment)
	if err != nil {
		return err
	}
	chain, err := solana.NewClient(solana.Config{
		PrimaryURL:          cfg.RPCPrimaryURL,
		FallbackURLs:        cfg.RPCFallbackURLs,
		Commitment:          commitment,
		RPCTimeout:          cfg.RPCTimeout,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		TreasuryKey:         cfg.TreasuryKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("solana client: %w", err)
	}
	defer func() { _ = chain.Close() }()

	treasury, err := chain.TreasuryAddress()
	if err != nil {
		return fmt.Errorf("treasury address: %w", err)
	}
	if cfg.TreasuryAddress != "" && cfg.TreasuryAddress != treasury.String() {
		return fmt.Errorf("treasury key derives %s, expected %s", treasury, cfg.TreasuryAddress)
	}

	meterProvider, err := oplog.NewMeterProvider(serviceName, cfg.MetricsInterval)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
	}()
	metrics, err := oplog.NewMetrics(meterProvider.Meter(oplog.MeterName))
	if err != nil {
		return err
	}

	options := []wager.ServiceOption{
		wager.WithOperationLogger(oplog.Fanout{oplog.NewZapLogger(logger), metrics}),
		wager.WithPayoutTimeout(cfg.PayoutTimeout),
	}
	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Drain() }()
		options = append(options, wager.WithNotifier(events.NewNotifier(conn, logger)))
	}

	service, err := wager.NewService(opened.store, chain, chain, treasury, time.Now, options...)
	if err != nil {
		return fmt.Errorf("wager service init: %w", err)
	}

	validator, err := httpapi.NewTokenValidator([]byte(cfg.JWTSigningKey), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	apiServer := httpapi.NewServer(httpapi.Config{
		ListenAddr:     cfg.HTTPListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, service, validator, logger)

	jobs, err := scheduler.New(logger)
	if err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	if err := jobs.AddReconcile(groupCtx, service, cfg.ReconcileInterval, cfg.ReconcileGrace); err != nil {
		return err
	}
	if cfg.AuditBucket != "" {
		s3Client, err := audit.NewS3Client(ctx, cfg.AuditRegion)
		if err != nil {
			return err
		}
		exporter := audit.NewExporter(service, s3Client, cfg.AuditBucket, cfg.AuditPrefix, time.Now, logger)
		if err := jobs.AddAuditExport(groupCtx, exporter, cfg.AuditInterval); err != nil {
			return err
		}
	}

	healthServer := health.NewServer(map[string]health.Check{
		"store": opened.ping,
		"chain": chain.Health,
	}, logger)
	healthListener, err := net.Listen("tcp", cfg.HealthListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HealthListenAddr, err)
	}

	logger.Info("wagerd starting",
		zap.String("treasury", treasury.String()),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("http_addr", cfg.HTTPListenAddr),
		zap.String("health_addr", cfg.HealthListenAddr))

	group.Go(func() error { return apiServer.Run(groupCtx) })
	group.Go(func() error { return healthServer.Serve(healthListener) })
	group.Go(func() error {
		healthServer.Watch(groupCtx, healthRefreshInterval)
		healthServer.Stop()
		return nil
	})
	group.Go(func() error { return jobs.Run(groupCtx) })

	runErr := group.Wait()
	logger.Info("shutdown requested; draining payouts")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := service.Shutdown(drainCtx); err != nil {
		logger.Warn("payouts still in flight at exit; the reconciler resolves them on restart", zap.Error(err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
