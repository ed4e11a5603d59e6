// Package main runs the wallet safety analysis service: the request
// gateway, the analysis workers, the periodic scheduler, and the ops HTTP
// server, all in one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/api"
	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/config"
	"github.com/txMaestro/web3safetykit/internal/gateway"
	"github.com/txMaestro/web3safetykit/internal/label"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/notify"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/scheduler"
	"github.com/txMaestro/web3safetykit/internal/service"
	"github.com/txMaestro/web3safetykit/internal/storage"
	"github.com/txMaestro/web3safetykit/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("web3safetykit worker starting")

	// Storage
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		log.Fatalf("failed to connect to ClickHouse: %v", err)
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := clickhouse.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure ClickHouse schema: %v", err)
	}

	// Repositories
	walletRepo := storage.NewWalletRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	requestRepo := storage.NewAPIRequestRepository(postgres)
	reportRepo := storage.NewReportRepository(postgres)
	labelRepo := storage.NewLabelRepository(postgres)
	contractRepo := storage.NewContractAnalysisRepository(postgres)
	linkTokenRepo := storage.NewLinkTokenRepository(postgres)
	txRepo := storage.NewTransactionRepository(clickhouse)
	guestCache := storage.NewGuestScanCache(redis)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Gateway: the single owner of all outbound explorer and AI traffic
	gw := gateway.New(
		requestRepo,
		[]gateway.Provider{
			gateway.NewEtherscanProvider(&cfg.Etherscan),
			gateway.NewGeminiProvider(&cfg.Gemini),
		},
		&cfg.Gateway,
		gateway.NewMetrics(registry),
	)
	go gw.Run(ctx)

	// Chain adapter and shared services
	adapter, err := chain.NewAdapter(gw, cfg.Chains.RPCURLs)
	if err != nil {
		log.Fatalf("failed to create chain adapter: %v", err)
	}

	labels := label.NewService(labelRepo, adapter)
	notifier := notify.New(notify.NewTelegramSink(cfg.Telegram.BotToken), linkTokenRepo)

	// Analysis pipeline: one worker per task type
	jobQueue := queue.New(jobRepo)
	pipeline := worker.NewPipeline(&worker.PipelineConfig{
		Queue:            jobQueue,
		Wallets:          walletRepo,
		Transactions:     txRepo,
		Reports:          reportRepo,
		Reader:           adapter,
		Labels:           labels,
		Notifier:         notifier,
		AI:               gw,
		InitialScanMaxTx: cfg.Scan.InitialScanMaxTx,
	})

	workers := pipeline.Workers(cfg.Scan.WorkerPoll)
	for _, w := range workers {
		w.Start(ctx)
	}
	log.Infof("%d analysis workers started", len(workers))

	// Periodic scheduler
	sched := scheduler.New(walletRepo, jobQueue, linkTokenRepo, cfg.Scan.Interval)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	// Ops server
	server := api.NewServer(&api.ServerConfig{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Requests:  requestRepo,
		Jobs:      jobQueue,
		Guest:     service.NewGuestScanService(adapter, guestCache),
		Contracts: service.NewContractService(adapter, contractRepo),
		Registry:  registry,
	})
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Error("ops server failed")
			cancel()
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop()
	for _, w := range workers {
		if err := w.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("worker did not stop cleanly")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("ops server did not stop cleanly")
	}
	cancel()

	log.Info("all components stopped")
}
