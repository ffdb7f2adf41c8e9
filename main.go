package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookflow/config"
	"bookflow/exchange"
	"bookflow/logger"
	"bookflow/processor"
	"bookflow/reader"
	"bookflow/report"
	"bookflow/store"
	"bookflow/writer"
)

func main() {
	log := logger.New()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Bookflow.Name,
		"version": cfg.Bookflow.Version,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		log.EnableCloudWatch(ctx, cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	exchangeClient := exchange.NewClient(cfg.Exchange, log)
	bucketStore := store.NewClient(cfg.Store, log)
	aggregator := processor.NewAggregator(bucketStore, cfg.Aggregator.BucketWidth, log)
	selector := processor.NewSelector(bucketStore, log)

	ingestor := reader.NewIngestor(
		cfg.Ingest,
		cfg.Exchange.StreamURL,
		cfg.Aggregator.DepthLimit,
		exchangeClient,
		aggregator,
		selector,
		log,
	)

	var archiver *writer.Archiver
	if cfg.Archive.Enabled {
		archiver, err = writer.NewArchiver(cfg, bucketStore, log)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archiving disabled; skipping archiver")
	}

	reportServer := report.NewServer(cfg.Report, exchangeClient, log)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestor.Start(ctx); err != nil {
			log.WithError(err).Warn("ingestor failed to start")
		}
	}()

	if archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiver.Start(ctx); err != nil {
				log.WithError(err).Warn("archiver failed to start")
			}
		}()
	}

	if reportServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reportServer.Run(ctx); err != nil {
				log.WithError(err).Warn("report server exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if archiver != nil {
		log.Info("stopping archiver")
		archiver.Stop()
	}

	log.Info("stopping ingestor")
	ingestor.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("bookflow stopped")
}
