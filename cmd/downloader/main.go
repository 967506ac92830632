package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/logger"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/rizkirmdhn/teledl/internal/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load the configuration
	cfg, err := config.Load("", nil)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg)

	// Print the Downloader configuration
	log.WithFields(logrus.Fields{
		"component": "downloader_main",
		"config":    fmt.Sprintf("%+v", *cfg.GetDownloaderConfig()),
	}).Debug("Downloader configuration loaded")

	// Initialize RabbitMQ connection
	messageClient, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "downloader_main",
			"error":     err,
		}).Fatal("Failed to initialize RabbitMQ")
	}
	defer messageClient.Close()

	pipeline, err := app.New(cfg, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "downloader_main",
			"error":     err,
		}).Fatal("Failed to create pipeline")
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the Downloader worker
	w := worker.NewWorker(cfg, log, messageClient, pipeline)

	// Start the worker
	if err := w.Start(ctx); err != nil {
		log.WithFields(logrus.Fields{
			"component": "downloader_main",
			"error":     err,
		}).Fatal("Failed to start Downloader worker")
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a termination signal
	sig := <-sigCh
	log.WithFields(logrus.Fields{
		"component": "downloader_main",
		"signal":    sig,
	}).Info("Received signal, shutting down")

	w.Stop()
}
