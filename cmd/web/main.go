package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/logger"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/rizkirmdhn/teledl/internal/web/handler"
	"github.com/rizkirmdhn/teledl/internal/web/websocket"
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

	// Print the Web panel configuration
	webCfg := cfg.GetWebPanelConfig()
	rabbitCfg := cfg.GetRabbitMQConfig()

	log.WithFields(logrus.Fields{
		"component": "web_main",
		"config":    fmt.Sprintf("%+v", *webCfg),
	}).Debug("Web panel configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// RabbitMQ is optional: without it every job runs in this process
	var msgClient messaging.Client
	if rabbitCfg.URL != "" {
		client, err := messaging.NewRabbitMQClient(rabbitCfg, log)
		if err != nil {
			log.WithFields(logrus.Fields{
				"component": "web_main",
				"error":     err,
			}).Fatal("Failed to create RabbitMQ client")
		}
		defer client.Close()
		msgClient = client
	} else if webCfg.Dispatch == config.DispatchQueue {
		log.WithField("component", "web_main").Warn("Queue dispatch requested without RabbitMQ, running jobs locally")
	}

	pipeline, err := app.New(cfg, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to create pipeline")
	}

	// Check environment
	if cfg.GetAppConfig().Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the gin router
	r := gin.Default()

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// Setup Handlers
	h := handler.NewHandler(ctx, cfg, log, msgClient, pipeline, hub)

	// Register routes
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    net.JoinHostPort(webCfg.Host, strconv.Itoa(webCfg.Port)),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Start the web server
	log.WithFields(logrus.Fields{
		"component": "web_main",
		"addr":      srv.Addr,
	}).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to start server")
	}
}
