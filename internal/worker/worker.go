// Package worker runs download commands taken from RabbitMQ.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus"
)

// Routing keys on the task and log exchanges.
const (
	RoutingTaskDownload = "downloader.task"
	RoutingLogDownload  = events.LogRoutingKey
)

// Runner runs one job.
type Runner interface {
	Run(ctx context.Context, jobID string, opts app.Options, sink events.Sink) (*app.Report, error)
}

// Worker consumes DownloadCommands and publishes the events of each job.
type Worker struct {
	cfg    *config.Config
	log    *logrus.Logger
	client messaging.Client
	runner Runner

	cancelFunc context.CancelFunc
}

// NewWorker creates a Worker.
func NewWorker(cfg *config.Config, log *logrus.Logger, client messaging.Client, runner Runner) *Worker {
	return &Worker{
		cfg:    cfg,
		log:    log,
		client: client,
		runner: runner,
	}
}

// Start declares the queues and starts consuming with cfg.Worker.Jobs jobs
// at once.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	if err := w.setupMessaging(); err != nil {
		cancel()
		return fmt.Errorf("failed to setup messaging: %w", err)
	}

	queue := w.cfg.RabbitMq.Queue.DownloaderQueue
	if err := w.client.ConsumeWithContext(ctx, queue, w.cfg.Worker.Jobs, func(msg []byte, routingKey string) error {
		w.log.WithFields(logrus.Fields{
			"routing_key": routingKey,
			"message":     string(msg),
		}).Debug("Received command message")
		return w.handleCommand(ctx, msg)
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to consume commands: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"queue": queue,
		"jobs":  w.cfg.Worker.Jobs,
	}).Info("Downloader worker started successfully")
	return nil
}

// Stop cancels running jobs. Their messages are requeued.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
		w.cancelFunc = nil
	}
	w.log.WithField("component", "worker").Info("Downloader worker stopped")
}

// setupMessaging declares the command and log queues and binds them.
func (w *Worker) setupMessaging() error {
	rabbit := w.cfg.RabbitMq
	queues := []struct {
		name       string
		exchange   string
		routingKey string
	}{
		{rabbit.Queue.DownloaderQueue, rabbit.Exchange.Task, RoutingTaskDownload},
		{rabbit.Queue.LogQueue, rabbit.Exchange.Log, RoutingLogDownload},
	}

	for _, q := range queues {
		if err := w.client.DeclareQueue(q.name); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		if err := w.client.BindQueue(q.name, q.exchange, q.routingKey); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}
	return nil
}

// handleCommand runs one command. Malformed commands are rejected; a job
// that fails on its own is acknowledged since running it again would not
// help. Only a job interrupted by shutdown is requeued.
func (w *Worker) handleCommand(ctx context.Context, msg []byte) error {
	var cmd models.DownloadCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return messaging.Reject(fmt.Errorf("failed to unmarshal command: %w", err))
	}

	opts, err := app.OptionsFromCommand(w.cfg, cmd)
	if err != nil {
		return messaging.Reject(fmt.Errorf("invalid command: %w", err))
	}
	if cmd.JobID == "" {
		cmd.JobID = uuid.New().String()
	}

	log := w.log.WithFields(logrus.Fields{
		"component": "worker",
		"job":       cmd.JobID,
		"link":      cmd.Link,
	})
	log.Info("Starting job")

	sink := events.Multi(
		events.LogSink{Log: w.log},
		events.PublisherSink{
			Client:   w.client,
			Exchange: w.cfg.RabbitMq.Exchange.Log,
			Log:      w.log,
		},
	)

	report, err := w.runner.Run(ctx, cmd.JobID, opts, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		log.WithError(err).Error("Job failed")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.WithFields(logrus.Fields{
		"downloaded": report.Stats.Downloaded,
		"skipped":    report.Stats.Skipped,
		"failed":     report.Stats.Failed,
	}).Info("Job finished")
	return nil
}
