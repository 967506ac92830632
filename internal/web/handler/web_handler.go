package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/rizkirmdhn/teledl/internal/web/websocket"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus"
)

// Routing keys for the message exchanges
const (
	CommandsRoutingKey = "downloader.task"
	LogsRoutingKey     = events.LogRoutingKey
)

// Runner runs one job in process.
type Runner interface {
	Run(ctx context.Context, jobID string, opts app.Options, sink events.Sink) (*app.Report, error)
}

type Handler struct {
	cfg       *config.Config
	log       *logrus.Logger
	msgClient messaging.Client
	runner    Runner
	wsHub     *websocket.Hub
	jobs      *JobStore
	ctx       context.Context
}

// NewHandler creates the web handler. msgClient may be nil when RabbitMQ is
// not configured; jobs then always run in process. ctx bounds the lifetime
// of in-process jobs and of the log consumer.
func NewHandler(ctx context.Context, cfg *config.Config, log *logrus.Logger, msgClient messaging.Client, runner Runner, hub *websocket.Hub) *Handler {
	handler := &Handler{
		cfg:       cfg,
		log:       log,
		msgClient: msgClient,
		runner:    runner,
		wsHub:     hub,
		jobs:      NewJobStore(),
		ctx:       ctx,
	}

	if msgClient != nil {
		handler.setupRabbitMQConsumer()
	}

	return handler
}

// Jobs returns the job store.
func (h *Handler) Jobs() *JobStore {
	return h.jobs
}

// queued reports whether commands go to the queue instead of running here.
func (h *Handler) queued() bool {
	return h.msgClient != nil && h.cfg.WebPanel.Dispatch == config.DispatchQueue
}

// setupRabbitMQConsumer feeds job events from the log queue into the job
// store and the WebSocket clients.
func (h *Handler) setupRabbitMQConsumer() {
	rabbit := h.cfg.RabbitMq
	queueName := rabbit.Queue.LogQueue

	if err := h.msgClient.DeclareQueue(queueName); err != nil {
		h.log.WithError(err).Error("Failed to declare log queue")
		return
	}
	if err := h.msgClient.BindQueue(queueName, rabbit.Exchange.Log, LogsRoutingKey); err != nil {
		h.log.WithError(err).Error("Failed to bind log queue")
		return
	}

	err := h.msgClient.ConsumeWithContext(h.ctx, queueName, 1, h.handleLogMessage)
	if err != nil {
		h.log.WithError(err).Error("Failed to setup RabbitMQ consumer")
	}
}

func (h *Handler) handleLogMessage(message []byte, _ string) error {
	var event models.Event
	if err := json.Unmarshal(message, &event); err != nil {
		h.log.WithError(err).Error("Failed to unmarshal log message")
		return messaging.Reject(err)
	}

	h.jobs.Emit(event)
	h.wsHub.Emit(event)
	return nil
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.HealthHandler())
	r.GET("/ws", h.WebSocketHandler())

	// API endpoints
	api := r.Group("/api")
	{
		api.POST("/download", h.DownloadHandler())
		api.GET("/jobs", h.ListJobsHandler())
		api.GET("/jobs/:id", h.GetJobHandler())
	}
}

// WebSocketHandler returns the WebSocket connection handler
func (h *Handler) WebSocketHandler() gin.HandlerFunc {
	return websocket.WebSocketHandler(h.wsHub, h.log)
}

// HealthHandler reports that the panel is up and how jobs are dispatched.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dispatch := config.DispatchLocal
		if h.queued() {
			dispatch = config.DispatchQueue
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"dispatch": dispatch,
			"clients":  h.wsHub.Clients(),
		})
	}
}

// DownloadHandler accepts a DownloadCommand and starts or queues the job.
func (h *Handler) DownloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cmd models.DownloadCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		opts, err := app.OptionsFromCommand(h.cfg, cmd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		cmd.JobID = uuid.New().String()
		h.jobs.Create(cmd.JobID, cmd)

		if h.queued() {
			if err := h.publishCommand(c.Request.Context(), cmd); err != nil {
				h.log.WithError(err).Error("Failed to publish download command")
				h.jobs.Fail(cmd.JobID, err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to queue download",
				})
				return
			}
		} else {
			go h.runLocal(cmd.JobID, opts)
		}

		c.JSON(http.StatusAccepted, gin.H{"id": cmd.JobID})
	}
}

// runLocal runs a job in this process, feeding its events to the job store,
// the WebSocket clients and the log.
func (h *Handler) runLocal(id string, opts app.Options) {
	sink := events.Multi(h.jobs, h.wsHub, events.LogSink{Log: h.log})

	if _, err := h.runner.Run(h.ctx, id, opts, sink); err != nil {
		h.log.WithError(err).WithField("job", id).Error("Job failed")
		h.jobs.Fail(id, err)
	}
}

// ListJobsHandler returns every known job.
func (h *Handler) ListJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.jobs.List())
	}
}

// GetJobHandler returns one job.
func (h *Handler) GetJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.jobs.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("job %s not found", c.Param("id")),
			})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// publishCommand publishes a command to the task exchange
func (h *Handler) publishCommand(ctx context.Context, cmd models.DownloadCommand) error {
	return h.msgClient.PublishJSON(ctx, h.cfg.RabbitMq.Exchange.Task, CommandsRoutingKey, cmd)
}
