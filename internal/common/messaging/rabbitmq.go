package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. Returning an error wrapped with Reject drops
// the message; any other error requeues it.
type Handler func(body []byte, routingKey string) error

// Client defines the messaging client interface
type Client interface {
	// PublishJSON publishes a JSON message to the exchange with the given routing key
	PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}) error

	// DeclareQueue declares a queue with the given name
	DeclareQueue(name string) error

	// BindQueue binds a queue to an exchange with the given routing key
	BindQueue(queueName, exchange, routingKey string) error

	// ConsumeWithContext consumes messages from the given queue until ctx is
	// done, running handler on up to workers messages at once
	ConsumeWithContext(ctx context.Context, queueName string, workers int, handler Handler) error

	// Close closes the connection
	Close() error
}

type rejectError struct{ err error }

func (e *rejectError) Error() string { return e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Reject marks err as permanent: the message is dropped instead of requeued.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &rejectError{err: err}
}

// IsReject reports whether err was produced by Reject.
func IsReject(err error) bool {
	var r *rejectError
	return errors.As(err, &r)
}

// RabbitMQClient implements the Client interface using RabbitMQ
type RabbitMQClient struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	log     *logrus.Logger
	closed  bool
}

// NewRabbitMQClient creates a new RabbitMQ client
func NewRabbitMQClient(config *config.RabbitMQConfig, log *logrus.Logger) (*RabbitMQClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}

	if config.Exchange.Task == "" || config.Exchange.Log == "" {
		return nil, fmt.Errorf("rabbitmq exchange names are required")
	}

	client := &RabbitMQClient{
		config: config,
		log:    log,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// GetConfig returns the RabbitMQ configuration the client was built with
func (c *RabbitMQClient) GetConfig() *config.RabbitMQConfig {
	return c.config
}

// connect establishes a connection to RabbitMQ
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	for _, exchange := range []string{c.config.Exchange.Task, c.config.Exchange.Log} {
		err = channel.ExchangeDeclare(
			exchange, // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	// Set up connection recovery
	go c.handleReconnect(conn)

	return nil
}

// handleReconnect attempts to reconnect to RabbitMQ when the connection is lost
func (c *RabbitMQClient) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		// Closed on purpose.
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.log.WithError(err).Warn("RabbitMQ connection closed, attempting to reconnect")

	for i := 0; i < c.config.ReconnectRetries; i++ {
		time.Sleep(c.config.ReconnectTimeout)

		if err := c.connect(); err == nil {
			c.log.Info("Successfully reconnected to RabbitMQ")
			return
		}

		c.log.WithFields(logrus.Fields{
			"attempt": i + 1,
			"retries": c.config.ReconnectRetries,
		}).Warn("Failed to reconnect to RabbitMQ")
	}

	c.log.Error("Failed to reconnect to RabbitMQ after multiple attempts")
}

func (c *RabbitMQClient) ch() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.closed {
		return nil, fmt.Errorf("rabbitmq channel is not open")
	}
	return c.channel, nil
}

// PublishJSON publishes a JSON message to the exchange with the given routing key
func (c *RabbitMQClient) PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON message: %w", err)
	}

	ch, err := c.ch()
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	c.mu.Lock()
	defer c.mu.Unlock()

	return ch.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DeclareQueue declares a queue with the given name
func (c *RabbitMQClient) DeclareQueue(name string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)

	return err
}

// BindQueue binds a queue to an exchange with the given routing key
func (c *RabbitMQClient) BindQueue(queueName, exchange, routingKey string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}

	return ch.QueueBind(
		queueName,  // queue name
		routingKey, // routing key
		exchange,   // exchange
		false,      // no-wait
		nil,        // arguments
	)
}

// ConsumeWithContext consumes messages from the given queue with context support.
// Each of the workers goroutines takes deliveries from the same channel, and a
// message is acknowledged only after its handler returns.
func (c *RabbitMQClient) ConsumeWithContext(ctx context.Context, queueName string, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	// Ensure queue exists
	if err := c.DeclareQueue(queueName); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	ch, err := c.ch()
	if err != nil {
		return err
	}

	// Do not hand out more unacknowledged messages than there are workers
	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// Set up consumer
	msgs, err := ch.ConsumeWithContext(ctx,
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	// Process messages
	for i := 0; i < workers; i++ {
		go c.consume(ctx, queueName, i, msgs, handler)
	}

	return nil
}

func (c *RabbitMQClient) consume(ctx context.Context, queueName string, workerID int, msgs <-chan amqp.Delivery, handler Handler) {
	log := c.log.WithFields(logrus.Fields{
		"queue":     queueName,
		"worker_id": workerID,
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug("Consumer stopped due to context cancellation")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("Consumer channel closed")
				return
			}

			err := handler(msg.Body, msg.RoutingKey)
			switch {
			case err == nil:
				msg.Ack(false)
			case IsReject(err):
				log.WithError(err).Warn("Dropping message")
				msg.Nack(false, false)
			default:
				log.WithError(err).Error("Error processing message")
				// Negative acknowledgement, message will be requeued
				msg.Nack(false, true)
			}
		}
	}
}

// Close closes the connection and channel
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
