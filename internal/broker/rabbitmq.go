package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// deadLetterSuffix names the exchange and queue that hold rejected events
const deadLetterSuffix = ".dead"

// prefetch bounds unacknowledged deliveries per consumer
const prefetch = 16

// Config names the topology
type Config struct {
	URL      string
	Exchange string
	Queue    string
}

// RabbitMQClient publishes and consumes call lifecycle events on a topic
// exchange. Routing keys are the event types.
type RabbitMQClient struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

// NewRabbitMQClient connects and declares the exchange
func NewRabbitMQClient(cfg Config) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return &RabbitMQClient{
		cfg:     cfg,
		conn:    conn,
		channel: ch,
	}, nil
}

// PublishCallEvent publishes ev as a persistent message routed by its type
func (c *RabbitMQClient) PublishCallEvent(ctx context.Context, ev *domain.CallEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.PublishWithContext(ctx,
		c.cfg.Exchange,  // exchange
		string(ev.Type), // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.EventID,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}

	logger.Debug("Call event published",
		zap.String("type", string(ev.Type)),
		zap.String("call_id", ev.CallID))
	return nil
}

// ConsumeCallEvents declares the durable work queue bound to every call event
// and starts consuming with manual acks. Rejected deliveries go to the dead
// letter queue.
func (c *RabbitMQClient) ConsumeCallEvents(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dlx := c.cfg.Exchange + deadLetterSuffix
	if err := c.channel.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}
	dlq, err := c.channel.QueueDeclare(c.cfg.Queue+deadLetterSuffix, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := c.channel.QueueBind(dlq.Name, "", dlx, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	q, err := c.channel.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		amqp.Table{"x-dead-letter-exchange": dlx},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}

	if err := c.channel.QueueBind(q.Name, "call.*", c.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.ConsumeWithContext(ctx,
		q.Name,      // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// NotifyClose reports the connection closing
func (c *RabbitMQClient) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close closes the channel and the connection
func (c *RabbitMQClient) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Dial retries NewRabbitMQClient until it succeeds or ctx is done. The broker
// often starts after the services in local stacks.
func Dial(ctx context.Context, cfg Config, backoff time.Duration) (*RabbitMQClient, error) {
	for {
		client, err := NewRabbitMQClient(cfg)
		if err == nil {
			return client, nil
		}
		logger.Warn("RabbitMQ not ready, retrying", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(backoff):
		}
	}
}
