// Package events publishes deployment outcomes to a RabbitMQ queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

const DefaultQueue = "deployment_events"

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Queue    string
}

// URL returns the AMQP connection string for cfg.
func (c Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Username, c.Password, c.Host, c.Port)
}

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	ch    Channel
	conn  *amqp.Connection
	queue string
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Dial connects to RabbitMQ and declares the durable event queue.
func Dial(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	p, err := New(ch, cfg.Queue, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// New declares queue on ch and returns a publisher bound to it.
func New(ch Channel, queue string, logger zerolog.Logger) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &Publisher{
		ch:    ch,
		queue: queue,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger.With().Str("component", "events").Str("queue", queue).Logger(),
	}, nil
}

// Publish sends event as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, event models.DeploymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode deployment event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    p.newID(),
		Timestamp:    p.now(),
		Type:         "deployment." + string(event.Status),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish deployment event: %w", err)
	}
	p.log.Debug().Str("message_id", msg.MessageId).Str("nonce", event.Nonce).Msg("published deployment event")
	return nil
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
