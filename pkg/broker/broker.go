// Package broker holds the AMQP pieces shared by the consumer, the
// admin API and the operator CLI: queue declaration, the control
// protocol and a small publisher.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ControlQueue is the fixed queue for configuration updates.
const ControlQueue = "service_queue"

// CodeReload and DetailReload both mark a control message as a reload
// signal; either one suffices.
const (
	CodeReload   = 100
	DetailReload = "Update config"
)

// Control is the control-queue message shape. Data carries the new
// full configuration document on reload.
type Control struct {
	Code   int             `json:"code"`
	Detail string          `json:"detail"`
	Data   json.RawMessage `json:"data"`
}

// IsReload reports whether the message requests a configuration
// reload.
func (c *Control) IsReload() bool {
	return c.Code == CodeReload || c.Detail == DetailReload
}

// queueTTL applies to both the log queue and the control queue.
const queueTTL = int32(30000)

// Declare declares a queue with the service's standard properties:
// durable, not auto-deleted, 30 s message TTL. Publisher and consumer
// must declare identically or the broker rejects the second
// declaration.
func Declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-message-ttl": queueTTL},
	)
}

// Publisher sends JSON bodies to queues, dialing lazily and redialing
// after a dropped connection.
type Publisher struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

func (p *Publisher) ensureConnected() (*amqp.Channel, error) {
	if p.url == "" {
		return nil, errors.New("rabbitmq url is not configured")
	}
	if !strings.HasPrefix(p.url, "amqp://") && !strings.HasPrefix(p.url, "amqps://") {
		return nil, errors.New("rabbitmq url must start with 'amqp://' or 'amqps://'")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.channel, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	p.conn = conn
	p.channel = ch
	return ch, nil
}

// Publish declares the queue and sends body as application/json.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := p.ensureConnected()
	if err != nil {
		return err
	}
	if _, err := Declare(ch, queue); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// PublishControl sends a reload signal carrying the config document.
func (p *Publisher) PublishControl(ctx context.Context, config json.RawMessage) error {
	body, err := json.Marshal(Control{Code: CodeReload, Detail: DetailReload, Data: config})
	if err != nil {
		return err
	}
	return p.Publish(ctx, ControlQueue, body)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
