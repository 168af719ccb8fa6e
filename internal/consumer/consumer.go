// Package consumer owns the broker subscriptions and the service
// lifecycle: consume, validate, fan out, ack, and rebuild everything
// on a configuration reload.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/user/logfan"
	"github.com/user/logfan/internal/config"
	"github.com/user/logfan/pkg/broker"
	"github.com/user/logfan/pkg/validate"
)

// State is the consumer lifecycle phase.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Reloading
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Reloading:
		return "reloading"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// StartError wraps any failure while building sinks or attaching the
// broker subscriptions.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("consumer start: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

const (
	shutdownTimeout = 30 * time.Second
	maxReconnect    = 30 * time.Second

	// maxStartAttempts bounds consecutive start failures before the
	// error surfaces to the supervisor.
	maxStartAttempts = 10
)

// Consumer drives the ingestion pipeline from the current config
// snapshot. A reload signal tears the whole session down, applies the
// new document and starts over; enqueued logs survive because the
// queues are durable and unacked deliveries are redelivered.
//
// Sinks are owned by the consumer, not by the broker session: a
// transport failure redials and re-attaches the subscriptions while
// every sink (and the file sink's per-project state) stays live.
// Sinks are closed only on reload and shutdown.
type Consumer struct {
	manager *config.Manager
	logger  logfan.Logger
	state   atomic.Int32
	sinks   []namedSink

	// retryDelay overrides the initial reconnect backoff in tests.
	retryDelay time.Duration
}

func New(manager *config.Manager, logger logfan.Logger) *Consumer {
	return &Consumer{manager: manager, logger: logger}
}

// State returns the current lifecycle phase.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("consumer state", "state", s.String())
}

// session is one broker attachment: connection, channel and the two
// subscriptions. Torn down as a unit; sinks are not part of it.
type session struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logs    <-chan amqp.Delivery
	control <-chan amqp.Delivery
}

// Run loops start → serve until ctx is canceled. Transport failures
// close only the broker session and reconnect with exponential
// backoff; a reload signal additionally closes the sinks and re-enters
// start with the new config. Persistent start failures exhaust the
// retry budget and surface to the caller.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(Stopped)
	defer c.closeSinks()
	delay := c.startDelay()
	attempts := 0

	for {
		c.setState(Starting)
		sess, err := c.start(ctx)
		if err != nil {
			if attempts++; attempts >= maxStartAttempts {
				c.logger.Error("consumer start retries exhausted", "attempts", attempts, "error", err)
				return err
			}
			c.logger.Error("consumer start failed", "error", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxReconnect {
				delay = maxReconnect
			}
			continue
		}
		delay = c.startDelay()
		attempts = 0
		c.setState(Running)

		reload, data, serveErr := c.serve(ctx, sess)
		switch {
		case ctx.Err() != nil:
			c.setState(Stopping)
			c.closeBroker(sess)
			return nil
		case reload:
			c.setState(Reloading)
			c.closeBroker(sess)
			c.closeSinks()
			if err := c.manager.Apply(data); err != nil {
				c.logger.Error("reload rejected, keeping current config", "error", err)
			} else {
				c.logger.Info("configuration reloaded")
			}
		default:
			// A broker blip must not disturb sink state: no footers, no
			// rotation, the next session writes to the same files.
			c.logger.Error("consumer connection lost, reconnecting", "error", serveErr)
			c.closeBroker(sess)
		}
	}
}

func (c *Consumer) startDelay() time.Duration {
	if c.retryDelay > 0 {
		return c.retryDelay
	}
	return time.Second
}

// start ensures sinks exist (they survive reconnects; only a reload or
// shutdown discards them), opens the broker connection and attaches
// both subscriptions. Broker partials are torn down on any error.
func (c *Consumer) start(ctx context.Context) (*session, error) {
	cfg := c.manager.Get()

	if c.sinks == nil {
		sinks, err := c.buildSinks(ctx, cfg)
		if err != nil {
			return nil, &StartError{Err: err}
		}
		c.sinks = sinks
	}
	sess := &session{}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL())
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("dial broker: %w", err)}
	}
	sess.conn = conn

	ch, err := conn.Channel()
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("open channel: %w", err)}
	}
	sess.channel = ch

	if err := ch.Qos(cfg.RabbitMQ.Prefetch, 0, false); err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("set prefetch: %w", err)}
	}

	logQueue, err := broker.Declare(ch, cfg.RabbitMQ.Queue)
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("declare log queue: %w", err)}
	}
	controlQueue, err := broker.Declare(ch, broker.ControlQueue)
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("declare control queue: %w", err)}
	}

	sess.logs, err = ch.Consume(logQueue.Name, "logfan-logs-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("consume log queue: %w", err)}
	}
	sess.control, err = ch.Consume(controlQueue.Name, "logfan-control-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		c.closeBroker(sess)
		return nil, &StartError{Err: fmt.Errorf("consume control queue: %w", err)}
	}

	c.logger.Info("consumer attached",
		"queue", cfg.RabbitMQ.Queue, "prefetch", cfg.RabbitMQ.Prefetch, "sinks", len(c.sinks))
	return sess, nil
}

// serve pumps both subscriptions until cancellation, a reload signal
// or a transport failure.
func (c *Consumer) serve(ctx context.Context, sess *session) (reload bool, data json.RawMessage, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil, ctx.Err()
		case d, ok := <-sess.logs:
			if !ok {
				return false, nil, fmt.Errorf("log subscription closed")
			}
			c.handleRecord(ctx, d, c.sinks)
		case d, ok := <-sess.control:
			if !ok {
				return false, nil, fmt.Errorf("control subscription closed")
			}
			if reload, data := c.handleControl(d); reload {
				return true, data, nil
			}
		}
	}
}

// handleRecord validates the delivery and fans it out. Each sink call
// is isolated: a failing sink is logged and never blocks the others.
// The ack happens after every enabled sink has returned; decode
// failures are acked and dropped.
func (c *Consumer) handleRecord(ctx context.Context, d amqp.Delivery, sinks []namedSink) {
	rec, err := validate.Validate(d.Body)
	if err != nil {
		c.logger.Warn("record rejected", "error", err)
		c.ack(d)
		return
	}

	for _, s := range sinks {
		if err := s.sink.Write(ctx, rec); err != nil {
			c.logger.Error("sink write failed", "sink", s.name, "project", rec.Project, "error", err)
		}
	}
	c.ack(d)
}

// handleControl decodes a control message and reports whether it is a
// reload signal. Unknown codes are logged and ignored.
func (c *Consumer) handleControl(d amqp.Delivery) (bool, json.RawMessage) {
	defer c.ack(d)

	var ctrl broker.Control
	if err := json.Unmarshal(d.Body, &ctrl); err != nil {
		c.logger.Warn("control message rejected", "error", err)
		return false, nil
	}
	if !ctrl.IsReload() {
		c.logger.Info("control message ignored", "code", ctrl.Code, "detail", ctrl.Detail)
		return false, nil
	}
	return true, ctrl.Data
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "error", err)
	}
}

// closeBroker drops the subscriptions and the connection. Errors are
// logged by the library; nothing here touches the sinks.
func (c *Consumer) closeBroker(sess *session) {
	if sess.channel != nil {
		sess.channel.Close()
		sess.channel = nil
	}
	if sess.conn != nil {
		sess.conn.Close()
		sess.conn = nil
	}
}

// closeSinks closes every sink under the shutdown deadline. The file
// sink's footer phase runs inside its Close. Errors are logged, never
// raised.
func (c *Consumer) closeSinks() {
	if c.sinks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range c.sinks {
		if err := s.sink.Close(ctx); err != nil {
			c.logger.Error("sink close failed", "sink", s.name, "error", err)
		}
	}
	c.sinks = nil
}
