package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/telemetry"
)

// Client represents a NATS JetStream client
type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config *Config
	log    *logrus.Entry
}

// NewClient connects to NATS and makes sure the console and DLQ streams exist
func NewClient(config *Config) (*Client, error) {
	log := telemetry.Component("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	}

	if config.User != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Password))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		nc:     nc,
		js:     js,
		config: config,
		log:    log,
	}

	if err := client.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return client, nil
}

// initializeStreams creates or updates the JetStream streams
func (c *Client) initializeStreams() error {
	consoleStream := &nats.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Deployment console messages",
		Subjects:    []string{SubjectConsoleAll},
		Retention:   nats.LimitsPolicy,
		MaxAge:      c.config.StreamMaxAge,
		MaxBytes:    c.config.StreamMaxBytes,
		MaxMsgs:     c.config.StreamMaxMsgs,
		MaxMsgSize:  c.config.StreamMaxMsgSize,
		Replicas:    c.config.StreamReplicas,
		Duplicates:  5 * time.Minute,
		Storage:     nats.FileStorage,
	}
	if err := c.ensureStream(consoleStream); err != nil {
		return fmt.Errorf("failed to create/update console stream: %w", err)
	}

	dlqStream := &nats.StreamConfig{
		Name:        c.config.DLQStreamName,
		Description: "Console archive dead letters",
		Subjects:    []string{SubjectDLQAll},
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    c.config.StreamMaxBytes / 10,
		MaxMsgs:     c.config.StreamMaxMsgs / 10,
		MaxMsgSize:  c.config.StreamMaxMsgSize,
		Replicas:    c.config.StreamReplicas,
		Storage:     nats.FileStorage,
	}
	if err := c.ensureStream(dlqStream); err != nil {
		return fmt.Errorf("failed to create/update DLQ stream: %w", err)
	}

	return nil
}

func (c *Client) ensureStream(cfg *nats.StreamConfig) error {
	if _, err := c.js.AddStream(cfg); err != nil {
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

// PublishConsole publishes a console event on its deployment subject. The
// event ID is the JetStream message ID, so republishing within the
// duplicate window is a no-op.
func (c *Client) PublishConsole(ctx context.Context, ev *ConsoleEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal console event: %w", err)
	}

	msg := &nats.Msg{
		Subject: ConsoleSubject(ev.DeploymentID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("X-Deployment-ID", ev.DeploymentID)
	injectTrace(ctx, msg)

	return c.publish(ctx, msg)
}

func (c *Client) publish(ctx context.Context, msg *nats.Msg) error {
	pubAck, err := c.js.PublishMsgAsync(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}

	select {
	case <-pubAck.Ok():
		return nil
	case err := <-pubAck.Err():
		return fmt.Errorf("publish to %s failed: %w", msg.Subject, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// injectTrace propagates the active Datadog span through message headers
func injectTrace(ctx context.Context, msg *nats.Msg) {
	span, ok := tracer.SpanFromContext(ctx)
	if !ok {
		return
	}
	_ = tracer.Inject(span.Context(), tracer.HTTPHeadersCarrier(msg.Header))
}

// PublishNotice publishes a JSON notice on core NATS, outside JetStream
func (c *Client) PublishNotice(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return c.nc.PublishMsg(msg)
}

// CreateConsumer creates a durable pull consumer filtered to subject
func (c *Client) CreateConsumer(streamName, consumerName, subject string) (*nats.ConsumerInfo, error) {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.config.ConsumerAckWait,
		MaxDeliver:    c.config.ConsumerMaxDeliver,
		MaxAckPending: c.config.ConsumerMaxAckPending,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: subject,
	}

	info, err := c.js.AddConsumer(streamName, consumerConfig)
	if err != nil {
		info, err = c.js.UpdateConsumer(streamName, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create/update consumer: %w", err)
		}
	}

	return info, nil
}

// Consume fetches from a bound pull consumer and hands each message to
// handler until ctx is done. Ack and Nak are left to the handler.
func (c *Client) Consume(ctx context.Context, streamName, consumerName string, handler nats.MsgHandler) error {
	sub, err := c.js.PullSubscribe("", consumerName,
		nats.ManualAck(),
		nats.Bind(streamName, consumerName),
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := sub.Fetch(c.config.BatchSize, nats.MaxWait(c.config.BatchTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return err
			}
			c.log.WithError(err).Warn("error fetching messages")
			continue
		}

		for _, msg := range msgs {
			handler(msg)
		}
	}
}

// Health checks the NATS connection health
func (c *Client) Health() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}

	if _, err := c.js.AccountInfo(); err != nil {
		return fmt.Errorf("JetStream health check failed: %w", err)
	}

	return nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// StreamInfo returns information about a stream
func (c *Client) StreamInfo(streamName string) (*nats.StreamInfo, error) {
	return c.js.StreamInfo(streamName)
}

// ConsumerInfo returns information about a consumer
func (c *Client) ConsumerInfo(streamName, consumerName string) (*nats.ConsumerInfo, error) {
	return c.js.ConsumerInfo(streamName, consumerName)
}

// GetConfig returns the client configuration
func (c *Client) GetConfig() *Config {
	return c.config
}

// Conn returns the underlying NATS connection
func (c *Client) Conn() *nats.Conn {
	return c.nc
}
