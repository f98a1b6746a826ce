// ABOUTME: NATS client wrapper for scan request subscriptions and outcome publishing
// ABOUTME: Handles connection, queue-group subscription, bounded concurrency and draining

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/observability"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// NATS server URL.
	URL string

	// Subject to subscribe to for scan requests.
	Subject string

	// Subject outcomes are published on; empty disables publishing.
	OutcomeSubject string

	// Queue group name for load balancing.
	QueueGroup string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration

	// RequestTimeout bounds one scan request, including polling.
	RequestTimeout time.Duration

	// MaxConcurrent scans handled at once by this instance.
	MaxConcurrent int
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Subject:        "hikmaai.sentinel.scan",
		OutcomeSubject: "hikmaai.sentinel.outcomes",
		QueueGroup:     "sentinel-workers",
		Name:           "hikmaai-sentinel",
		MaxReconnects:  -1, // Unlimited.
		ReconnectWait:  2 * time.Second,
		RequestTimeout: 3 * time.Minute,
		MaxConcurrent:  8,
	}
}

// Client wraps the NATS connection and subscription.
type Client struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	config NATSConfig
	logger *slog.Logger

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

// NewClient creates a new NATS client with the given configuration.
func NewClient(cfg NATSConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &Client{
		config: cfg,
		logger: logger.With(slog.String("component", "nats")),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS error", slog.Any("error", err), slog.String("subject", subject))
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c.conn = conn
	c.logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)
	return nil
}

// Subscribe starts passing scan requests to handler. Each request runs in
// its own goroutine, at most MaxConcurrent at a time; ctx bounds them all.
func (c *Client) Subscribe(ctx context.Context, handler *Handler) error {
	if c.conn == nil {
		return errors.New("not connected to NATS")
	}
	if handler == nil {
		return errors.New("scan handler is required")
	}

	sub, err := c.conn.QueueSubscribe(c.config.Subject, c.config.QueueGroup, func(msg *nats.Msg) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.replyError(msg, "", "service shutting down")
			return
		}
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			defer c.sem.Release(1)
			c.handleMessage(ctx, handler, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.sub = sub
	c.logger.Info("subscribed to NATS",
		slog.String("subject", c.config.Subject),
		slog.String("queue", c.config.QueueGroup),
	)
	return nil
}

// handleMessage processes an incoming NATS message.
func (c *Client) handleMessage(ctx context.Context, handler *Handler, msg *nats.Msg) {
	ctx = observability.WithCorrelationID(ctx, observability.ParseCorrelationID(headerValue(msg, observability.CorrelationIDHeader)))
	ctx, span := observability.StartSpan(ctx, "nats.handle_message")
	defer span.End()

	var req ScanRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logger.ErrorContext(ctx, "failed to parse scan request", slog.Any("error", err))
		c.replyError(msg, "", "invalid request format: "+err.Error())
		return
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	resp := handler.ProcessRequest(ctx, req)
	c.reply(ctx, msg, resp)

	c.logger.InfoContext(ctx, "processed scan request",
		slog.String("request_id", req.RequestID),
		slog.String("session_id", resp.SessionID),
		slog.String("scan_type", resp.ScanType),
		slog.String("status", resp.Status),
		slog.Float64("duration_ms", resp.DurationMs),
	)
}

func (c *Client) reply(ctx context.Context, msg *nats.Msg, resp ScanResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal response", slog.Any("error", err))
		return
	}

	out := nats.NewMsg(msg.Reply)
	out.Data = data
	if id := observability.FromContext(ctx); id != "" {
		out.Header.Set(observability.CorrelationIDHeader, id.String())
	}
	if err := msg.RespondMsg(out); err != nil {
		c.logger.ErrorContext(ctx, "failed to send reply",
			slog.Any("error", err),
			slog.String("request_id", resp.RequestID),
		)
	}
}

// replyError sends an error response.
func (c *Client) replyError(msg *nats.Msg, requestID, errMsg string) {
	c.reply(context.Background(), msg, ScanResponse{
		RequestID: requestID,
		Status:    StatusError,
		Error:     errMsg,
		ScannedAt: time.Now().UTC(),
	})
}

// Publisher returns an outcome publisher on this connection, or nil when
// publishing is disabled or the client is not connected.
func (c *Client) Publisher() *OutcomePublisher {
	if c.conn == nil || c.config.OutcomeSubject == "" {
		return nil
	}
	return NewOutcomePublisher(c.conn, c.config.OutcomeSubject, c.logger)
}

// Close drains the subscription, waits for in-flight requests, then closes
// the connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", slog.Any("error", err))
		}
	}
	c.inflight.Wait()

	if c.conn != nil {
		if err := c.conn.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to flush", slog.Any("error", err))
		}
		c.conn.Close()
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// MsgPublisher is the subset of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// OutcomePublisher announces recorded outcomes so other views can refresh.
type OutcomePublisher struct {
	conn    MsgPublisher
	subject string
	logger  *slog.Logger
}

// NewOutcomePublisher creates a publisher for subject.
func NewOutcomePublisher(conn MsgPublisher, subject string, logger *slog.Logger) *OutcomePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomePublisher{conn: conn, subject: subject, logger: logger}
}

// NotifyOutcome publishes the outcome, carrying the correlation id as a header.
func (p *OutcomePublisher) NotifyOutcome(ctx context.Context, outcome *types.ScanOutcome) error {
	if outcome == nil {
		return errors.New("nil outcome")
	}
	data, err := json.Marshal(NewOutcomeMessage(outcome))
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	if id := observability.FromContext(ctx); id != "" {
		msg.Header.Set(observability.CorrelationIDHeader, id.String())
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing outcome: %w", err)
	}
	p.logger.DebugContext(ctx, "outcome published",
		slog.String("subject", p.subject),
		slog.String("outcome_id", outcome.ID),
	)
	return nil
}

func headerValue(msg *nats.Msg, key string) string {
	if msg.Header == nil {
		return ""
	}
	return msg.Header.Get(key)
}
