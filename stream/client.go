// Package stream subscribes to the deployment event websocket and feeds raw
// frames to a handler, reconnecting with exponential backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/imranansari/gh-deploy-monitor/config"
	"github.com/imranansari/gh-deploy-monitor/logging"
)

const writeTimeout = 10 * time.Second

// Handler consumes frames for one subscription. Reconnected is called after a
// successful reconnect, before any frame from the new connection.
type Handler interface {
	HandleMessage(data []byte) bool
	Reconnected()
}

// ReconnectRecorder counts successful reconnects.
type ReconnectRecorder interface {
	StreamReconnected()
}

type subscribeMessage struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
	ClientID     string `json:"client_id"`
	UserID       string `json:"user_id,omitempty"`
}

type pingMessage struct {
	Type string `json:"type"`
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithStatusListener is called on every connection status transition.
func WithStatusListener(fn func(ConnectionStatus)) Option {
	return func(c *Client) { c.onStatus = fn }
}

func WithReconnectRecorder(r ReconnectRecorder) Option {
	return func(c *Client) { c.reconnects = r }
}

// Client manages one websocket subscription at a time.
type Client struct {
	cfg        config.StreamConfig
	dialer     *websocket.Dialer
	tokens     TokenSource
	logger     zerolog.Logger
	onStatus   func(ConnectionStatus)
	reconnects ReconnectRecorder

	mu     sync.RWMutex
	status ConnectionStatus
}

// New builds a client from configuration. A JWT secret takes precedence over a
// static token; with neither the dial carries no Authorization header.
func New(cfg config.StreamConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream URL is required")
	}
	c := &Client{
		cfg:    cfg,
		logger: logging.StreamLogger(),
		status: StatusDisconnected,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	switch {
	case cfg.JWTSecret != "":
		src, err := NewJWTSource(cfg.JWTSecret, cfg.UserID, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		c.tokens = src
	case cfg.Token != "":
		c.tokens = StaticToken(cfg.Token)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Info().Str("status", s.String()).Msg("Stream connection status changed")
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// Run subscribes to deploymentID and delivers frames to h until ctx is done or
// the retry budget is spent. It returns ctx.Err() on cancellation.
func (c *Client) Run(ctx context.Context, deploymentID string, h Handler) error {
	attempt := 0
	everConnected := false

	for {
		if everConnected {
			c.setStatus(StatusReconnecting)
		} else {
			c.setStatus(StatusConnecting)
		}

		connected, err := c.session(ctx, deploymentID, h, everConnected)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if connected {
			everConnected = true
			attempt = 0
		}
		attempt++

		if c.cfg.Reconnect.MaxRetries > 0 && attempt > c.cfg.Reconnect.MaxRetries {
			c.setStatus(StatusDisconnected)
			return fmt.Errorf("stream gave up after %d attempts: %w", attempt-1, err)
		}

		delay := Backoff(c.cfg.Reconnect, attempt)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Stream connection lost")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Backoff returns the delay before retry attempt n (1-based): initial*multiplier^(n-1)
// capped at the configured maximum.
func Backoff(cfg config.BackoffConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		return cfg.MaxBackoff
	}
	return time.Duration(d)
}

// session runs one connection. connected reports whether the subscribe handshake succeeded.
func (c *Client) session(ctx context.Context, deploymentID string, h Handler, resumed bool) (connected bool, err error) {
	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return false, fmt.Errorf("stream token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %s: %w", c.cfg.URL, resp.Status, err)
		}
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// unblock ReadMessage on cancellation
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	w := &writer{conn: conn}
	sub := subscribeMessage{
		Type:         "subscribe",
		DeploymentID: deploymentID,
		ClientID:     uuid.NewString(),
		UserID:       c.cfg.UserID,
	}
	if err := w.writeJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	c.setStatus(StatusConnected)
	c.logger.Info().
		Str("deployment_id", deploymentID).
		Str("client_id", sub.ClientID).
		Bool("resumed", resumed).
		Msg("Subscribed to deployment events")

	if resumed {
		if c.reconnects != nil {
			c.reconnects.StreamReconnected()
		}
		h.Reconnected()
	}

	if c.cfg.PingInterval > 0 {
		go c.pingLoop(w, done)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		h.HandleMessage(data)
	}
}

func (c *Client) pingLoop(w *writer, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.writeJSON(pingMessage{Type: "ping"}); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// writer serializes writes; gorilla connections allow one concurrent writer.
type writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *writer) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(v)
}
