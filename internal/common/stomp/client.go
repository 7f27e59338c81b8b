// Package stomp keeps a STOMP-over-WebSocket subscription alive, reconnecting
// with bounded exponential backoff.
package stomp

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"

	"github.com/cenkalti/backoff/v4"
	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

const disconnectTimeout = 2 * time.Second

// Handler receives the body of each message on the subscribed destination.
type Handler func(body []byte)

// StateFunc is told about every connected/disconnected transition. err is set
// when the transition was caused by a failure.
type StateFunc func(connected bool, err error)

// BackoffConfig controls reconnect pacing. MaxAttempts of 0 retries forever.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

// Options configures a Client.
type Options struct {
	URL              string
	Destination      string
	Host             string
	Origin           string
	Token            string
	HandshakeTimeout time.Duration
	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration
	Backoff          BackoffConfig
	Debug            bool

	// Dialer overrides the default WebSocket dialer.
	Dialer *websocket.Dialer
}

// Client runs one subscription at a time. It is not reusable across Run calls
// from different goroutines.
type Client struct {
	opts    Options
	log     logger.Logger
	handler Handler
	onState StateFunc
}

func NewClient(opts Options, handler Handler, onState StateFunc, log logger.Logger) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	if onState == nil {
		onState = func(bool, error) {}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		opts:    opts,
		log:     log.WithFields(map[string]interface{}{"component": "stomp", "destination": opts.Destination}),
		handler: handler,
		onState: onState,
	}
}

// Run connects, subscribes and reconnects until ctx is cancelled or the
// attempt budget runs out. It returns nil on cancellation and the last
// connection error otherwise.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		attempts++
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			b.Reset()
			attempts = 1
		}

		if limit := c.opts.Backoff.MaxAttempts; limit > 0 && attempts >= limit {
			c.log.Warn("Giving up on push channel", map[string]interface{}{
				"attempts": attempts,
				"error":    err,
			})
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		c.log.Info("Reconnecting push channel", map[string]interface{}{
			"attempt": attempts,
			"wait":    wait.String(),
			"error":   err,
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	cfg := c.opts.Backoff
	eb := backoff.NewExponentialBackOff()
	if cfg.Initial > 0 {
		eb.InitialInterval = cfg.Initial
	}
	if cfg.Max > 0 {
		eb.MaxInterval = cfg.Max
	}
	if cfg.Multiplier > 0 {
		eb.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter >= 0 && cfg.Jitter <= 1 {
		eb.RandomizationFactor = cfg.Jitter
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// session performs one dial/handshake/subscribe cycle and blocks while
// messages flow. established reports whether the handshake completed.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.Origin != "" {
		header.Set("Origin", c.opts.Origin)
	}

	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.onState(false, err)
		return false, apperrors.NewHandshakeFailedError(err)
	}

	stream := newStream(ws, c.log, c.opts.Debug)
	// Unblocks the STOMP handshake if the caller gives up mid-way.
	stopHandshakeWatch := context.AfterFunc(ctx, func() { _ = stream.Close() })

	_ = ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	conn, err := gostomp.Connect(stream, c.connectOptions()...)
	if err != nil {
		stopHandshakeWatch()
		_ = stream.Close()
		c.onState(false, err)
		return false, apperrors.NewHandshakeFailedError(err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	sub, err := conn.Subscribe(c.opts.Destination, gostomp.AckAuto)
	if !stopHandshakeWatch() || err != nil {
		if err == nil {
			err = ctx.Err()
		}
		_ = conn.MustDisconnect()
		_ = stream.Close()
		c.onState(false, err)
		return false, apperrors.NewHandshakeFailedError(err)
	}

	c.log.Info("Push channel connected", map[string]interface{}{
		"url":     c.opts.URL,
		"version": string(conn.Version()),
	})
	c.onState(true, nil)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(conn, stream)
			c.onState(false, nil)
			return true, nil

		case msg, ok := <-sub.C:
			if !ok {
				err := errors.New("subscription closed by server")
				_ = stream.Close()
				c.onState(false, err)
				return true, apperrors.NewTransportError(err)
			}
			if msg.Err != nil {
				_ = stream.Close()
				c.onState(false, msg.Err)
				return true, apperrors.NewTransportError(msg.Err)
			}
			c.handler(msg.Body)
		}
	}
}

func (c *Client) connectOptions() []func(*gostomp.Conn) error {
	opts := []func(*gostomp.Conn) error{
		gostomp.ConnOpt.HeartBeat(c.opts.HeartbeatSend, c.opts.HeartbeatReceive),
		gostomp.ConnOpt.Logger(newLibLogger(c.log, c.opts.Debug)),
	}
	if c.opts.Host != "" {
		opts = append(opts, gostomp.ConnOpt.Host(c.opts.Host))
	}
	if c.opts.Token != "" {
		opts = append(opts, gostomp.ConnOpt.Header("Authorization", "Bearer "+c.opts.Token))
	}
	return opts
}

// shutdown sends DISCONNECT and waits briefly for the receipt before
// dropping the socket.
func (c *Client) shutdown(conn *gostomp.Conn, stream *wsStream) {
	done := make(chan error, 1)
	go func() { done <- conn.Disconnect() }()

	select {
	case err := <-done:
		if err != nil {
			c.log.Debug("STOMP disconnect returned error", map[string]interface{}{"error": err})
		}
	case <-time.After(disconnectTimeout):
		c.log.Debug("STOMP disconnect receipt timed out", nil)
	}
	_ = stream.Close()
}
