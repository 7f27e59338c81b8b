// Package connection owns the push channel for one logged-in session and
// routes its messages into the inbox and the presentation layer.
package connection

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/metrics"
	"civic-notifier/internal/models"
)

// Transport keeps a subscription alive until ctx is cancelled.
type Transport interface {
	Run(ctx context.Context) error
}

// Dialer builds a transport for token. handler receives raw message bodies
// and onState each connected/disconnected transition.
type Dialer func(token string, handler func(body []byte), onState func(connected bool, err error)) Transport

// TokenSource returns the bearer token, or apperrors.ErrNoToken when the user
// has none.
type TokenSource func(ctx context.Context) (string, error)

// Sink is the inbox side of the push queue.
type Sink interface {
	Deliver(n models.Notification)
}

// Presenter shows a transient alert.
type Presenter interface {
	Present(n models.Notification)
}

// Manager connects on Start and disconnects on Close. Only IsConnected and
// Changes are observable.
type Manager struct {
	dial      Dialer
	tokens    TokenSource
	sink      Sink
	presenter Presenter
	log       logger.Logger
	errh      *apperrors.ErrorHandler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	pubMu   sync.Mutex
	changes chan bool
}

func NewManager(dial Dialer, tokens TokenSource, sink Sink, presenter Presenter, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"component": "connection"})
	return &Manager{
		dial:      dial,
		tokens:    tokens,
		sink:      sink,
		presenter: presenter,
		log:       log,
		errh:      apperrors.NewErrorHandler(log),
		changes:   make(chan bool, 1),
	}
}

// Start resolves the token and opens the channel in the background. A
// missing token means there is nothing to connect and is not an error. Start
// never waits for the handshake.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.closed.Load() {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	token, err := m.tokens(ctx)
	if err != nil {
		if apperrors.IsPrecondition(err) {
			metrics.ConnectionAttempts.WithLabelValues("skipped").Inc()
			m.log.Debug("No session token, push channel not opened", nil)
			return nil
		}
		metrics.ConnectionAttempts.WithLabelValues("failed").Inc()
		m.errh.Handle("connection", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	transport := m.dial(token, m.handle, m.setState)

	go func(done chan struct{}) {
		defer close(done)
		defer m.errh.Recover("connection")
		if err := transport.Run(runCtx); err != nil {
			m.errh.Handle("connection", err)
		}
		m.setState(false, nil)
	}(m.done)
	return nil
}

// handle runs for every inbound message: parse, queue for the inbox, then
// show. A bad message is dropped without touching state.
func (m *Manager) handle(body []byte) {
	defer m.errh.Recover("connection")

	if m.closed.Load() {
		metrics.PushMessages.WithLabelValues("dropped").Inc()
		return
	}

	n, err := models.ParseNotification(body)
	if err != nil {
		metrics.PushMessages.WithLabelValues("malformed").Inc()
		m.errh.Handle("connection", err)
		return
	}
	metrics.PushMessages.WithLabelValues("accepted").Inc()

	m.sink.Deliver(n)
	if m.presenter != nil {
		m.presenter.Present(n)
	}
}

func (m *Manager) setState(connected bool, err error) {
	if connected && m.closed.Load() {
		return
	}
	if err != nil {
		metrics.ConnectionAttempts.WithLabelValues("failed").Inc()
		m.log.Warn("Push channel unavailable", map[string]interface{}{"error": err})
	}
	if m.connected.Swap(connected) == connected {
		return
	}
	if connected {
		metrics.ConnectionAttempts.WithLabelValues("connected").Inc()
	}
	metrics.ConnectionState.Set(metrics.BoolGauge(connected))
	m.log.Info("Push channel state changed", map[string]interface{}{"connected": connected})

	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	select {
	case <-m.changes:
	default:
	}
	m.changes <- connected
}

func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// Changes reports connected/disconnected transitions, latest value wins.
func (m *Manager) Changes() <-chan bool {
	return m.changes
}

// Close stops the transport and waits for it to exit. No message is handled
// after Close returns. Safe to call before Start and more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.mu.Lock()
		cancel, done := m.cancel, m.done
		m.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		m.setState(false, nil)
	})
}
