// Package session wires the connection manager, inbox and presentation
// adapter for one logged-in user. A Session is created on login and
// destroyed on logout; at most one is live per Manager.
package session

import (
	"context"
	"fmt"
	"sync"

	"civic-notifier/internal/common/config"
	apperrors "civic-notifier/internal/common/errors"
	apphttp "civic-notifier/internal/common/http"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/observability"
	"civic-notifier/internal/common/platform"
	"civic-notifier/internal/models"
	"civic-notifier/internal/pipeline/connection"
	"civic-notifier/internal/pipeline/inbox"
	"civic-notifier/internal/pipeline/presentation"
	tokenstore "civic-notifier/internal/session"

	"github.com/google/uuid"
)

// APIFactory builds the REST client for a bearer token.
type APIFactory func(token string) platform.NotificationsAPI

// Deps are the collaborators a Manager needs. Zero-value fields are derived
// from Config where possible.
type Deps struct {
	Config *config.Config
	Store  tokenstore.TokenStore
	Sink   presentation.AlertSink
	Log    logger.Logger

	HTTP   *apphttp.Client
	Obs    *observability.Observability
	NewAPI APIFactory
	Dialer connection.Dialer
}

// Manager owns the current session.
type Manager struct {
	deps Deps
	log  logger.Logger

	mu      sync.Mutex
	current *Session
}

func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("session manager requires a config")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session manager requires a token store")
	}
	if deps.Log == nil {
		deps.Log = logger.NewNoOpLogger()
	}
	cfg := deps.Config

	if deps.NewAPI == nil {
		hc := deps.HTTP
		if hc == nil {
			hc = apphttp.NewClient(config.GetDuration(cfg.API.Timeout))
		}
		url, obs := cfg.API.NotificationsURL(), deps.Obs
		deps.NewAPI = func(token string) platform.NotificationsAPI {
			return platform.NewClient(url, token, hc, obs)
		}
	}
	if deps.Dialer == nil && cfg.Push.Enabled {
		deps.Dialer = connection.StompDialer(connection.StompOptions(cfg.Push, cfg.Transport), deps.Log)
	}

	return &Manager{deps: deps, log: deps.Log.WithFields(map[string]interface{}{"component": "session"})}, nil
}

// Login tears down any live session and starts a new one for id. The initial
// load and the push channel start independently; neither blocks Login.
// Without a persisted token there is nothing to start and ErrNoToken is
// returned.
func (m *Manager) Login(ctx context.Context, id models.Identity) (*Session, error) {
	if !id.Valid() {
		return nil, apperrors.ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.close()
		m.current = nil
	}

	token, err := m.deps.Store.Token(ctx, id.UserID)
	if err != nil {
		if apperrors.IsPrecondition(err) {
			m.log.Info("No session token, staying logged out", map[string]interface{}{"userId": id.UserID})
		}
		return nil, err
	}

	s := m.newSession(id, token)
	m.current = s
	s.start(ctx)

	m.log.Info("Session started", map[string]interface{}{
		"sessionId": s.ID,
		"userId":    id.UserID,
		"push":      s.conn != nil,
	})
	return s, nil
}

func (m *Manager) newSession(id models.Identity, token string) *Session {
	cfg := m.deps.Config
	log := m.deps.Log.WithFields(map[string]interface{}{"userId": id.UserID})

	s := &Session{
		ID:        uuid.NewString(),
		Identity:  id,
		threshold: cfg.Presentation.SwipeDist,
		log:       log,
		loadDone:  make(chan struct{}),
	}
	s.inbox = inbox.New(m.deps.NewAPI(token), inbox.Options{
		QueueLen:           cfg.Push.QueueLen,
		MarkAllConcurrency: cfg.Inbox.MarkAllConcurrency,
		RefetchTimeout:     config.GetDuration(cfg.Inbox.RefetchTimeout),
	}, log)
	s.adapter = presentation.NewAdapter(id.LanguageOr(cfg.Presentation.Language), s.inbox.MarkAsRead, m.deps.Sink, log)

	if m.deps.Dialer != nil {
		store, userID := m.deps.Store, id.UserID
		tokens := func(ctx context.Context) (string, error) { return store.Token(ctx, userID) }
		s.conn = connection.NewManager(m.deps.Dialer, tokens, s.inbox, s.adapter, log)
	}
	return s
}

// Logout closes the live session, if any. Safe to call repeatedly.
func (m *Manager) Logout() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s != nil {
		s.close()
		m.log.Info("Session closed", map[string]interface{}{"sessionId": s.ID})
	}
}

// Current returns the live session or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Session is what the rendering layer talks to.
type Session struct {
	ID       string
	Identity models.Identity

	inbox     *inbox.Inbox
	conn      *connection.Manager
	adapter   *presentation.Adapter
	threshold float64
	log       logger.Logger

	loadCancel context.CancelFunc
	loadDone   chan struct{}
	closeOnce  sync.Once
}

func (s *Session) start(ctx context.Context) {
	loadCtx, cancel := context.WithCancel(context.Background())
	s.loadCancel = cancel
	go func() {
		defer close(s.loadDone)
		if err := s.inbox.Load(loadCtx); err != nil {
			s.log.Debug("Initial load failed", map[string]interface{}{"error": err})
		}
	}()

	if s.conn != nil {
		// errors are logged by the connection manager; the pull side keeps working
		_ = s.conn.Start(ctx)
	}
}

// close releases the channel before the inbox so no push lands in a closed inbox.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
		s.loadCancel()
		<-s.loadDone
		s.inbox.Close()
	})
}

// WaitLoaded blocks until the initial load has finished or ctx ends.
func (s *Session) WaitLoaded(ctx context.Context) error {
	select {
	case <-s.loadDone:
		return s.inbox.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Notifications() []models.Notification { return s.inbox.Notifications() }
func (s *Session) UnreadCount() int                     { return s.inbox.UnreadCount() }
func (s *Session) IsLoading() bool                      { return s.inbox.IsLoading() }
func (s *Session) Err() error                           { return s.inbox.Err() }
func (s *Session) Snapshot() inbox.Snapshot             { return s.inbox.Snapshot() }
func (s *Session) Updates() <-chan inbox.Snapshot       { return s.inbox.Updates() }

func (s *Session) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// ConnectionChanges is nil when the push channel is disabled.
func (s *Session) ConnectionChanges() <-chan bool {
	if s.conn == nil {
		return nil
	}
	return s.conn.Changes()
}

func (s *Session) MarkAsRead(ctx context.Context, id string) error {
	return s.inbox.MarkAsRead(ctx, id)
}

func (s *Session) MarkAllAsRead(ctx context.Context) error {
	return s.inbox.MarkAllAsRead(ctx)
}

// Reload retries the full load, e.g. after Err reported a failure.
func (s *Session) Reload(ctx context.Context) error {
	return s.inbox.Load(ctx)
}

// Entries renders the inbox in the session's language.
func (s *Session) Entries() []presentation.Entry {
	return s.adapter.Entries(s.inbox.Notifications())
}

func (s *Session) Groups() []presentation.EntryGroup {
	return presentation.Group(s.Entries())
}

// Swipe applies a dismiss gesture of distance on entry id.
func (s *Session) Swipe(ctx context.Context, id string, distance float64) (bool, error) {
	return presentation.Swipe(ctx, id, distance, s.threshold, s.inbox.MarkAsRead)
}
