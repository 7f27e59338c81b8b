package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"civic-notifier/internal/common/config"
	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/platform"
	"civic-notifier/internal/models"
	"civic-notifier/internal/pipeline/connection"
	"civic-notifier/internal/pipeline/presentation"
	tokenstore "civic-notifier/internal/session"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves a fixed server-side list and applies mark-as-read to it.
type fakeAPI struct {
	mu       sync.Mutex
	token    string
	items    []models.Notification
	failList error
	failMark map[string]bool
	lists    int
}

func (f *fakeAPI) ListNotifications(context.Context) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.failList != nil {
		return nil, f.failList
	}
	return append([]models.Notification(nil), f.items...), nil
}

func (f *fakeAPI) MarkAsRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark[id] {
		return apperrors.NewAPIRequestFailedError(platform.OpMarkAsRead, 500, "")
	}
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Read = true
		}
	}
	return nil
}

func (f *fakeAPI) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeAPI) add(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]models.Notification{n}, f.items...)
}

// pushTransport lets the test play the broker.
type pushTransport struct {
	handler func([]byte)
	onState func(bool, error)
	bodies  chan []byte
	stopped atomic.Bool
}

func (p *pushTransport) Run(ctx context.Context) error {
	p.onState(true, nil)
	for {
		select {
		case <-ctx.Done():
			p.stopped.Store(true)
			p.onState(false, nil)
			return nil
		case b := <-p.bodies:
			p.handler(b)
		}
	}
}

type harness struct {
	api        *fakeAPI
	sink       *presentation.ChannelSink
	manager    *Manager
	transports chan *pushTransport
}

func testConfig(pushEnabled bool) *config.Config {
	return &config.Config{
		API:          config.APIConfig{BaseURL: "http://localhost", NotificationsPath: "/api/notifications", Timeout: 1000},
		Push:         config.PushConfig{Enabled: pushEnabled, URL: "ws://localhost/ws", Topic: "/topic/notifications", QueueLen: 8},
		Inbox:        config.InboxConfig{MarkAllConcurrency: 2, RefetchTimeout: 1000},
		Presentation: config.PresentationConfig{Language: "fr", AlertBuf: 8, SwipeDist: 100},
	}
}

func newHarness(t *testing.T, store tokenstore.TokenStore, pushEnabled bool) *harness {
	t.Helper()
	h := &harness{
		api:        &fakeAPI{failMark: map[string]bool{}},
		sink:       presentation.NewChannelSink(8),
		transports: make(chan *pushTransport, 4),
	}
	deps := Deps{
		Config: testConfig(pushEnabled),
		Store:  store,
		Sink:   h.sink,
		Log:    logger.NewTestLogger(t),
		NewAPI: func(token string) platform.NotificationsAPI {
			h.api.mu.Lock()
			h.api.token = token
			h.api.mu.Unlock()
			return h.api
		},
	}
	if pushEnabled {
		deps.Dialer = func(token string, handler func([]byte), onState func(bool, error)) connection.Transport {
			tr := &pushTransport{handler: handler, onState: onState, bodies: make(chan []byte)}
			h.transports <- tr
			return tr
		}
	}
	m, err := NewManager(deps)
	require.NoError(t, err)
	h.manager = m
	t.Cleanup(m.Logout)
	return h
}

func (h *harness) transport(t *testing.T) *pushTransport {
	t.Helper()
	select {
	case tr := <-h.transports:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no transport dialed")
		return nil
	}
}

func user() models.Identity {
	return models.Identity{UserID: "u1", Language: "en"}
}

func TestLogin_LoadsAndConnects(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), true)
	h.api.items = []models.Notification{{ID: "n1", Type: models.TypeVote, Priority: models.PriorityUrgent}}

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	require.NoError(t, s.WaitLoaded(context.Background()))

	h.transport(t)
	assert.Eventually(t, s.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, "tok-1", h.api.token)
	assert.Same(t, s, h.manager.Current())
}

func TestPush_RefetchesAndAlerts(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), true)
	h.api.items = []models.Notification{{ID: "n1", Type: models.TypeVote}}

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	require.NoError(t, s.WaitLoaded(context.Background()))
	tr := h.transport(t)

	n2 := models.Notification{ID: "n2", Type: models.TypeSystem, Priority: models.PriorityLow,
		Title: models.LocalizedText{"en": "Maintenance"}}
	h.api.add(n2)
	tr.bodies <- []byte(`{"id":"n2","type":"system","priority":"low","title":{"en":"Maintenance"}}`)

	select {
	case alert := <-h.sink.Alerts():
		assert.Equal(t, "n2", alert.NotificationID)
		assert.Equal(t, "Maintenance", alert.Title)
		assert.Equal(t, 5*time.Second, alert.Duration)
		assert.Nil(t, alert.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert shown")
	}

	assert.Eventually(t, func() bool { return len(s.Notifications()) == 2 && h.api.listCalls() >= 2 },
		2*time.Second, 5*time.Millisecond)
	// showing the alert did not mark anything read
	assert.Equal(t, 2, s.UnreadCount())
}

func TestMarkAllAsRead_PartialFailure(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), false)
	h.api.items = []models.Notification{{ID: "n1"}, {ID: "n2"}}
	h.api.failMark["n2"] = true

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	require.NoError(t, s.WaitLoaded(context.Background()))

	err = s.MarkAllAsRead(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, s.UnreadCount())
	assert.False(t, s.IsConnected())
	assert.Nil(t, s.ConnectionChanges())
}

func TestSwipe_UsesConfiguredThreshold(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), false)
	h.api.items = []models.Notification{{ID: "n1"}}

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	require.NoError(t, s.WaitLoaded(context.Background()))

	done, err := s.Swipe(context.Background(), "n1", 60)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, s.UnreadCount())

	done, err = s.Swipe(context.Background(), "n1", 100)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, s.UnreadCount())
	assert.True(t, s.Entries()[0].Read)
}

func TestLoadFailure_IsRetryable(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), false)
	h.api.failList = apperrors.NewAPIRequestFailedError(platform.OpList, 503, "")

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)

	err = s.WaitLoaded(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLoadFailed, apperrors.CodeOf(err))
	assert.Empty(t, s.Notifications())

	h.api.mu.Lock()
	h.api.failList = nil
	h.api.items = []models.Notification{{ID: "n1"}}
	h.api.mu.Unlock()

	require.NoError(t, s.Reload(context.Background()))
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, s.UnreadCount())
}

func TestLogin_WithoutToken(t *testing.T) {
	h := newHarness(t, tokenstore.NewKeyringStore(keyring.NewArrayKeyring(nil)), true)

	s, err := h.manager.Login(context.Background(), user())
	assert.Nil(t, s)
	assert.True(t, apperrors.IsPrecondition(err))
	assert.Nil(t, h.manager.Current())
	assert.Empty(t, h.transports)
}

func TestLogin_InvalidIdentity(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), false)
	_, err := h.manager.Login(context.Background(), models.Identity{})
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
}

func TestLogout_TearsDownChannel(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), true)

	s, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	tr := h.transport(t)
	assert.Eventually(t, s.IsConnected, time.Second, 5*time.Millisecond)

	h.manager.Logout()
	h.manager.Logout()

	assert.False(t, s.IsConnected())
	assert.True(t, tr.stopped.Load())
	assert.Nil(t, h.manager.Current())
	assert.ErrorIs(t, s.MarkAllAsRead(context.Background()), apperrors.ErrInboxClosed)
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	h := newHarness(t, tokenstore.NewStaticStore("tok-1"), true)

	first, err := h.manager.Login(context.Background(), user())
	require.NoError(t, err)
	firstTr := h.transport(t)

	second, err := h.manager.Login(context.Background(), models.Identity{UserID: "u2"})
	require.NoError(t, err)
	h.transport(t)

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, firstTr.stopped.Load())
	assert.False(t, first.IsConnected())
	assert.Same(t, second, h.manager.Current())
}

func TestNewManager_RequiresDeps(t *testing.T) {
	_, err := NewManager(Deps{})
	assert.Error(t, err)
	_, err = NewManager(Deps{Config: testConfig(false)})
	assert.Error(t, err)

	m, err := NewManager(Deps{Config: testConfig(true), Store: tokenstore.NewStaticStore("")})
	require.NoError(t, err)
	assert.NotNil(t, m.deps.Dialer)
	assert.NotNil(t, m.deps.NewAPI)
	assert.Nil(t, m.Current())
	assert.NotPanics(t, m.Logout)
}
