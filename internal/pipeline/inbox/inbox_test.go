package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
	lists atomic.Int32
}

func (m *mockAPI) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	m.lists.Add(1)
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.Notification)
	return list, args.Error(1)
}

func (m *mockAPI) MarkAsRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func note(id string, read bool) models.Notification {
	return models.Notification{
		ID:       id,
		Type:     models.TypeVote,
		Priority: models.PriorityNormal,
		Title:    models.LocalizedText{"fr": "Titre " + id},
		Read:     read,
	}
}

func ids(list []models.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func newTestInbox(t *testing.T, api *mockAPI) *Inbox {
	t.Helper()
	b := New(api, Options{MarkAllConcurrency: 2, RefetchTimeout: time.Second}, logger.NewTestLogger(t))
	t.Cleanup(b.Close)
	return b
}

// gate blocks a mocked call until released and reports when it was entered.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) run(mock.Arguments) {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("call never started")
	}
}

// settled reports whether the inbox has made n list calls and none is in flight.
func settled(b *Inbox, api *mockAPI, n int32) func() bool {
	return func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return api.lists.Load() == n && b.inflight == 0
	}
}

func TestLoad_ScenarioA(t *testing.T) {
	api := &mockAPI{}
	n1 := note("n1", false)
	n1.Priority = models.PriorityUrgent
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{n1}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))
	assert.Equal(t, 1, b.UnreadCount())

	require.NoError(t, b.MarkAsRead(context.Background(), "n1"))
	assert.Equal(t, 0, b.UnreadCount())
	assert.True(t, b.Notifications()[0].Read)
	api.AssertExpectations(t)
}

func TestLoad_DedupsKeepingFirst(t *testing.T) {
	api := &mockAPI{}
	dup := note("n1", true)
	dup.Title = models.LocalizedText{"fr": "doublon"}
	api.On("ListNotifications", mock.Anything).
		Return([]models.Notification{note("n1", false), note("n2", false), dup}, nil).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	snap := b.Snapshot()
	assert.Equal(t, []string{"n1", "n2"}, ids(snap.Notifications))
	assert.Equal(t, "Titre n1", snap.Notifications[0].Title["fr"])
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	api := &mockAPI{}
	boom := apperrors.NewAPIRequestFailedError("listNotifications", 503, "down")
	api.On("ListNotifications", mock.Anything).Return(nil, boom).Once()
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Once()
	api.On("ListNotifications", mock.Anything).Return(nil, boom).Once()

	b := newTestInbox(t, api)
	ctx := context.Background()

	err := b.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLoadFailed, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, b.Notifications())
	assert.False(t, b.IsLoading())
	assert.Equal(t, err, b.Err())

	require.NoError(t, b.Load(ctx))
	assert.NoError(t, b.Err())

	require.Error(t, b.Load(ctx))
	assert.Equal(t, []string{"n1"}, ids(b.Notifications()))
	assert.Error(t, b.Err())
}

func TestLoad_LoadingFlagAndSharedRequest(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	api.On("ListNotifications", mock.Anything).Run(g.run).
		Return([]models.Notification{note("n1", false)}, nil).Once()

	b := newTestInbox(t, api)
	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(1)
			errs[i] = b.Load(context.Background())
		}()
	}

	g.waitEntered(t)
	assert.True(t, b.IsLoading())
	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, time.Millisecond)
	// let the stragglers join the in-flight request
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.False(t, b.IsLoading())
	api.AssertNumberOfCalls(t, "ListNotifications", 1)
}

func TestMarkAsRead_Idempotent(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	b := newTestInbox(t, api)
	ctx := context.Background()
	require.NoError(t, b.Load(ctx))

	require.NoError(t, b.MarkAsRead(ctx, "n1"))
	first := b.Snapshot()
	require.NoError(t, b.MarkAsRead(ctx, "n1"))
	second := b.Snapshot()

	assert.Equal(t, first.Notifications, second.Notifications)
	assert.Equal(t, 0, second.UnreadCount)
	api.AssertNumberOfCalls(t, "MarkAsRead", 1)
}

func TestMarkAsRead_UnknownID(t *testing.T) {
	api := &mockAPI{}
	b := newTestInbox(t, api)

	err := b.MarkAsRead(context.Background(), "ghost")
	assert.Equal(t, apperrors.ErrCodeNotificationNotFound, apperrors.CodeOf(err))
	api.AssertNotCalled(t, "MarkAsRead", mock.Anything, "ghost")
}

func TestMarkAsRead_FailureLeavesUnread(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(errors.New("timeout")).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	err := b.MarkAsRead(context.Background(), "n1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMarkReadFailed, apperrors.CodeOf(err))
	assert.Equal(t, 1, b.UnreadCount())
}

func TestMarkAllAsRead_ScenarioD(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).
		Return([]models.Notification{note("n1", false), note("n2", false), note("n3", true)}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()
	api.On("MarkAsRead", mock.Anything, "n2").Return(apperrors.NewAPIRequestFailedError("markAsRead", 500, "")).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	err := b.MarkAllAsRead(context.Background())
	require.Error(t, err)

	var markErr *MarkAllError
	require.ErrorAs(t, err, &markErr)
	assert.Equal(t, []string{"n2"}, markErr.IDs())
	assert.Equal(t, 2, markErr.Attempted)
	assert.Equal(t, apperrors.ErrCodeMarkReadFailed, apperrors.CodeOf(err))

	snap := b.Snapshot()
	assert.True(t, snap.Notifications[0].Read)
	assert.False(t, snap.Notifications[1].Read)
	assert.Equal(t, 1, snap.UnreadCount)
	api.AssertExpectations(t)
}

func TestMarkAllAsRead_NothingUnread(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", true)}, nil).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))
	assert.NoError(t, b.MarkAllAsRead(context.Background()))
	api.AssertNotCalled(t, "MarkAsRead", mock.Anything, mock.Anything)
}

func TestDeliver_ScenarioB(t *testing.T) {
	api := &mockAPI{}
	n2 := models.Notification{ID: "n2", Type: models.TypeSystem, Priority: models.PriorityLow}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Once()
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{n2, note("n1", false)}, nil).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	b.Deliver(n2)

	assert.Eventually(t, settled(b, api, 2), 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"n1", "n2"}, ids(b.Notifications()))
	assert.Equal(t, 2, b.UnreadCount())
}

func TestDeliver_CoalescesRefetches(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	var calls atomic.Int32
	api.On("ListNotifications", mock.Anything).Run(func(args mock.Arguments) {
		if calls.Add(1) == 1 {
			g.run(args)
		}
	}).Return([]models.Notification{note("p1", false), note("p2", false), note("p3", false)}, nil)

	b := newTestInbox(t, api)

	b.Deliver(note("p1", false))
	g.waitEntered(t)

	// arrive while the first refetch is in flight
	b.Deliver(note("p2", false))
	b.Deliver(note("p3", false))
	b.Invalidate()
	close(g.release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 200*time.Millisecond, 20*time.Millisecond)

	snap := b.Snapshot()
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, ids(snap.Notifications))
	assert.Equal(t, 3, snap.UnreadCount)
}

func TestRefetch_DoesNotResurrectLocalRead(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false), note("n2", false)}, nil).Once()
	// stale payload: still reports n1 unread
	api.On("ListNotifications", mock.Anything).Run(g.run).
		Return([]models.Notification{note("n1", false), note("n2", false)}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	b := newTestInbox(t, api)
	ctx := context.Background()
	require.NoError(t, b.Load(ctx))

	b.Invalidate()
	g.waitEntered(t)
	require.NoError(t, b.MarkAsRead(ctx, "n1"))
	close(g.release)

	assert.Eventually(t, settled(b, api, 2), 2*time.Second, 10*time.Millisecond)
	snap := b.Snapshot()
	assert.True(t, snap.Notifications[0].Read)
	assert.False(t, snap.Notifications[1].Read)
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestLoad_StartedBeforeMarkKeepsLocalRead(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Once()
	// issued before the mark, answers with n1 still unread
	api.On("ListNotifications", mock.Anything).Run(g.run).
		Return([]models.Notification{note("n1", false)}, nil).Once()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	b := newTestInbox(t, api)
	ctx := context.Background()
	require.NoError(t, b.Load(ctx))

	loaded := make(chan error, 1)
	go func() { loaded <- b.Load(ctx) }()
	g.waitEntered(t)

	require.NoError(t, b.MarkAsRead(ctx, "n1"))
	assert.Equal(t, 0, b.UnreadCount())
	close(g.release)

	select {
	case err := <-loaded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("load never finished")
	}
	assert.Equal(t, 0, b.UnreadCount())
	assert.True(t, b.Notifications()[0].Read)
}

func TestLoad_ServerUnreadIsAuthoritative(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false)}, nil).Twice()
	api.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	b := newTestInbox(t, api)
	ctx := context.Background()
	require.NoError(t, b.Load(ctx))
	require.NoError(t, b.MarkAsRead(ctx, "n1"))
	assert.Equal(t, 0, b.UnreadCount())

	// a fresh load started after the write reports it unread again
	require.NoError(t, b.Load(ctx))
	assert.Equal(t, 1, b.UnreadCount())
}

func TestLoad_CallerCancelDoesNotFailSharedRequest(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	var apiCtxErr atomic.Value
	api.On("ListNotifications", mock.Anything).Run(func(args mock.Arguments) {
		g.run(args)
		if err := args.Get(0).(context.Context).Err(); err != nil {
			apiCtxErr.Store(err)
		}
	}).Return([]models.Notification{note("n1", false)}, nil).Once()

	b := newTestInbox(t, api)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- b.Load(first) }()
	g.waitEntered(t)

	secondErr := make(chan error, 1)
	go func() { secondErr <- b.Load(context.Background()) }()
	// let the second caller join the in-flight request
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(g.release)
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shared load never finished")
	}
	assert.Nil(t, apiCtxErr.Load())
	assert.Equal(t, []string{"n1"}, ids(b.Notifications()))
	api.AssertNumberOfCalls(t, "ListNotifications", 1)
}

func TestDeliver_RefetchLeavesLoadingFlagDown(t *testing.T) {
	api := &mockAPI{}
	g := newGate()
	api.On("ListNotifications", mock.Anything).Run(g.run).
		Return([]models.Notification{note("p1", false)}, nil).Once()

	b := newTestInbox(t, api)
	b.Deliver(note("p1", false))
	g.waitEntered(t)

	assert.False(t, b.IsLoading())
	assert.False(t, b.Snapshot().IsLoading)
	close(g.release)
	assert.Eventually(t, settled(b, api, 1), 2*time.Second, 10*time.Millisecond)
	assert.False(t, b.IsLoading())
}

func TestUpsert_NeverDowngradesRead(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", true)}, nil)

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	b.upsert(note("n1", false))
	assert.True(t, b.Notifications()[0].Read)
	assert.Len(t, b.Notifications(), 1)
}

func TestUpdates_LatestWins(t *testing.T) {
	api := &mockAPI{}
	api.On("ListNotifications", mock.Anything).Return([]models.Notification{note("n1", false), note("n2", false)}, nil).Once()

	b := newTestInbox(t, api)
	require.NoError(t, b.Load(context.Background()))

	select {
	case snap := <-b.Updates():
		assert.Equal(t, 2, snap.UnreadCount)
		assert.False(t, snap.IsLoading)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestClose_StopsProcessing(t *testing.T) {
	api := &mockAPI{}
	b := New(api, Options{}, logger.NewTestLogger(t))
	b.Close()
	b.Close()

	b.Deliver(note("late", false))
	b.Invalidate()

	assert.ErrorIs(t, b.Load(context.Background()), apperrors.ErrInboxClosed)
	assert.ErrorIs(t, b.MarkAllAsRead(context.Background()), apperrors.ErrInboxClosed)
	assert.Empty(t, b.Notifications())
	api.AssertNotCalled(t, "ListNotifications", mock.Anything)
}
