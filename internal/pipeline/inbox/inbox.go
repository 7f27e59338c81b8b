// Package inbox holds the user's notification list, keeps it in sync with the
// server and derives the unread count from it.
package inbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/metrics"
	"civic-notifier/internal/common/platform"
	"civic-notifier/internal/models"

	"golang.org/x/sync/singleflight"
)

const (
	triggerLoad = "load"
	triggerPush = "push"
)

// Options tunes an Inbox. Zero values fall back to defaults.
type Options struct {
	QueueLen           int
	MarkAllConcurrency int
	RefetchTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueLen <= 0 {
		o.QueueLen = 64
	}
	if o.MarkAllConcurrency <= 0 {
		o.MarkAllConcurrency = 4
	}
	if o.RefetchTimeout <= 0 {
		o.RefetchTimeout = 15 * time.Second
	}
	return o
}

// Snapshot is a point-in-time copy of the inbox state.
type Snapshot struct {
	Notifications []models.Notification
	UnreadCount   int
	IsLoading     bool
	Err           error
}

// Inbox is the single writer of the notification list. Pushed notifications
// arrive through Deliver and are applied by one background goroutine, which
// also runs the coalesced refetches.
type Inbox struct {
	api  platform.NotificationsAPI
	log  logger.Logger
	errh *apperrors.ErrorHandler
	opts Options

	mu       sync.RWMutex
	items    []models.Notification
	loading  int // pull loads in flight
	inflight int // all fetches in flight
	err      error
	writeSeq uint64
	readSeq  map[string]uint64

	loads         singleflight.Group
	pushes        chan models.Notification
	invalidations chan struct{}

	pubMu   sync.Mutex
	updates chan Snapshot

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts an inbox backed by api. Call Close to stop it.
func New(api platform.NotificationsAPI, opts Options, log logger.Logger) *Inbox {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	opts = opts.withDefaults()
	log = log.WithFields(map[string]interface{}{"component": "inbox"})

	ctx, cancel := context.WithCancel(context.Background())
	b := &Inbox{
		api:           api,
		log:           log,
		errh:          apperrors.NewErrorHandler(log),
		opts:          opts,
		readSeq:       make(map[string]uint64),
		pushes:        make(chan models.Notification, opts.QueueLen),
		invalidations: make(chan struct{}, 1),
		updates:       make(chan Snapshot, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Load fetches the full list from the server and replaces the cached one.
// The server's read flags win, except for items marked read locally after the
// request went out. On failure the previous list is kept and the error is
// both returned and exposed through Err.
//
// Concurrent callers share one request. It runs detached from any single
// caller's cancellation, bounded by RefetchTimeout and Close; a caller whose
// ctx ends stops waiting with ctx.Err().
func (b *Inbox) Load(ctx context.Context) error {
	if b.closed.Load() {
		return apperrors.ErrInboxClosed
	}
	ch := b.loads.DoChan(triggerLoad, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.RefetchTimeout)
		defer cancel()
		stop := context.AfterFunc(b.ctx, cancel)
		defer stop()
		return nil, b.fetch(fctx, triggerLoad)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver hands a pushed notification to the inbox and requests a refetch.
// It never blocks; when the queue is full the item is dropped and the
// refetch alone brings it in.
func (b *Inbox) Deliver(n models.Notification) {
	if b.closed.Load() {
		return
	}
	select {
	case b.pushes <- n:
	default:
		metrics.PushMessages.WithLabelValues("dropped").Inc()
		b.log.Warn("Push queue full, relying on refetch", map[string]interface{}{"notificationId": n.ID})
	}
	b.Invalidate()
}

// Invalidate asks for a refetch. Requests made while one is already pending
// fold into it.
func (b *Inbox) Invalidate() {
	if b.closed.Load() {
		return
	}
	select {
	case b.invalidations <- struct{}{}:
	default:
		metrics.RefetchesCoalesced.Inc()
	}
}

func (b *Inbox) run() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case n := <-b.pushes:
			b.upsert(n)
		case <-b.invalidations:
			b.drainPushes()
			ctx, cancel := context.WithTimeout(b.ctx, b.opts.RefetchTimeout)
			_ = b.fetch(ctx, triggerPush)
			cancel()
		}
	}
}

func (b *Inbox) drainPushes() {
	for {
		select {
		case n := <-b.pushes:
			b.upsert(n)
		default:
			return
		}
	}
}

// fetch replaces the list with the server's. Only pull loads raise the
// loading flag; push refetches run silently.
func (b *Inbox) fetch(ctx context.Context, trigger string) error {
	pull := trigger == triggerLoad
	b.mu.Lock()
	startSeq := b.writeSeq
	b.inflight++
	if pull {
		b.loading++
	}
	b.mu.Unlock()
	b.publish()

	list, err := b.api.ListNotifications(ctx)

	b.mu.Lock()
	b.inflight--
	if pull {
		b.loading--
	}
	if err == nil {
		b.items = b.merge(list, startSeq)
		b.err = nil
	} else {
		b.err = apperrors.NewLoadFailedError(err)
	}
	if b.inflight == 0 {
		// With nothing in flight every recorded read predates any future fetch.
		clear(b.readSeq)
	}
	fetchErr, count := b.err, len(b.items)
	b.mu.Unlock()
	b.publish()

	if err != nil {
		metrics.Refetches.WithLabelValues(trigger, "error").Inc()
		if !b.closed.Load() {
			b.errh.Handle("inbox", fetchErr)
		}
		return fetchErr
	}

	metrics.Refetches.WithLabelValues(trigger, "success").Inc()
	b.log.Debug("Inbox refreshed", map[string]interface{}{"trigger": trigger, "count": count})
	return nil
}

// merge dedups the server list by id and reapplies local reads recorded
// after startSeq, which the server payload may predate. Caller holds mu.
func (b *Inbox) merge(list []models.Notification, startSeq uint64) []models.Notification {
	out := make([]models.Notification, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, n := range list {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if !n.Read {
			if seq, ok := b.readSeq[n.ID]; ok && seq > startSeq {
				n.Read = true
			}
		}
		out = append(out, n)
	}
	return out
}

// upsert applies a pushed item ahead of the refetch. Existing entries keep
// their read flag if it is already set.
func (b *Inbox) upsert(n models.Notification) {
	b.mu.Lock()
	replaced := false
	for i := range b.items {
		if b.items[i].ID == n.ID {
			n.Read = n.Read || b.items[i].Read
			b.items[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		b.items = append([]models.Notification{n}, b.items...)
	}
	b.mu.Unlock()
	b.publish()
}

// MarkAsRead marks one notification read on the server and, once that
// succeeds, locally. Already-read items are left alone.
func (b *Inbox) MarkAsRead(ctx context.Context, id string) error {
	if b.closed.Load() {
		return apperrors.ErrInboxClosed
	}

	b.mu.RLock()
	n, ok := b.find(id)
	b.mu.RUnlock()
	if !ok {
		return apperrors.NewNotificationNotFoundError(id)
	}
	if n.Read {
		metrics.MarkRead.WithLabelValues("noop").Inc()
		return nil
	}

	if err := b.api.MarkAsRead(ctx, id); err != nil {
		metrics.MarkRead.WithLabelValues("error").Inc()
		return apperrors.NewMarkReadFailedError(id, err)
	}
	metrics.MarkRead.WithLabelValues("success").Inc()
	b.markLocal(id)
	return nil
}

func (b *Inbox) markLocal(id string) {
	b.mu.Lock()
	b.writeSeq++
	b.readSeq[id] = b.writeSeq
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Read = true
		}
	}
	b.mu.Unlock()
	b.publish()
}

// caller holds mu
func (b *Inbox) find(id string) (models.Notification, bool) {
	for _, n := range b.items {
		if n.ID == id {
			return n, true
		}
	}
	return models.Notification{}, false
}

func (b *Inbox) Notifications() []models.Notification {
	return b.Snapshot().Notifications
}

// UnreadCount is recomputed from the list on every call.
func (b *Inbox) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.CountUnread(b.items)
}

func (b *Inbox) IsLoading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loading > 0
}

// Err returns the error of the last failed fetch, cleared by the next success.
func (b *Inbox) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

func (b *Inbox) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Inbox) snapshotLocked() Snapshot {
	list := make([]models.Notification, len(b.items))
	for i, n := range b.items {
		list[i] = n.Clone()
	}
	return Snapshot{
		Notifications: list,
		UnreadCount:   models.CountUnread(b.items),
		IsLoading:     b.loading > 0,
		Err:           b.err,
	}
}

// Updates delivers the latest snapshot after each change. Slow readers only
// see the most recent one.
func (b *Inbox) Updates() <-chan Snapshot {
	return b.updates
}

func (b *Inbox) publish() {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	snap := b.Snapshot()
	metrics.Unread.Set(float64(snap.UnreadCount))

	select {
	case <-b.updates:
	default:
	}
	b.updates <- snap
}

// Close stops the background goroutine and discards queued pushes. It is
// safe to call more than once.
func (b *Inbox) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		<-b.done
	})
}
