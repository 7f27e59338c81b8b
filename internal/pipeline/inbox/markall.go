package inbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/metrics"

	"golang.org/x/sync/errgroup"
)

// MarkAllError reports the notifications that stayed unread after MarkAllAsRead.
type MarkAllError struct {
	Attempted int
	Failed    map[string]error
}

func (e *MarkAllError) Error() string {
	return fmt.Sprintf("mark all as read: %d of %d failed (%s)",
		len(e.Failed), e.Attempted, strings.Join(e.IDs(), ", "))
}

// IDs returns the failed notification ids in sorted order.
func (e *MarkAllError) IDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *MarkAllError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// MarkAllAsRead issues one mark-as-read call per unread notification. Each
// success flips its item independently, so a partial failure leaves only the
// failed items unread.
func (b *Inbox) MarkAllAsRead(ctx context.Context) error {
	if b.closed.Load() {
		return apperrors.ErrInboxClosed
	}

	b.mu.RLock()
	var ids []string
	for _, n := range b.items {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	b.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		g      errgroup.Group
	)
	g.SetLimit(b.opts.MarkAllConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := b.api.MarkAsRead(ctx, id); err != nil {
				metrics.MarkRead.WithLabelValues("error").Inc()
				mu.Lock()
				failed[id] = apperrors.NewMarkReadFailedError(id, err)
				mu.Unlock()
				return nil
			}
			metrics.MarkRead.WithLabelValues("success").Inc()
			b.markLocal(id)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		markErr := &MarkAllError{Attempted: len(ids), Failed: failed}
		b.log.Warn("Some notifications could not be marked read", map[string]interface{}{
			"failed":    markErr.IDs(),
			"attempted": len(ids),
		})
		return markErr
	}
	return nil
}
