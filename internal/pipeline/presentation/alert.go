package presentation

import (
	"context"
	"sort"
	"strconv"
	"time"

	"civic-notifier/internal/models"

	"github.com/google/uuid"
)

// MarkReadFunc is the inbox's mark-as-read entry point.
type MarkReadFunc func(ctx context.Context, id string) error

// AlertAction is the optional button on an alert.
type AlertAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Alert is a transient, auto-dismissing description of a pushed notification.
type Alert struct {
	ID             string                  `json:"id"`
	NotificationID string                  `json:"notificationId"`
	Type           models.NotificationType `json:"type"`
	Priority       models.Priority         `json:"priority"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	Icon           string                  `json:"icon"`
	Color          string                  `json:"color"`
	Duration       time.Duration           `json:"duration"`
	Action         *AlertAction            `json:"action,omitempty"`

	markRead MarkReadFunc
}

// BuildAlert describes n in lang. Showing or expiring the alert has no side
// effects; only Click marks the notification read.
func BuildAlert(n models.Notification, lang string, markRead MarkReadFunc) Alert {
	style := StyleFor(n.Type)
	a := Alert{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		Type:           n.Type,
		Priority:       n.Priority.Normalize(),
		Title:          n.Title.Resolve(lang),
		Message:        n.Message.Resolve(lang),
		Icon:           style.Icon,
		Color:          style.Color,
		Duration:       DurationFor(n.Priority),
		markRead:       markRead,
	}
	if n.HasAction() {
		a.Action = &AlertAction{Label: actionLabel(n, lang), URL: n.ActionURL}
	}
	return a
}

func actionLabel(n models.Notification, lang string) string {
	if label := n.ActionLabel.Resolve(lang); label != "" {
		return label
	}
	return DefaultActionLabel.Resolve(lang)
}

// Click handles the action button: the notification is marked read and the
// action URL is returned for navigation. Alerts without an action do nothing.
func (a Alert) Click(ctx context.Context) (string, error) {
	if a.Action == nil {
		return "", nil
	}
	if a.markRead != nil {
		if err := a.markRead(ctx, a.NotificationID); err != nil {
			return a.Action.URL, err
		}
	}
	return a.Action.URL, nil
}

// Entry is one row of the persistent inbox list.
type Entry struct {
	ID          string                  `json:"id"`
	Type        models.NotificationType `json:"type"`
	Priority    models.Priority         `json:"priority"`
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	Icon        string                  `json:"icon"`
	Color       string                  `json:"color"`
	ActionURL   string                  `json:"actionUrl,omitempty"`
	ActionLabel string                  `json:"actionLabel,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	Age         string                  `json:"age"`
	Read        bool                    `json:"read"`
}

// BuildEntry describes n for the inbox list as seen at now.
func BuildEntry(n models.Notification, lang string, now time.Time) Entry {
	style := StyleFor(n.Type)
	e := Entry{
		ID:        n.ID,
		Type:      n.Type,
		Priority:  n.Priority.Normalize(),
		Title:     n.Title.Resolve(lang),
		Message:   n.Message.Resolve(lang),
		Icon:      style.Icon,
		Color:     style.Color,
		CreatedAt: n.CreatedAt,
		Read:      n.Read,
	}
	if !n.CreatedAt.IsZero() {
		e.Age = RelativeAge(now.Sub(n.CreatedAt))
	}
	if n.HasAction() {
		e.ActionURL = n.ActionURL
		e.ActionLabel = actionLabel(n, lang)
	}
	return e
}

// BuildEntries keeps the inbox order.
func BuildEntries(list []models.Notification, lang string, now time.Time) []Entry {
	out := make([]Entry, len(list))
	for i, n := range list {
		out[i] = BuildEntry(n, lang, now)
	}
	return out
}

// RelativeAge renders d as a compact age such as "5m" or "3d".
func RelativeAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d < 7*24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	default:
		return strconv.Itoa(int(d/(7*24*time.Hour))) + "w"
	}
}

// EntryGroup collects inbox entries of one type.
type EntryGroup struct {
	Type    models.NotificationType `json:"type"`
	Style   Style                   `json:"style"`
	Unread  int                     `json:"unread"`
	Entries []Entry                 `json:"entries"`
}

// Group buckets entries by type. Groups are ordered by their most recent
// entry; entries keep their relative order.
func Group(entries []Entry) []EntryGroup {
	index := make(map[models.NotificationType]int)
	var groups []EntryGroup
	for _, e := range entries {
		i, ok := index[e.Type]
		if !ok {
			i = len(groups)
			index[e.Type] = i
			groups = append(groups, EntryGroup{Type: e.Type, Style: StyleFor(e.Type)})
		}
		groups[i].Entries = append(groups[i].Entries, e)
		if !e.Read {
			groups[i].Unread++
		}
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return newest(groups[a]).After(newest(groups[b]))
	})
	return groups
}

func newest(g EntryGroup) time.Time {
	var t time.Time
	for _, e := range g.Entries {
		if e.CreatedAt.After(t) {
			t = e.CreatedAt
		}
	}
	return t
}

// Swipe applies a dismiss gesture on an inbox entry. Past the threshold in
// either direction it marks the entry read; below it nothing happens.
func Swipe(ctx context.Context, id string, distance, threshold float64, markRead MarkReadFunc) (bool, error) {
	if distance < 0 {
		distance = -distance
	}
	if distance < threshold || markRead == nil {
		return false, nil
	}
	if err := markRead(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}
