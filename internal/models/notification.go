// internal/models/notification.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationType is the category a notification belongs to. It only drives
// iconography and grouping.
type NotificationType string

const (
	TypeConsultation NotificationType = "consultation"
	TypePetition     NotificationType = "petition"
	TypeVote         NotificationType = "vote"
	TypeAssembly     NotificationType = "assembly"
	TypeConference   NotificationType = "conference"
	TypeComment      NotificationType = "comment"
	TypeSystem       NotificationType = "system"
	TypeReport       NotificationType = "report"
	TypeYouthSpace   NotificationType = "youth_space"
	TypeTheme        NotificationType = "theme"
)

// KnownTypes lists the closed set of notification types.
var KnownTypes = []NotificationType{
	TypeConsultation, TypePetition, TypeVote, TypeAssembly, TypeConference,
	TypeComment, TypeSystem, TypeReport, TypeYouthSpace, TypeTheme,
}

// Priority drives alert duration and visual weight.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Normalize maps unknown or empty priorities to normal.
func (p Priority) Normalize() Priority {
	switch Priority(strings.ToLower(string(p))) {
	case PriorityUrgent:
		return PriorityUrgent
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	}
	return PriorityNormal
}

// FallbackLanguages is the resolution order after the requested language.
var FallbackLanguages = []string{"fr", "en", "de"}

// LocalizedText holds one string per language code.
type LocalizedText map[string]string

// Resolve returns the text for lang, falling back through fr, en, de and
// finally the empty string. Region subtags are ignored ("fr-CH" -> "fr").
func (t LocalizedText) Resolve(lang string) string {
	if len(t) == 0 {
		return ""
	}
	if s := t[baseLanguage(lang)]; s != "" {
		return s
	}
	for _, fb := range FallbackLanguages {
		if s := t[fb]; s != "" {
			return s
		}
	}
	return ""
}

func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// Notification is one server-originated event shown to the user.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	Priority    Priority         `json:"priority"`
	Title       LocalizedText    `json:"title"`
	Message     LocalizedText    `json:"message"`
	ActionURL   string           `json:"actionUrl,omitempty"`
	ActionLabel LocalizedText    `json:"actionLabel,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	Read        bool             `json:"read"`
}

// HasAction reports whether the notification offers a navigable action.
func (n Notification) HasAction() bool {
	return strings.TrimSpace(n.ActionURL) != ""
}

// timestampLayouts are the createdAt encodings the platform emits; the
// zone-less form comes from LocalDateTime fields and is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a createdAt value in any supported layout.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// UnmarshalJSON accepts the platform's timestamp layouts and normalizes priority.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		CreatedAt string `json:"createdAt"`
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.CreatedAt != "" {
		ts, err := ParseTimestamp(aux.CreatedAt)
		if err != nil {
			return err
		}
		n.CreatedAt = ts
	}
	n.Priority = n.Priority.Normalize()
	return nil
}

// Clone returns a deep copy so callers cannot mutate cached bundles.
func (n Notification) Clone() Notification {
	n.Title = cloneText(n.Title)
	n.Message = cloneText(n.Message)
	n.ActionLabel = cloneText(n.ActionLabel)
	return n
}

func cloneText(t LocalizedText) LocalizedText {
	if t == nil {
		return nil
	}
	out := make(LocalizedText, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// CountUnread returns the number of unread notifications.
func CountUnread(list []Notification) int {
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
