// Package presentation turns notifications into renderable alerts and inbox
// entries. It holds no state beyond its lookup tables.
package presentation

import (
	"time"

	"civic-notifier/internal/models"
)

// Style is the icon identifier and color token for a notification type.
type Style struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

var styles = map[models.NotificationType]Style{
	models.TypeConsultation: {Icon: "message-square", Color: "blue"},
	models.TypePetition:     {Icon: "file-signature", Color: "purple"},
	models.TypeVote:         {Icon: "check-square", Color: "green"},
	models.TypeAssembly:     {Icon: "users", Color: "orange"},
	models.TypeConference:   {Icon: "calendar", Color: "teal"},
	models.TypeComment:      {Icon: "message-circle", Color: "indigo"},
	models.TypeSystem:       {Icon: "info", Color: "gray"},
	models.TypeReport:       {Icon: "flag", Color: "red"},
	models.TypeYouthSpace:   {Icon: "sparkles", Color: "pink"},
	models.TypeTheme:        {Icon: "tag", Color: "amber"},
}

// StyleFor never fails: unknown types get the system style.
func StyleFor(t models.NotificationType) Style {
	if s, ok := styles[t]; ok {
		return s
	}
	return styles[models.TypeSystem]
}

const (
	LongDuration  = 10 * time.Second
	ShortDuration = 5 * time.Second
)

// DurationFor returns how long a transient alert stays on screen.
func DurationFor(p models.Priority) time.Duration {
	switch p.Normalize() {
	case models.PriorityUrgent, models.PriorityHigh:
		return LongDuration
	default:
		return ShortDuration
	}
}

// DefaultActionLabel is used when a notification has an action URL but no label.
var DefaultActionLabel = models.LocalizedText{
	"en": "View",
	"fr": "Voir",
	"de": "Ansehen",
}
