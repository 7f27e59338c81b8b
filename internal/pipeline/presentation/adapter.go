package presentation

import (
	"strconv"
	"time"

	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/metrics"
	"civic-notifier/internal/models"
)

// AlertSink is the rendering layer. Show must not block; it reports whether
// the alert was accepted.
type AlertSink interface {
	Show(Alert) bool
}

// Adapter builds alerts for pushed notifications and hands them to a sink.
type Adapter struct {
	lang     string
	markRead MarkReadFunc
	sink     AlertSink
	log      logger.Logger
}

func NewAdapter(lang string, markRead MarkReadFunc, sink AlertSink, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Adapter{
		lang:     lang,
		markRead: markRead,
		sink:     sink,
		log:      log.WithFields(map[string]interface{}{"component": "presentation"}),
	}
}

func (a *Adapter) Language() string { return a.lang }

// Present emits a transient alert for n.
func (a *Adapter) Present(n models.Notification) {
	alert := BuildAlert(n, a.lang, a.markRead)
	delivered := a.sink != nil && a.sink.Show(alert)
	metrics.Alerts.WithLabelValues(string(alert.Priority), strconv.FormatBool(delivered)).Inc()
	if !delivered {
		a.log.Debug("Alert not delivered", map[string]interface{}{"notificationId": n.ID})
	}
}

// Entries renders the inbox list in the adapter's language.
func (a *Adapter) Entries(list []models.Notification) []Entry {
	return BuildEntries(list, a.lang, time.Now())
}

// ChannelSink buffers alerts for a consumer goroutine and drops them when full.
type ChannelSink struct {
	ch chan Alert
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Alert, buffer)}
}

func (s *ChannelSink) Show(a Alert) bool {
	select {
	case s.ch <- a:
		return true
	default:
		return false
	}
}

func (s *ChannelSink) Alerts() <-chan Alert {
	return s.ch
}

// LogSink writes alerts as structured log lines.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Show(a Alert) bool {
	fields := map[string]interface{}{
		"notificationId": a.NotificationID,
		"type":           string(a.Type),
		"priority":       string(a.Priority),
		"title":          a.Title,
		"message":        a.Message,
		"icon":           a.Icon,
		"color":          a.Color,
		"duration":       a.Duration.String(),
	}
	if a.Action != nil {
		fields["actionLabel"] = a.Action.Label
		fields["actionUrl"] = a.Action.URL
	}
	s.log.Info("Notification", fields)
	return true
}
