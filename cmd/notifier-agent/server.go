package main

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/pipeline/inbox"
	"civic-notifier/internal/pipeline/presentation"
	"civic-notifier/internal/pipeline/session"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessions is the slice of *session.Manager the HTTP surface needs.
type sessions interface {
	Current() *session.Session
}

type server struct {
	sessions sessions
	log      logger.Logger
}

type healthResponse struct {
	Session   string `json:"session,omitempty"`
	Connected bool   `json:"connected"`
	Unread    int    `json:"unread"`
	Loading   bool   `json:"loading"`
}

type inboxResponse struct {
	UnreadCount int                       `json:"unreadCount"`
	IsLoading   bool                      `json:"isLoading"`
	Error       string                    `json:"error,omitempty"`
	Entries     []presentation.Entry      `json:"entries"`
	Groups      []presentation.EntryGroup `json:"groups,omitempty"`
}

type errorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Failed  []string            `json:"failed,omitempty"`
}

func newServer(s sessions, log logger.Logger) *server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &server{sessions: s, log: log.WithFields(map[string]interface{}{"component": "http"})}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Get("/inbox", s.inbox)
	r.Post("/inbox/read-all", s.markAll)
	r.Post("/inbox/{id}/read", s.markOne)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// health always answers 200; a logged-out agent simply reports nothing connected.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if cur := s.sessions.Current(); cur != nil {
		snap := cur.Snapshot()
		resp = healthResponse{
			Session:   cur.ID,
			Connected: cur.IsConnected(),
			Unread:    snap.UnreadCount,
			Loading:   snap.IsLoading,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) inbox(w http.ResponseWriter, r *http.Request) {
	cur := s.sessions.Current()
	if cur == nil {
		s.writeError(w, apperrors.ErrNoSession)
		return
	}
	snap := cur.Snapshot()
	resp := inboxResponse{
		UnreadCount: snap.UnreadCount,
		IsLoading:   snap.IsLoading,
		Entries:     cur.Entries(),
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if r.URL.Query().Get("group") == "type" {
		resp.Groups = presentation.Group(resp.Entries)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) markOne(w http.ResponseWriter, r *http.Request) {
	cur := s.sessions.Current()
	if cur == nil {
		s.writeError(w, apperrors.ErrNoSession)
		return
	}
	if err := cur.MarkAsRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) markAll(w http.ResponseWriter, r *http.Request) {
	cur := s.sessions.Current()
	if cur == nil {
		s.writeError(w, apperrors.ErrNoSession)
		return
	}
	if err := cur.MarkAllAsRead(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	var partial *inbox.MarkAllError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    apperrors.ErrCodeMarkReadFailed,
			Message: partial.Error(),
			Failed:  partial.IDs(),
		})
		return
	}

	std := apperrors.Normalize(err)
	status := statusFor(std.Code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("Request failed", map[string]interface{}{"error": err, "code": std.Code})
	}
	writeJSON(w, status, errorResponse{Code: std.Code, Message: std.Message})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeNoSession, apperrors.ErrCodeNoToken, apperrors.ErrCodeInboxClosed:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeAuthentication:
		return http.StatusUnauthorized
	case apperrors.ErrCodeMarkReadFailed, apperrors.ErrCodeAPIRequestFailed, apperrors.ErrCodeLoadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
