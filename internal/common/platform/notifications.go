// Package platform is the REST client for the participation platform's notification endpoints.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "civic-notifier/internal/common/errors"
	apphttp "civic-notifier/internal/common/http"
	"civic-notifier/internal/common/metrics"
	"civic-notifier/internal/common/observability"
	"civic-notifier/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

const (
	OpList       = "listNotifications"
	OpMarkAsRead = "markAsRead"

	maxErrorBody = 512
)

// NotificationsAPI is what the Inbox Cache consumes.
type NotificationsAPI interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id string) error
}

// Client talks to GET {base}/api/notifications and PATCH {base}/api/notifications/{id}/read.
type Client struct {
	baseURL string
	http    *apphttp.Client
	obs     *observability.Observability
}

// NewClient creates a client for notificationsURL authenticated with token.
func NewClient(notificationsURL, token string, hc *apphttp.Client, obs *observability.Observability) *Client {
	if hc == nil {
		hc = apphttp.NewClient(15 * time.Second)
	}
	if obs == nil {
		obs = observability.NewNoop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(notificationsURL, "/"),
		http:    hc.WithBearer(token),
		obs:     obs,
	}
}

// ListNotifications returns the user's notifications, most recent first.
func (c *Client) ListNotifications(ctx context.Context) (_ []models.Notification, err error) {
	ctx, span := c.obs.StartSpan(ctx, "notifications.list")
	defer func() { observability.EndSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("failed to create request: %w", err))
	}

	body, err := c.do(ctx, OpList, req)
	if err != nil {
		return nil, err
	}

	list, err := decodeList(body)
	if err != nil {
		return nil, apperrors.NewAPIRequestFailedError(OpList, http.StatusOK, err.Error())
	}
	span.SetAttributes(attribute.Int("notifications.count", len(list)))
	return list, nil
}

// MarkAsRead marks one notification read server-side. Any 2xx is success.
func (c *Client) MarkAsRead(ctx context.Context, id string) (err error) {
	ctx, span := c.obs.StartSpan(ctx, "notifications.markAsRead", attribute.String("notification.id", id))
	defer func() { observability.EndSpan(span, err) }()

	endpoint := fmt.Sprintf("%s/%s/read", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, nil)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("failed to create request: %w", err))
	}

	_, err = c.do(ctx, OpMarkAsRead, req)
	if apperrors.CodeOf(err) == apperrors.ErrCodeNotificationNotFound {
		return apperrors.NewNotificationNotFoundError(id)
	}
	return err
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(ctx, op, "error", start)
		return nil, apperrors.NewAPITransportError(op, err)
	}
	defer resp.Body.Close()

	c.record(ctx, op, strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewAPITransportError(op, fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewAuthenticationError(fmt.Sprintf("%s returned %d", op, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, &apperrors.StandardError{Code: apperrors.ErrCodeNotificationNotFound, Message: "Notification not found"}
	default:
		return nil, apperrors.NewAPIRequestFailedError(op, resp.StatusCode, truncate(string(body), maxErrorBody))
	}
}

func (c *Client) record(ctx context.Context, op, status string, start time.Time) {
	d := time.Since(start)
	metrics.APIRequestDuration.WithLabelValues(op, status).Observe(d.Seconds())
	c.obs.RecordRequest(ctx, op, status, d)
}

// decodeList accepts either a bare array or a {"content": [...]} page.
func decodeList(body []byte) ([]models.Notification, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	var list []models.Notification
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode notifications: %w", err)
		}
		return list, nil
	}

	var page struct {
		Content []models.Notification `json:"content"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode notifications page: %w", err)
	}
	return page.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
