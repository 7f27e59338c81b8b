package models

import (
	"encoding/json"

	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/validation"
)

// ParseNotification validates and decodes one push payload. Any failure is a
// MALFORMED_PAYLOAD error; the caller drops the message.
func ParseNotification(raw []byte) (Notification, error) {
	res, err := validation.NotificationValidator().Validate(raw)
	if err != nil {
		return Notification{}, apperrors.NewMalformedPayloadError(err.Error())
	}
	if !res.Valid {
		return Notification{}, apperrors.NewMalformedPayloadError(res.Summary())
	}

	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, apperrors.NewMalformedPayloadError(err.Error())
	}
	return n, nil
}
