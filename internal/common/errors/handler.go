package errors

import (
	"fmt"
)

// ErrorHandler converts failures at a component boundary into log lines
// instead of letting them escape into the caller.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err for component and returns its normalized form.
// Precondition failures are not logged.
func (h *ErrorHandler) Handle(component string, err error) *StandardError {
	if err == nil {
		return nil
	}
	stdErr := Normalize(err)
	if IsPrecondition(stdErr) {
		return stdErr
	}

	fields := map[string]interface{}{
		"component":     component,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}

	if stdErr.Retryable || stdErr.Code == ErrCodeMalformedPayload {
		h.logger.Warn("recoverable failure", fields)
	} else {
		h.logger.Error("failure", fields)
	}
	return stdErr
}

// Recover is deferred at component boundaries; a panic is logged and swallowed.
func (h *ErrorHandler) Recover(component string) {
	if r := recover(); r != nil {
		h.logger.Error("recovered panic", map[string]interface{}{
			"component": component,
			"panic":     fmt.Sprintf("%v", r),
		})
	}
}
