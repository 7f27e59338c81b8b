package stomp

import (
	"fmt"

	"civic-notifier/internal/common/logger"

	gostomp "github.com/go-stomp/stomp/v3"
)

// libLogger routes go-stomp's own diagnostics into the agent logger.
// Debug and info output only passes when frame debugging is on.
type libLogger struct {
	log   logger.Logger
	debug bool
}

var _ gostomp.Logger = (*libLogger)(nil)

func newLibLogger(log logger.Logger, debug bool) *libLogger {
	return &libLogger{log: log.WithFields(map[string]interface{}{"source": "go-stomp"}), debug: debug}
}

func (l *libLogger) Debugf(format string, value ...interface{}) {
	l.Debug(fmt.Sprintf(format, value...))
}

func (l *libLogger) Infof(format string, value ...interface{}) {
	l.Info(fmt.Sprintf(format, value...))
}

func (l *libLogger) Warningf(format string, value ...interface{}) {
	l.Warning(fmt.Sprintf(format, value...))
}

func (l *libLogger) Errorf(format string, value ...interface{}) {
	l.Error(fmt.Sprintf(format, value...))
}

func (l *libLogger) Debug(message string) {
	if l.debug {
		l.log.Debug(message, nil)
	}
}

func (l *libLogger) Info(message string) { l.Debug(message) }

func (l *libLogger) Warning(message string) { l.log.Warn(message, nil) }

func (l *libLogger) Error(message string) { l.log.Error(message, nil) }
