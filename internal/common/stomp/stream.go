package stomp

import (
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"civic-notifier/internal/common/logger"

	"github.com/gorilla/websocket"
)

// wsStream presents a WebSocket as the byte stream go-stomp expects. Each
// Write becomes one text message; reads concatenate incoming messages.
type wsStream struct {
	conn      *websocket.Conn
	reader    io.Reader
	log       logger.Logger
	debug     bool
	closeOnce sync.Once
	closeErr  error
}

func newStream(conn *websocket.Conn, log logger.Logger, debug bool) *wsStream {
	return &wsStream{conn: conn, log: log, debug: debug}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		if n > 0 && s.debug {
			s.log.Debug("<<< stomp", map[string]interface{}{"frame": printable(p[:n])})
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if s.debug {
		s.log.Debug(">>> stomp", map[string]interface{}{"frame": printable(p)})
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal-closure control frame and closes the socket. Safe to call twice.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// secretHeaders never appear in frame dumps.
var secretHeaders = []string{"authorization", "passcode"}

// printable renders frame bytes for debug logs. NUL terminators become "^@"
// and credential header values are masked.
func printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c == 0 {
			sb.WriteString("^@")
			continue
		}
		sb.WriteByte(c)
	}

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		if line == "" {
			// headers end at the first blank line
			break
		}
		key, _, ok := strings.Cut(line, ":")
		if ok && slices.Contains(secretHeaders, strings.ToLower(key)) {
			lines[i] = key + ":[redacted]"
		}
	}
	return strings.Join(lines, "\n")
}
