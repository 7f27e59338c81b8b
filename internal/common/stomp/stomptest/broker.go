// Package stomptest runs an in-process STOMP-over-WebSocket broker for tests.
// It speaks just enough of the protocol for one subscription per connection.
package stomptest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Conn is the broker side of one subscribed client.
type Conn struct {
	ws      *socket
	reader  *frame.Reader
	writer  *frame.Writer
	writeMu sync.Mutex

	SubscriptionID string
	Destination    string
	UpgradeAuth    string
	ConnectAuth    string
	// Disconnects receives once per DISCONNECT frame.
	Disconnects chan struct{}
}

// Send publishes body to the client's subscription.
func (c *Conn) Send(t testing.TB, body string) {
	t.Helper()
	f := frame.New(frame.MESSAGE,
		"subscription", c.SubscriptionID,
		"message-id", "m-"+body,
		"destination", c.Destination,
		"content-type", "application/json",
	)
	f.Body = []byte(body)
	require.NoError(t, c.write(f))
}

// Drop closes the socket without a STOMP goodbye.
func (c *Conn) Drop() error {
	return c.ws.Close()
}

func (c *Conn) write(f *frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.Write(f)
}

func (c *Conn) readFrame() (*frame.Frame, error) {
	for {
		f, err := c.reader.Read()
		if err != nil {
			return nil, err
		}
		// nil frames are heart-beats
		if f != nil {
			return f, nil
		}
	}
}

// Broker accepts WebSocket upgrades and hands subscribed connections to Accept.
type Broker struct {
	srv   *httptest.Server
	conns chan *Conn
}

// NewBroker starts a broker that is closed with the test.
func NewBroker(t testing.TB) *Broker {
	t.Helper()
	b := &Broker{conns: make(chan *Conn, 4)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

// URL is the ws:// address of the broker.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

// Accept waits for the next client to subscribe.
func (b *Broker) Accept(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("client never subscribed")
		return nil
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := &socket{conn: ws}
	c := &Conn{
		ws:          sock,
		reader:      frame.NewReader(sock),
		writer:      frame.NewWriter(sock),
		UpgradeAuth: r.Header.Get("Authorization"),
		Disconnects: make(chan struct{}, 1),
	}

	connect, err := c.readFrame()
	if err != nil {
		return
	}
	c.ConnectAuth = connect.Header.Get("Authorization")
	if err := c.write(frame.New(frame.CONNECTED, "version", "1.2", "heart-beat", "0,0")); err != nil {
		return
	}

	sub, err := c.readFrame()
	if err != nil || sub.Command != frame.SUBSCRIBE {
		return
	}
	c.SubscriptionID = sub.Header.Get("id")
	c.Destination = sub.Header.Get("destination")
	b.conns <- c

	for {
		f, err := c.readFrame()
		if err != nil {
			return
		}
		if f.Command != frame.DISCONNECT {
			continue
		}
		select {
		case c.Disconnects <- struct{}{}:
		default:
		}
		if receipt := f.Header.Get("receipt"); receipt != "" {
			_ = c.write(frame.New(frame.RECEIPT, "receipt-id", receipt))
		}
	}
}

// socket is a minimal WebSocket byte stream for the frame codec.
type socket struct {
	conn   *websocket.Conn
	reader io.Reader
	once   sync.Once
}

func (s *socket) Read(p []byte) (int, error) {
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
		return n, err
	}
}

func (s *socket) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *socket) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}
