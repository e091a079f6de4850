package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/anp/anperr"
)

// Channel timing: a 10 s RTT keepalive, with writes bounded so a stuck
// peer cannot wedge the control task.
const (
	keepaliveInterval = 10 * time.Second
	writeTimeout      = 5 * time.Second
	readLimit         = 1 << 20
)

// Channel is one control-channel connection, usable from both the
// server and the node side. Writes are serialized internally; reads
// belong to a single owner goroutine.
type Channel struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	closed  sync.Once
	done    chan struct{}
}

func newChannel(conn *websocket.Conn, log zerolog.Logger) *Channel {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(2 * keepaliveInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * keepaliveInterval))
	})
	return &Channel{conn: conn, log: log, done: make(chan struct{})}
}

// Dial connects a node to a server's control endpoint. wss:// URLs are
// recommended; ws:// is accepted for trusted-LAN deployments.
func Dial(ctx context.Context, rawURL string, log zerolog.Logger) (*Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, anperr.Wrap(anperr.CodeNetworkUnreachable, err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, anperr.Wrap(anperr.CodeNetworkUnreachable, err)
	}
	ch := newChannel(conn, log)
	go ch.keepalive()
	return ch, nil
}

// Send writes one message, bounded by the write timeout.
func (c *Channel) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return anperr.Wrap(anperr.CodeInvalidMessageFormat, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return anperr.Wrap(anperr.CodeWebSocketError, err)
	}
	return nil
}

// SendError translates a coded error onto the wire.
func (c *Channel) SendError(e *anperr.Error) error {
	wire := e.WireMessage()
	return c.Send(Message{Type: TypeError, Error: &wire})
}

// Receive blocks for the next message. Non-text frames are skipped;
// malformed payloads surface as E203 without closing the channel.
func (c *Channel) Receive() (Message, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, anperr.Wrap(anperr.CodeWebSocketError, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if _, ok := anperr.CodeOf(err); !ok {
				err = anperr.Wrap(anperr.CodeInvalidMessageFormat, err)
			}
			return Message{}, err
		}
		return msg, nil
	}
}

func (c *Channel) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("control: keepalive ping failed")
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down.
func (c *Channel) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Handler processes messages for one connection until it closes.
type Handler func(ch *Channel, msg Message)

// Server accepts node control connections over HTTP upgrade.
type Server struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	handler  Handler

	mu    sync.Mutex
	conns map[*Channel]struct{}
}

// NewServer creates a control-channel server dispatching to handler.
func NewServer(handler Handler, log zerolog.Logger) *Server {
	return &Server{
		log:     log,
		handler: handler,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// Trusted LAN: nodes are not browsers, no Origin check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*Channel]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("control: upgrade failed")
		return
	}
	ch := newChannel(conn, s.log)
	go ch.keepalive()

	s.mu.Lock()
	s.conns[ch] = struct{}{}
	s.mu.Unlock()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("control: node connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, ch)
		s.mu.Unlock()
		ch.Close()
		s.log.Info().Str("remote", r.RemoteAddr).Msg("control: node disconnected")
	}()

	for {
		msg, err := ch.Receive()
		if err != nil {
			if code, ok := anperr.CodeOf(err); ok && code == anperr.CodeInvalidMessageFormat {
				s.log.Warn().Err(err).Msg("control: dropping malformed message")
				continue
			}
			return
		}
		s.handler(ch, msg)
	}
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll tears down every live connection.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*Channel, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
