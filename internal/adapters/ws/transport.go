// Package ws is the networked transport: one WebSocket per client
// connection, read/write pumps, identity binding and spoof rejection.
package ws

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/app"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// Conn is an indirection over *websocket.Conn to ease testing.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

type wsConn struct {
	conn Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

// trySend enqueues one serialized envelope. Volatile messages are
// dropped silently when the buffer is full; reliable ones report the
// failure so the router can log it. Order within the channel is the
// send order, which is all the per-source ordering guarantee needs.
func (c *wsConn) trySend(data []byte, reliable bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		if reliable {
			return core.ErrBackpressure
		}
		return nil
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Options configures one Transport instance.
type Options struct {
	// Endpoint is "A" or "P"; with the transport kind it forms the
	// two-character connection-id prefix ("AW", "PW").
	Endpoint   string
	ReadLimit  int64
	SendBuffer int
	PingPeriod time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// Transport is the WebSocket implementation of core.Transport. It owns
// its connection resources; the router owns the connID->transport map.
type Transport struct {
	opts    Options
	handler core.ConnectionHandler
	router  *app.Router
	limiter *RateLimiter
	logger  zerolog.Logger

	mu     sync.RWMutex
	conns  map[string]*wsConn
	idents map[string]domain.ClientID
}

func New(opts Options, handler core.ConnectionHandler, router *app.Router) *Transport {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	t := &Transport{
		opts:    opts,
		handler: handler,
		router:  router,
		logger:  log.With().Str("module", "adapters.ws").Str("endpoint", opts.Endpoint).Logger(),
		conns:   make(map[string]*wsConn),
		idents:  make(map[string]domain.ClientID),
	}
	if opts.RateLimit > 0 {
		t.limiter = NewRateLimiter(opts.RateLimit, opts.RateWindow)
	}
	return t
}

func (t *Transport) Kind() string { return "W" }

func (t *Transport) prefix() string { return t.opts.Endpoint + t.Kind() }

// HandleUpgrade is the gin endpoint: upgrade, allocate a connection
// id, run the handshake, then start the pumps. On a rejected handshake
// the registration is discarded and the line closes after the single
// dispose envelope has flushed.
func (t *Transport) HandleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		t.logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	t.Attach(conn, c.Request)
}

// Attach runs the handshake for an already-upgraded connection.
func (t *Transport) Attach(conn Conn, req *http.Request) {
	if t.opts.ReadLimit > 0 {
		conn.SetReadLimit(t.opts.ReadLimit)
	}

	connID := t.prefix() + uuid.NewString()
	wc := &wsConn{conn: conn, send: make(chan []byte, t.opts.SendBuffer)}

	t.mu.Lock()
	t.conns[connID] = wc
	t.mu.Unlock()
	t.router.Register(connID, t)

	// The write pump must run before Connect so a dispose envelope
	// reaches the wire.
	go t.writePump(connID, wc)

	cookies := make(map[string]string)
	sessionToken := ""
	for _, ck := range req.Cookies() {
		cookies[ck.Name] = ck.Value
		if ck.Name == app.SessionCookieName {
			sessionToken = ck.Value
		}
	}

	q := req.URL.Query()
	clientID, err := t.handler.Connect(core.Handshake{
		ConnID:       connID,
		Transport:    t,
		Headers:      req.Header,
		Cookies:      cookies,
		Room:         domain.RoomName(q.Get("room")),
		ClientType:   q.Get("clientType"),
		ProposedID:   domain.ClientID(q.Get("clientId")),
		SessionToken: sessionToken,
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("conn", connID).Msg("handshake rejected")
		t.discard(connID, wc)
		return
	}

	t.mu.Lock()
	t.idents[connID] = clientID
	t.mu.Unlock()

	go t.readPump(connID, clientID, wc)
}

func (t *Transport) discard(connID string, wc *wsConn) {
	t.mu.Lock()
	delete(t.conns, connID)
	delete(t.idents, connID)
	t.mu.Unlock()
	t.router.Unregister(connID)
	wc.close()
}

func (t *Transport) lookup(connID string) (*wsConn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wc, ok := t.conns[connID]
	return wc, ok
}

func (t *Transport) Send(env domain.Envelope, connID string) error {
	wc, ok := t.lookup(connID)
	if !ok {
		return fmt.Errorf("conn %q: %w", connID, core.ErrUnknownConnection)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope %q: %w", env.ID, err)
	}
	return wc.trySend(data, env.Reliable)
}

func (t *Transport) SendAll(env domain.Envelope, exceptConnID string) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope %q: %w", env.ID, err)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for connID, wc := range t.conns {
		if connID == exceptConnID {
			continue
		}
		if err := wc.trySend(data, env.Reliable); err != nil {
			t.logger.Warn().Err(err).Str("conn", connID).Msg("send-all delivery")
		}
	}
	return nil
}

func (t *Transport) Disconnect(connID string) {
	wc, ok := t.lookup(connID)
	if !ok {
		return
	}
	wc.close()
	t.finish(connID)
}

// finish tears down local state and notifies the server. A repeat
// disconnect for one logical drop comes back as ErrUnknownConnection
// and is only worth a debug line here.
func (t *Transport) finish(connID string) {
	t.mu.Lock()
	delete(t.conns, connID)
	delete(t.idents, connID)
	t.mu.Unlock()
	if err := t.handler.Disconnect(connID); err != nil {
		if errors.Is(err, core.ErrUnknownConnection) {
			t.logger.Debug().Str("conn", connID).Msg("repeat disconnect ignored")
			return
		}
		t.logger.Warn().Err(err).Str("conn", connID).Msg("disconnect")
	}
}

func (t *Transport) writePump(connID string, c *wsConn) {
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.logger.Error().Err(err).Str("conn", connID).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Error().Err(err).Str("conn", connID).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Transport) readPump(connID string, clientID domain.ClientID, c *wsConn) {
	defer func() {
		t.logger.Info().Str("conn", connID).Msg("readPump closing")
		c.close()
		t.finish(connID)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		t.handleInbound(connID, clientID, data)
	}
}

// handleInbound rejects spoofed sender claims before the message can
// reach the validation pipeline: the envelope's from must match the
// identity bound to this connection at handshake time.
func (t *Transport) handleInbound(connID string, clientID domain.ClientID, data []byte) {
	if t.limiter != nil && !t.limiter.Allow(clientID) {
		t.logger.Warn().Str("conn", connID).Str("client", string(clientID)).Msg("rate limit exceeded")
		return
	}
	env, err := domain.Decode(data)
	if err != nil {
		t.logger.Warn().Err(err).Str("conn", connID).Msg("malformed inbound frame")
		return
	}
	if env.From != string(clientID) {
		t.logger.Warn().
			Str("conn", connID).
			Str("claimed", env.From).
			Str("bound", string(clientID)).
			Msg("spoofed sender dropped")
		return
	}
	t.handler.Message(env)
}
