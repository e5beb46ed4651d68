// Package wsserver provides the WebSocket transport shared by the CII and
// TS servers: connection accounting against a configurable cap, an
// enable/disable switch that rejects new connections with an HTTP status
// rather than a WebSocket close, and a per-connection read loop that hands
// messages to caller-supplied callbacks.
package wsserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// ConnHandler receives the lifecycle and message events of connections
// accepted by a Server. Implementations are the CII/TS protocol state
// machines (pkg/ciiserver, pkg/tsserver).
type ConnHandler interface {
	// OnConnect is called once a connection has been accepted and
	// upgraded, before any messages are read from it.
	OnConnect(c *Conn)
	// OnMessage is called for every text message received from c, in the
	// order received. Binary messages are not used by either protocol and
	// are discarded.
	OnMessage(c *Conn, data []byte)
	// OnDisconnect is called once, when the connection's read loop ends
	// for any reason (client close, network error, or Conn.Close).
	OnDisconnect(c *Conn)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var (
	connectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsserver_connections_total",
		Help: "WebSocket connection attempts, partitioned by server and outcome.",
	}, []string{"server", "outcome"})
	activeConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsserver_active_connections",
		Help: "Currently open WebSocket connections, partitioned by server.",
	}, []string{"server"})
)

func init() {
	prometheus.MustRegister(connectionsTotal, activeConnections)
}

// Server is a WebSocket endpoint that accepts and tracks connections up to
// MaxConnections (unlimited if <= 0), and can be disabled at runtime to
// refuse new connections with HTTP 403 without affecting connections
// already established.
type Server struct {
	Name           string
	MaxConnections int
	Handler        ConnHandler

	mu      sync.RWMutex
	enabled bool
	conns   map[string]*Conn
}

// New returns a Server ready to be mounted as an http.Handler. It starts
// enabled.
func New(name string, maxConnections int, handler ConnHandler) *Server {
	return &Server{
		Name:           name,
		MaxConnections: maxConnections,
		Handler:        handler,
		enabled:        true,
		conns:          make(map[string]*Conn),
	}
}

// Enabled reports whether the server currently accepts new connections.
func (s *Server) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled toggles whether the server accepts new connections. Disabling
// the server does not close connections already open.
func (s *Server) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Connections returns a snapshot of the currently open connections, for
// broadcast operations such as TS's updateAllClients.
func (s *Server) Connections() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// ServeHTTP implements http.Handler, so a Server mounts directly on a
// go-chi router. It refuses the upgrade with 403 Forbidden if the server is
// disabled, or 503 Service Unavailable if MaxConnections has been reached;
// otherwise it upgrades the connection and runs its read loop until the
// connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.Enabled() {
		connectionsTotal.WithLabelValues(s.Name, "disabled").Inc()
		http.Error(w, "server disabled", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	if s.MaxConnections > 0 && len(s.conns) >= s.MaxConnections {
		s.mu.Unlock()
		connectionsTotal.WithLabelValues(s.Name, "full").Inc()
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		connectionsTotal.WithLabelValues(s.Name, "upgrade_failed").Inc()
		slog.Warn("wsserver: upgrade failed", "server", s.Name, "err", err)
		return
	}
	connectionsTotal.WithLabelValues(s.Name, "accepted").Inc()

	c := &Conn{id: uuid.NewString(), ws: ws, server: s}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	activeConnections.WithLabelValues(s.Name).Inc()

	s.Handler.OnConnect(c)
	c.readLoop()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	activeConnections.WithLabelValues(s.Name).Dec()
	s.Handler.OnDisconnect(c)
}

// Conn is a single accepted WebSocket connection, identified by a
// process-unique id used for log correlation.
type Conn struct {
	id     string
	server *Server
	ws     *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the client's network address.
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Send writes a text message to the connection. Safe for concurrent use.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a WebSocket close frame with the given close code and reason
// and tears down the underlying connection. Safe to call more than once.
func (c *Conn) Close(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	deadline := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, deadline, closeDeadline())
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.writeMu.Lock()
			c.closed = true
			c.writeMu.Unlock()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.server.Handler.OnMessage(c, data)
	}
}
