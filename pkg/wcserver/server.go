// Package wcserver implements the server side of the CSS-WC wall-clock
// protocol: a UDP responder that timestamps each request against a
// clock.Clock representing the wall clock, optionally in two stages (an
// immediate response plus a more precisely-timed follow-up).
package wcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wcproto"
)

var requestsHandledTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "wcserver_requests_handled_total",
	Help: "Wall-clock requests answered.",
})

func init() {
	prometheus.MustRegister(requestsHandledTotal)
}

// Server answers CSS-WC requests over UDP using WallClock as the source of
// truth for receive/transmit timestamps.
type Server struct {
	conn      *net.UDPConn
	wallClock clock.Clock
	log       *slog.Logger

	// PrecisionSecs and MaxFreqErrorPpm override what is reported to
	// clients when set; otherwise WallClock's dispersion at its current
	// tick value and
	// clock.RootMaxFreqError(WallClock) are used respectively, mirroring
	// WallClockServerHandler's optional overrides.
	PrecisionSecs   *float64
	MaxFreqErrorPpm *float64

	// Followup, if true, makes the server respond to every request with
	// a TYPE_RESPONSE_WITH_FOLLOWUP immediately followed by a
	// TYPE_FOLLOWUP carrying a (potentially more precise) transmit time.
	// This exists primarily to exercise follow-up handling in clients;
	// this implementation's follow-up is not actually any more accurate
	// than the initial response, matching the original's own caveat.
	Followup bool
}

// Listen binds a Server to bindAddr (host:port, e.g. "0.0.0.0:6677").
func Listen(bindAddr string, wallClock clock.Clock, log *slog.Logger) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("wcserver: resolving %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wcserver: listening on %q: %w", bindAddr, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{conn: conn, wallClock: wallClock, log: log}, nil
}

// LocalAddr returns the address the server is bound to.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the underlying socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run services requests until ctx is cancelled or the socket errors.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, wcproto.MsgSize)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("wcserver: reading request: %w", err)
		}
		if n != wcproto.MsgSize {
			continue
		}
		s.handle(buf[:n], src)
	}
}

func (s *Server) handle(data []byte, src *net.UDPAddr) {
	req, err := wcproto.Unpack(data)
	if err != nil {
		s.log.Debug("wcserver: dropping malformed request", "src", src, "error", err)
		return
	}
	if req.Type != wcproto.TypeRequest {
		s.log.Debug("wcserver: dropping non-request message", "src", src, "type", req.Type)
		return
	}

	recvNanos := s.nowNanos()
	reply := req.Copy()
	reply.ReceiveNanos = recvNanos
	if s.Followup {
		reply.Type = wcproto.TypeResponseWithFollowup
	} else {
		reply.Type = wcproto.TypeResponse
	}
	reply.SetPrecisionSeconds(s.precisionSecs())
	reply.SetMaxFreqErrorPpm(s.maxFreqErrorPpm())
	reply.TransmitNanos = s.nowNanos()

	if _, err := s.conn.WriteToUDP(reply.Pack(), src); err != nil {
		s.log.Warn("wcserver: sending response", "src", src, "error", err)
		return
	}
	requestsHandledTotal.Inc()

	if s.Followup {
		followup := reply.Copy()
		followup.TransmitNanos = s.nowNanos()
		followup.Type = wcproto.TypeFollowup
		if _, err := s.conn.WriteToUDP(followup.Pack(), src); err != nil {
			s.log.Warn("wcserver: sending follow-up", "src", src, "error", err)
		}
	}
}

func (s *Server) nowNanos() uint64 {
	return uint64(s.wallClock.Ticks() / s.wallClock.TickRate() * 1e9)
}

func (s *Server) precisionSecs() float64 {
	if s.PrecisionSecs != nil {
		return *s.PrecisionSecs
	}
	return s.wallClock.Dispersion(s.wallClock.Ticks())
}

func (s *Server) maxFreqErrorPpm() float64 {
	if s.MaxFreqErrorPpm != nil {
		return *s.MaxFreqErrorPpm
	}
	return clock.RootMaxFreqError(s.wallClock)
}
