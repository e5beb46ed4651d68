// Package ciiserver implements a CSS-CII WebSocket server: it holds the
// current content-identification-and-status state and pushes it (in full,
// or as a diff) to every connected companion whenever that state changes.
package ciiserver

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/Dash-Industry-Forum/css-sync/pkg/cii"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wsserver"
)

// OnMessage is called for any (unexpected) message a connected client
// sends; CII is a server-push-only protocol, so clients are not expected to
// send anything once connected.
type OnMessage func(connID string, data []byte)

// Server is a CSS-CII server. Update its CII state with SetCII and push the
// change to connected clients with UpdateClients.
type Server struct {
	ws *wsserver.Server

	onMsg    OnMessage
	stateMu  sync.Mutex
	cii      *cii.CII
	prevByID map[string]*cii.CII
}

// New returns a CSS-CII server seeded with initial state, accepting up to
// maxConnections concurrent clients (unlimited if <= 0).
func New(maxConnections int, initial *cii.CII) *Server {
	s := &Server{
		cii:      initial.Copy(),
		prevByID: make(map[string]*cii.CII),
	}
	s.ws = wsserver.New("cii", maxConnections, s)
	return s
}

// Handler returns the http.Handler to mount at the server's URL path.
func (s *Server) Handler() http.Handler { return s.ws }

// Enabled reports whether the server currently accepts new connections.
func (s *Server) Enabled() bool { return s.ws.Enabled() }

// SetEnabled toggles whether the server accepts new connections.
func (s *Server) SetEnabled(enabled bool) { s.ws.SetEnabled(enabled) }

// OnUnexpectedMessage installs a callback invoked whenever a connected
// client sends a message (CII clients are not expected to send any).
func (s *Server) OnUnexpectedMessage(f OnMessage) { s.onMsg = f }

// CII returns a copy of the server's current CII state.
func (s *Server) CII() *cii.CII {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cii.Copy()
}

// SetCII replaces the server's current CII state. Call UpdateClients
// afterwards to propagate the change.
func (s *Server) SetCII(c *cii.CII) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.cii = c.Copy()
}

// UpdateClients pushes the current CII state to every connected client.
// By default only a diff against what was last sent to each client is
// sent, and nothing is sent at all if that diff is empty; set
// sendOnlyDiff=false to always send the full state, and sendIfEmpty=true
// to send even an empty message.
func (s *Server) UpdateClients(sendOnlyDiff, sendIfEmpty bool) {
	s.stateMu.Lock()
	current := s.cii.Copy()
	s.stateMu.Unlock()

	for _, conn := range s.ws.Connections() {
		s.stateMu.Lock()
		prev, ok := s.prevByID[conn.ID()]
		if !ok {
			prev = &cii.CII{}
		}
		s.stateMu.Unlock()

		var toSend *cii.CII
		if sendOnlyDiff {
			diff := cii.Diff(prev, current)
			// contentId must always be accompanied by its status.
			if diff.ContentID != nil {
				diff.ContentIDStatus = current.ContentIDStatus
			}
			toSend = diff
		} else {
			toSend = current
		}

		if sendIfEmpty || !isEmpty(toSend) {
			data, err := toSend.Pack()
			if err != nil {
				slog.Warn("ciiserver: failed to encode outgoing CII message", "conn", conn.ID(), "err", err)
			} else if err := conn.Send(data); err != nil {
				slog.Debug("ciiserver: failed to send CII update", "conn", conn.ID(), "err", err)
			}
		}

		s.stateMu.Lock()
		s.prevByID[conn.ID()] = current.Copy()
		s.stateMu.Unlock()
	}
}

func isEmpty(c *cii.CII) bool {
	data, err := c.Pack()
	if err != nil {
		return false
	}
	return string(data) == "{}"
}

// OnConnect implements wsserver.ConnHandler: a newly connected client is
// immediately sent the full current CII state.
func (s *Server) OnConnect(c *wsserver.Conn) {
	s.stateMu.Lock()
	current := s.cii.Copy()
	s.prevByID[c.ID()] = current.Copy()
	s.stateMu.Unlock()

	data, err := current.Pack()
	if err != nil {
		slog.Warn("ciiserver: failed to encode initial CII message", "conn", c.ID(), "err", err)
		return
	}
	if err := c.Send(data); err != nil {
		slog.Debug("ciiserver: failed to send initial CII message", "conn", c.ID(), "err", err)
	}
}

// OnMessage implements wsserver.ConnHandler.
func (s *Server) OnMessage(c *wsserver.Conn, data []byte) {
	slog.Info("ciiserver: received unexpected message from client", "conn", c.ID())
	if s.onMsg != nil {
		s.onMsg(c.ID(), data)
	}
}

// OnDisconnect implements wsserver.ConnHandler.
func (s *Server) OnDisconnect(c *wsserver.Conn) {
	s.stateMu.Lock()
	delete(s.prevByID, c.ID())
	s.stateMu.Unlock()
}
