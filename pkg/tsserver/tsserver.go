// Package tsserver implements a CSS-TS WebSocket server: it accepts client
// setup requests naming a content identifier stem and a timeline selector,
// and pushes Control Timestamps describing that timeline whenever they
// change. Timelines themselves are supplied by TimelineSource
// implementations attached with AttachTimelineSource.
package tsserver

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/ts"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wsserver"
)

// TimelineSource supplies Control Timestamps for one or more timeline
// selectors. A source is attached to a Server with AttachTimelineSource.
type TimelineSource interface {
	// RecognisesTimelineSelector reports whether this source can supply a
	// Control Timestamp for the given timeline selector.
	RecognisesTimelineSelector(timelineSelector string) bool

	// GetControlTimestamp returns the current Control Timestamp for the
	// given timeline selector, which RecognisesTimelineSelector must already
	// have confirmed it recognises. A nil return means "no Control
	// Timestamp yet" — the server sends nothing rather than reporting the
	// timeline unavailable.
	GetControlTimestamp(timelineSelector string) *ts.ControlTimestamp

	// TimelineSelectorNeeded is called when a timeline selector transitions
	// from having no connected clients to having at least one.
	TimelineSelectorNeeded(timelineSelector string)
	// TimelineSelectorNotNeeded is called when a timeline selector
	// transitions from having at least one connected client to having none.
	TimelineSelectorNotNeeded(timelineSelector string)
}

// Server is a CSS-TS server for a single piece of content, identified by
// ContentID. Attach one or more TimelineSource implementations to supply
// the timelines it can report on.
type Server struct {
	ws *wsserver.Server

	// OnAptEptLpt, if set, is called whenever a connected client reports an
	// Actual/Earliest/Latest Presentation Timestamp.
	OnAptEptLpt func(connID string, aptEptLpt *ts.AptEptLpt)

	mu        sync.Mutex
	contentID string
	wallClock clock.Clock
	sources   map[TimelineSource]bool
	selectors map[string]int // timeline selector -> number of connections using it

	conns map[string]*connState
}

// connState is the per-connection bookkeeping the original library kept in
// its connection-data dictionary: the client's setup request, the selector
// it counts against (so disconnect can decrement it), and the last Control
// Timestamp sent (so unchanged state is never resent).
type connState struct {
	setup  *ts.SetupData
	prevCt *ts.ControlTimestamp
}

// New returns a CSS-TS server reporting on content identified by contentID,
// with Control Timestamps expressed against wallClock, accepting up to
// maxConnections concurrent clients (unlimited if <= 0).
func New(contentID string, wallClock clock.Clock, maxConnections int) *Server {
	s := &Server{
		contentID: contentID,
		wallClock: wallClock,
		sources:   make(map[TimelineSource]bool),
		selectors: make(map[string]int),
		conns:     make(map[string]*connState),
	}
	s.ws = wsserver.New("ts", maxConnections, s)
	return s
}

// Handler returns the http.Handler to mount at the server's URL path.
func (s *Server) Handler() http.Handler { return s.ws }

// Enabled reports whether the server currently accepts new connections.
func (s *Server) Enabled() bool { return s.ws.Enabled() }

// SetEnabled toggles whether the server accepts new connections.
func (s *Server) SetEnabled(enabled bool) { s.ws.SetEnabled(enabled) }

// ContentID returns the server's current content identifier.
func (s *Server) ContentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentID
}

// SetContentID changes the content identifier the server reports against.
// Call UpdateAllClients afterwards to propagate the change: a client whose
// setup no longer matches the new identifier's stem will be sent a
// "timeline unavailable" Control Timestamp.
func (s *Server) SetContentID(contentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentID = contentID
}

// AttachTimelineSource adds a source of timelines to the server, making any
// timeline selector it recognises available to clients that request it.
func (s *Server) AttachTimelineSource(source TimelineSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source] = true
}

// RemoveTimelineSource removes a previously attached timeline source.
func (s *Server) RemoveTimelineSource(source TimelineSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, source)
}

// UpdateClient sends an updated Control Timestamp to the given connection,
// but only if it differs from the last one sent to that connection.
func (s *Server) UpdateClient(c *wsserver.Conn) {
	s.mu.Lock()
	state, ok := s.conns[c.ID()]
	if !ok || state.setup == nil {
		s.mu.Unlock()
		return
	}

	ct := &ts.ControlTimestamp{Timestamp: ts.Timestamp{WallClockTime: s.wallClock.Ticks()}}
	if ciMatchesStem(s.contentID, state.setup.ContentIDStem) {
		for source := range s.sources {
			if source.RecognisesTimelineSelector(state.setup.TimelineSelector) {
				ct = source.GetControlTimestamp(state.setup.TimelineSelector)
				break
			}
		}
	}
	prev := state.prevCt
	s.mu.Unlock()

	// A nil Control Timestamp means a source recognised the selector but
	// isn't ready to report on it yet; send nothing in that case.
	if ct == nil {
		return
	}
	if !isControlTimestampChanged(prev, ct) {
		return
	}

	data, err := ct.Pack()
	if err != nil {
		slog.Warn("tsserver: failed to encode control timestamp", "conn", c.ID(), "err", err)
		return
	}
	if err := c.Send(data); err != nil {
		slog.Debug("tsserver: failed to send control timestamp", "conn", c.ID(), "err", err)
		return
	}

	s.mu.Lock()
	if state, ok := s.conns[c.ID()]; ok {
		state.prevCt = ct
	}
	s.mu.Unlock()
}

// UpdateAllClients sends an updated Control Timestamp to every connected
// client that needs one.
func (s *Server) UpdateAllClients() {
	for _, c := range s.ws.Connections() {
		s.UpdateClient(c)
	}
}

// OnConnect implements wsserver.ConnHandler.
func (s *Server) OnConnect(c *wsserver.Conn) {
	s.mu.Lock()
	s.conns[c.ID()] = &connState{}
	s.mu.Unlock()
}

// OnMessage implements wsserver.ConnHandler. The first message from a
// client is its SetupData; every message after that is an AptEptLpt
// timestamp report.
func (s *Server) OnMessage(c *wsserver.Conn, data []byte) {
	s.mu.Lock()
	state, ok := s.conns[c.ID()]
	s.mu.Unlock()
	if !ok {
		return
	}

	if state.setup == nil {
		setup, err := ts.UnpackSetupData(data)
		if err != nil {
			slog.Info("tsserver: expected setup data but got unparseable message", "conn", c.ID(), "err", err)
			return
		}

		s.mu.Lock()
		state.setup = setup
		needed := s.selectors[setup.TimelineSelector] == 0
		s.selectors[setup.TimelineSelector]++
		sources := make([]TimelineSource, 0, len(s.sources))
		for source := range s.sources {
			sources = append(sources, source)
		}
		s.mu.Unlock()

		if needed {
			for _, source := range sources {
				source.TimelineSelectorNeeded(setup.TimelineSelector)
			}
		}
		s.UpdateClient(c)
		return
	}

	aptEptLpt, err := ts.UnpackAptEptLpt(data)
	if err != nil {
		slog.Info("tsserver: expected an AptEptLpt message but got unparseable message", "conn", c.ID(), "err", err)
		return
	}
	slog.Debug("tsserver: received presentation timestamp report", "conn", c.ID())
	if s.OnAptEptLpt != nil {
		s.OnAptEptLpt(c.ID(), aptEptLpt)
	}
}

// OnDisconnect implements wsserver.ConnHandler.
func (s *Server) OnDisconnect(c *wsserver.Conn) {
	s.mu.Lock()
	state, ok := s.conns[c.ID()]
	delete(s.conns, c.ID())
	if !ok || state.setup == nil {
		s.mu.Unlock()
		return
	}

	selector := state.setup.TimelineSelector
	s.selectors[selector]--
	notNeeded := s.selectors[selector] <= 0
	if notNeeded {
		delete(s.selectors, selector)
	}
	sources := make([]TimelineSource, 0, len(s.sources))
	for source := range s.sources {
		sources = append(sources, source)
	}
	s.mu.Unlock()

	if notNeeded {
		for _, source := range sources {
			source.TimelineSelectorNotNeeded(selector)
		}
	}
}

// ciMatchesStem reports whether a content identifier stem matches a content
// identifier: the identifier must start with, and be at least as long as,
// the stem.
func ciMatchesStem(contentID, stem string) bool {
	return strings.HasPrefix(contentID, stem)
}

// isControlTimestampChanged reports whether latest differs from prev in any
// property that matters to a client: whether the timeline remains
// unavailable is not itself a change, but any change in content time, wall
// clock time, or speed is — even while the timeline stays available.
func isControlTimestampChanged(prev, latest *ts.ControlTimestamp) bool {
	if prev == nil {
		return true
	}
	if prev.Timestamp.ContentTime == nil && latest.Timestamp.ContentTime == nil {
		return false
	}
	if (prev.Timestamp.ContentTime == nil) != (latest.Timestamp.ContentTime == nil) {
		return true
	}
	if prev.Timestamp.ContentTime.Cmp(latest.Timestamp.ContentTime) != 0 {
		return true
	}
	if prev.Timestamp.WallClockTime != latest.Timestamp.WallClockTime {
		return true
	}
	if *prev.TimelineSpeedMultiplier != *latest.TimelineSpeedMultiplier {
		return true
	}
	return false
}
