package tsserver

import (
	"sync"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/ts"
)

// SimpleTimelineSource is a TimelineSource for a single, fixed timeline
// selector whose Control Timestamp is set manually by the caller (e.g. a
// companion app's own notion of "paused" or "playing at a fixed offset",
// with no underlying clock object).
type SimpleTimelineSource struct {
	timelineSelector string

	mu sync.Mutex
	ct *ts.ControlTimestamp
}

// NewSimpleTimelineSource returns a source that reports ct for
// timelineSelector until SetControlTimestamp changes it.
func NewSimpleTimelineSource(timelineSelector string, ct *ts.ControlTimestamp) *SimpleTimelineSource {
	return &SimpleTimelineSource{timelineSelector: timelineSelector, ct: ct.Copy()}
}

// SetControlTimestamp replaces the Control Timestamp this source reports.
// Call Server.UpdateAllClients afterwards to propagate the change.
func (s *SimpleTimelineSource) SetControlTimestamp(ct *ts.ControlTimestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ct = ct.Copy()
}

func (s *SimpleTimelineSource) RecognisesTimelineSelector(timelineSelector string) bool {
	return s.timelineSelector == timelineSelector
}

func (s *SimpleTimelineSource) GetControlTimestamp(string) *ts.ControlTimestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ct.Copy()
}

func (s *SimpleTimelineSource) TimelineSelectorNeeded(string)    {}
func (s *SimpleTimelineSource) TimelineSelectorNotNeeded(string) {}

// SimpleClockTimelineSource is a TimelineSource whose Control Timestamp is
// derived from a clock.Clock representing the timeline's own flow of ticks:
// GetControlTimestamp pairs the timeline clock's current ticks with
// wallClock's current ticks and reads the speed. The result is cached, and
// recomputed only on the first call and after a bound clock notifies a
// change (AttachToServer binds the clocks). If SpeedSource is set, the
// reported speed comes from it instead of from Clock itself — useful when a
// single clock drives several timelines at different tick rates (e.g. PTS
// and TEMI) but only the shared parent's speed actually changes.
//
// Set AutoUpdate and attach the source to a Server with
// Server.AttachTimelineSource to have every change to Clock or WallClock
// immediately pushed to clients, rather than requiring a manual call to
// Server.UpdateAllClients.
type SimpleClockTimelineSource struct {
	timelineSelector string
	wallClock        clock.Clock
	timelineClock    *clock.CorrelatedClock
	speedSource      clock.Clock
	AutoUpdate       bool

	mu       sync.Mutex
	servers  map[*Server]bool
	changed  bool
	latestCt *ts.ControlTimestamp
}

// NewSimpleClockTimelineSource returns a source reporting timelineSelector
// from timelineClock's relationship to wallClock. speedSource, if non-nil,
// supplies the reported speed instead of timelineClock's own; pass nil to
// use timelineClock's speed.
func NewSimpleClockTimelineSource(timelineSelector string, wallClock clock.Clock, timelineClock *clock.CorrelatedClock, speedSource clock.Clock) *SimpleClockTimelineSource {
	s := &SimpleClockTimelineSource{
		timelineSelector: timelineSelector,
		wallClock:        wallClock,
		timelineClock:    timelineClock,
		changed:          true,
		servers:          make(map[*Server]bool),
	}
	if speedSource != nil {
		s.speedSource = speedSource
	} else {
		s.speedSource = timelineClock
	}
	return s
}

// AttachToServer attaches both the source and itself as a clock dependent to
// server, so that (with AutoUpdate set) clock changes propagate to its
// clients. Use this instead of Server.AttachTimelineSource directly so the
// source only binds to its clocks while at least one server actually wants
// it.
func (s *SimpleClockTimelineSource) AttachToServer(server *Server) {
	s.mu.Lock()
	first := len(s.servers) == 0
	s.servers[server] = true
	s.mu.Unlock()

	server.AttachTimelineSource(s)
	if first {
		s.timelineClock.Bind(s)
		s.wallClock.Bind(s)
		if s.speedSource != s.timelineClock {
			s.speedSource.Bind(s)
		}
	}
}

// RemoveFromServer reverses AttachToServer.
func (s *SimpleClockTimelineSource) RemoveFromServer(server *Server) {
	server.RemoveTimelineSource(s)

	s.mu.Lock()
	delete(s.servers, server)
	last := len(s.servers) == 0
	s.mu.Unlock()

	if last {
		s.timelineClock.Unbind(s)
		s.wallClock.Unbind(s)
		if s.speedSource != s.timelineClock {
			s.speedSource.Unbind(s)
		}
	}
}

// Notify implements clock.Dependent: a change in any bound clock
// invalidates the cached Control Timestamp, and triggers an update push to
// every attached server if AutoUpdate is set.
func (s *SimpleClockTimelineSource) Notify(clock.Clock) {
	s.mu.Lock()
	s.changed = true
	servers := make([]*Server, 0, len(s.servers))
	for server := range s.servers {
		servers = append(servers, server)
	}
	s.mu.Unlock()

	if s.AutoUpdate {
		for _, server := range servers {
			server.UpdateAllClients()
		}
	}
}

func (s *SimpleClockTimelineSource) RecognisesTimelineSelector(timelineSelector string) bool {
	return s.timelineSelector == timelineSelector
}

func (s *SimpleClockTimelineSource) GetControlTimestamp(string) *ts.ControlTimestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changed {
		s.changed = false
		if clock.Available(s.timelineClock) {
			speed := s.speedSource.Speed()
			s.latestCt = &ts.ControlTimestamp{
				Timestamp:               ts.NewTimestamp(int64(s.timelineClock.Ticks()), int64(s.wallClock.Ticks())),
				TimelineSpeedMultiplier: &speed,
			}
		} else {
			s.latestCt = &ts.ControlTimestamp{Timestamp: ts.Timestamp{WallClockTime: s.wallClock.Ticks()}}
		}
	}
	return s.latestCt.Copy()
}

func (s *SimpleClockTimelineSource) TimelineSelectorNeeded(string)    {}
func (s *SimpleClockTimelineSource) TimelineSelectorNotNeeded(string) {}
