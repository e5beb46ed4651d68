// Package tsclient implements the client side of the CSS-TS timeline
// synchronization protocol: a low-level Connection that exchanges setup
// data and control timestamps with a CSS-TS server, and a ClockController
// that drives a clock.CorrelatedClock to track the timeline it describes.
package tsclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/ts"
)

var dialer = websocket.DefaultDialer

// Connection is the low-level CSS-TS client: it sends a SetupData message
// as soon as the connection opens, requesting a specific timeline, and
// reports every ControlTimestamp the server subsequently sends without
// judging whether it constitutes a change. Use SendTimestamp to report
// Actual/Earliest/Latest Presentation Timestamps back to the server.
type Connection struct {
	URL              string
	ContentIDStem    string
	TimelineSelector string

	OnConnected        func()
	OnDisconnected     func(err error)
	OnControlTimestamp func(ct *ts.ControlTimestamp)
	OnProtocolError    func(err error)

	mu sync.Mutex
	ws *websocket.Conn
}

// NewConnection returns a Connection that will request timelineSelector for
// content matching contentIDStem from the CSS-TS server at url.
func NewConnection(url, contentIDStem, timelineSelector string) *Connection {
	return &Connection{URL: url, ContentIDStem: contentIDStem, TimelineSelector: timelineSelector}
}

// Connected reports whether the connection is currently open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Connect opens the connection, sends the SetupData message, and starts the
// background goroutine that reads and reports control timestamps.
func (c *Connection) Connect(ctx context.Context) error {
	ws, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("tsclient: connecting to %s: %w", c.URL, err)
	}

	setup := &ts.SetupData{ContentIDStem: c.ContentIDStem, TimelineSelector: c.TimelineSelector}
	data, err := setup.Pack()
	if err != nil {
		ws.Close()
		return fmt.Errorf("tsclient: encoding setup data: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.Close()
		return fmt.Errorf("tsclient: sending setup data: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	if c.OnConnected != nil {
		c.OnConnected()
	}
	go c.readLoop(ws)
	return nil
}

// Disconnect closes the connection. Safe to call even if never connected.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.Close()
}

// SendTimestamp sends an Actual/Earliest/Latest Presentation Timestamp
// message to the server.
func (c *Connection) SendTimestamp(aptEptLpt *ts.AptEptLpt) error {
	data, err := aptEptLpt.Pack()
	if err != nil {
		return fmt.Errorf("tsclient: encoding timestamp: %w", err)
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("tsclient: not connected")
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			if c.OnDisconnected != nil {
				c.OnDisconnected(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		ct, err := ts.UnpackControlTimestamp(data)
		if err != nil {
			if c.OnProtocolError != nil {
				c.OnProtocolError(fmt.Errorf("tsclient: message could not be parsed as a control timestamp: %w", err))
			}
			continue
		}
		if c.OnControlTimestamp != nil {
			c.OnControlTimestamp(ct)
		}
	}
}

// ClockController manages a CSS-TS connection and drives timelineClock to
// track the timeline the server describes: timelineClock's correlation and
// speed are updated from every ControlTimestamp that changes them by more
// than ChangeThreshold, and its availability reflects whether the server
// currently reports the timeline as available at all.
//
// timelineClock's tick rate must already match the timeline's, and its
// parent (all the way to the root) must represent the wall clock the
// server's wall-clock times are expressed against.
type ClockController struct {
	conn *Connection

	TimelineClock   *clock.CorrelatedClock
	ChangeThreshold float64

	// EarliestClock and LatestClock, if set, are reported to the server by
	// SendAptEptLpt as the earliest/latest presentation timing this
	// companion can achieve. Both are expressed on the same timeline as
	// TimelineClock.
	EarliestClock *clock.CorrelatedClock
	LatestClock   *clock.CorrelatedClock

	OnConnected           func()
	OnDisconnected        func()
	OnTimelineAvailable   func()
	OnTimelineUnavailable func()
	OnTimingChange        func(speedChanged bool)
	OnProtocolError       func(err error)

	mu       sync.Mutex
	latestCt *ts.ControlTimestamp
}

// NewClockController builds a ClockController that will request
// timelineSelector for content matching contentIDStem from the CSS-TS
// server at tsURL, driving timelineClock to track it. ChangeThreshold
// defaults to the original library's 100 microseconds.
func NewClockController(tsURL, contentIDStem, timelineSelector string, timelineClock *clock.CorrelatedClock) *ClockController {
	cc := &ClockController{
		TimelineClock:   timelineClock,
		ChangeThreshold: 0.0001,
	}
	cc.conn = NewConnection(tsURL, contentIDStem, timelineSelector)
	cc.conn.OnConnected = cc.onConnectionOpen
	cc.conn.OnDisconnected = cc.onConnectionClose
	cc.conn.OnControlTimestamp = cc.onControlTimestamp
	cc.conn.OnProtocolError = cc.onProtocolError
	return cc
}

// Connect opens the connection.
func (cc *ClockController) Connect(ctx context.Context) error { return cc.conn.Connect(ctx) }

// Disconnect closes the connection.
func (cc *ClockController) Disconnect() error { return cc.conn.Disconnect() }

// Connected reports whether the connection is currently open.
func (cc *ClockController) Connected() bool { return cc.conn.Connected() }

// LatestControlTimestamp returns the most recently received control
// timestamp, or nil if none has been received yet.
func (cc *ClockController) LatestControlTimestamp() *ts.ControlTimestamp {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.latestCt == nil {
		return nil
	}
	return cc.latestCt.Copy()
}

// TimelineAvailable reports whether the most recently received control
// timestamp indicates the timeline is available. Prefer
// clock.Available(cc.TimelineClock), which this drives.
func (cc *ClockController) TimelineAvailable() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.latestCt != nil && cc.latestCt.Timestamp.ContentTime != nil
}

func (cc *ClockController) onConnectionOpen() {
	if cc.OnConnected != nil {
		cc.OnConnected()
	}
}

func (cc *ClockController) onConnectionClose(error) {
	if clock.Available(cc.TimelineClock) {
		_ = cc.TimelineClock.SetAvailability(false)
		if cc.OnTimelineUnavailable != nil {
			cc.OnTimelineUnavailable()
		}
	}
	if cc.OnDisconnected != nil {
		cc.OnDisconnected()
	}
}

func (cc *ClockController) onProtocolError(err error) {
	if cc.OnProtocolError != nil {
		cc.OnProtocolError(err)
	}
}

func (cc *ClockController) onControlTimestamp(ct *ts.ControlTimestamp) {
	cc.mu.Lock()
	cc.latestCt = ct
	cc.mu.Unlock()
	slog.Debug("tsclient: received control timestamp")

	available := ct.Timestamp.ContentTime != nil
	wasAvailable := clock.Available(cc.TimelineClock)
	availChanged := available != wasAvailable

	var corrSpeedChanged, speedChanged bool
	var newCorr clock.Correlation
	var newSpeed float64
	if available {
		newSpeed = *ct.TimelineSpeedMultiplier
		newCorr = clock.Correlation{
			ParentTicks: ct.Timestamp.WallClockTime,
			ChildTicks:  float64(ct.Timestamp.ContentTime.Int64()),
		}
		corrSpeedChanged = cc.TimelineClock.IsChangeSignificant(newCorr, newSpeed, cc.ChangeThreshold)
		speedChanged = cc.TimelineClock.Speed() != newSpeed
	}

	// Correlation/speed are updated before availability so that a clock
	// becoming available is never immediately followed by a correlation
	// jump: downstream code reacting to availability sees settled timing.
	if corrSpeedChanged {
		cc.TimelineClock.SetCorrelation(newCorr)
		cc.TimelineClock.SetSpeed(newSpeed)
	}
	if availChanged {
		_ = cc.TimelineClock.SetAvailability(available)
	}

	if available && corrSpeedChanged && cc.OnTimingChange != nil {
		cc.OnTimingChange(speedChanged)
	}
	if availChanged {
		if available && cc.OnTimelineAvailable != nil {
			cc.OnTimelineAvailable()
		} else if !available && cc.OnTimelineUnavailable != nil {
			cc.OnTimelineUnavailable()
		}
	}
}

// SendAptEptLpt sends an Actual/Earliest/Latest Presentation Timestamp to
// the server. The earliest/latest timestamps are derived from
// EarliestClock/LatestClock if set and available, otherwise default to an
// unbounded window at the timeline's current position. The actual
// timestamp is included only if includeApt is true and TimelineClock is
// itself available.
func (cc *ClockController) SendAptEptLpt(includeApt bool) error {
	now := int64(cc.TimelineClock.Ticks())
	ael := ts.AptEptLpt{}

	if cc.EarliestClock != nil && clock.Available(cc.EarliestClock) {
		corr := cc.EarliestClock.Correlation()
		ael.Earliest = timestampFromCorrelation(corr)
	} else {
		ael.Earliest = ts.Timestamp{ContentTime: big.NewInt(now), WallClockTime: math.Inf(-1)}
	}

	if cc.LatestClock != nil && clock.Available(cc.LatestClock) {
		corr := cc.LatestClock.Correlation()
		ael.Latest = timestampFromCorrelation(corr)
	} else {
		ael.Latest = ts.Timestamp{ContentTime: big.NewInt(now), WallClockTime: math.Inf(1)}
	}

	if includeApt && clock.Available(cc.TimelineClock) {
		t := timestampFromCorrelation(cc.TimelineClock.Correlation())
		ael.Actual = &t
	}

	return cc.conn.SendTimestamp(&ael)
}

func timestampFromCorrelation(corr clock.Correlation) ts.Timestamp {
	return ts.Timestamp{ContentTime: big.NewInt(int64(corr.ChildTicks)), WallClockTime: corr.ParentTicks}
}

// GetStatusSummary returns a human readable description of the timeline's
// current state, for diagnostic logging or display.
func (cc *ClockController) GetStatusSummary() string {
	cc.mu.Lock()
	ct := cc.latestCt
	cc.mu.Unlock()
	if ct == nil {
		return "Nothing received from TV yet."
	}
	if !clock.Available(cc.TimelineClock) {
		return "Status: NOT available."
	}
	speed := cc.TimelineClock.Speed()
	pos := cc.TimelineClock.Ticks() / cc.TimelineClock.TickRate()
	return fmt.Sprintf("Status: AVAILABLE.  Speed = %.2f  Timeline position = %.3f secs", speed, pos)
}
