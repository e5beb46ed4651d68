// Package ts implements the CSS-TS control-timestamp protocol messages:
// the setup-data a companion sends when it opens a timeline synchronization
// connection, the control timestamps a TS server streams back mapping
// content time to wall-clock time, and the actual/earliest/latest
// presentation timestamp a companion may report back to the server.
package ts

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/Dash-Industry-Forum/css-sync/pkg/transformers"
)

// SetupData is the message a companion sends immediately after opening a
// CSS-TS connection, requesting synchronization to the timeline matching
// timelineSelector within content identified by a stem of contentIdStem.
type SetupData struct {
	ContentIDStem    string
	TimelineSelector string
	Private          json.RawMessage
}

type setupDataWire struct {
	ContentIDStem    string          `json:"contentIdStem"`
	TimelineSelector string          `json:"timelineSelector"`
	Private          json.RawMessage `json:"private,omitempty"`
}

// Pack encodes s to its JSON wire representation.
func (s *SetupData) Pack() ([]byte, error) {
	w := setupDataWire{ContentIDStem: s.ContentIDStem, TimelineSelector: s.TimelineSelector, Private: s.Private}
	return json.Marshal(w)
}

// UnpackSetupData decodes a SetupData message from its JSON wire
// representation.
func UnpackSetupData(data []byte) (*SetupData, error) {
	var w setupDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ts: decoding setup data: %w", err)
	}
	return &SetupData{ContentIDStem: w.ContentIDStem, TimelineSelector: w.TimelineSelector, Private: w.Private}, nil
}

// Copy returns a copy of s. Private data is shared, not deep-copied.
func (s *SetupData) Copy() *SetupData {
	cp := *s
	return &cp
}

// Timestamp relates a point on the content timeline (ContentTime, measured
// in the timeline's own tick units) to a point on the wall clock
// (WallClockTime, measured in wall-clock nanosecond ticks). Both are carried
// on the wire as strings to survive values beyond a JSON number's 53 bits of
// precision; WallClockTime may additionally be +/-Inf where the protocol
// permits it (earliest/latest presentation timestamps).
type Timestamp struct {
	ContentTime   *big.Int
	WallClockTime float64
}

// NewTimestamp builds a Timestamp from int64 components.
func NewTimestamp(contentTime, wallClockTime int64) Timestamp {
	return Timestamp{ContentTime: big.NewInt(contentTime), WallClockTime: float64(wallClockTime)}
}

func (t Timestamp) copy() Timestamp {
	cp := t
	if t.ContentTime != nil {
		cp.ContentTime = new(big.Int).Set(t.ContentTime)
	}
	return cp
}

// ControlTimestamp is the message a CSS-TS server streams to companions: the
// mapping currently in force between content time and wall-clock time, and
// the timeline's current speed. Both Timestamp.ContentTime and
// TimelineSpeedMultiplier are nil together when the timeline is reported as
// unavailable; exactly one of them being nil is invalid.
type ControlTimestamp struct {
	Timestamp               Timestamp
	TimelineSpeedMultiplier *float64
}

type controlTimestampWire struct {
	ContentTime             *transformers.BigIntString `json:"contentTime"`
	WallClockTime           transformers.InfFloat       `json:"wallClockTime"`
	TimelineSpeedMultiplier *float64                    `json:"timelineSpeedMultiplier"`
}

// Pack encodes c to its JSON wire representation.
func (c *ControlTimestamp) Pack() ([]byte, error) {
	if (c.Timestamp.ContentTime == nil) != (c.TimelineSpeedMultiplier == nil) {
		return nil, fmt.Errorf("ts: contentTime and timelineSpeedMultiplier must both be set, or both be absent")
	}
	w := controlTimestampWire{
		WallClockTime:           transformers.InfFloat(c.Timestamp.WallClockTime),
		TimelineSpeedMultiplier: c.TimelineSpeedMultiplier,
	}
	if c.Timestamp.ContentTime != nil {
		w.ContentTime = &transformers.BigIntString{Int: c.Timestamp.ContentTime}
	}
	return json.Marshal(w)
}

// UnpackControlTimestamp decodes a ControlTimestamp message from its JSON
// wire representation.
func UnpackControlTimestamp(data []byte) (*ControlTimestamp, error) {
	var w controlTimestampWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ts: decoding control timestamp: %w", err)
	}
	if (w.ContentTime == nil) != (w.TimelineSpeedMultiplier == nil) {
		return nil, fmt.Errorf("ts: contentTime and timelineSpeedMultiplier must both be null, or neither must be null")
	}
	c := &ControlTimestamp{
		Timestamp:               Timestamp{WallClockTime: float64(w.WallClockTime)},
		TimelineSpeedMultiplier: w.TimelineSpeedMultiplier,
	}
	if w.ContentTime != nil {
		c.Timestamp.ContentTime = w.ContentTime.Int
	}
	return c, nil
}

// Copy returns a deep copy of c.
func (c *ControlTimestamp) Copy() *ControlTimestamp {
	cp := &ControlTimestamp{Timestamp: c.Timestamp.copy()}
	if c.TimelineSpeedMultiplier != nil {
		v := *c.TimelineSpeedMultiplier
		cp.TimelineSpeedMultiplier = &v
	}
	return cp
}

// AptEptLpt is the Actual/Earliest/Latest Presentation Timestamp message a
// companion may report back to a CSS-TS server. Actual is optional (nil
// means omitted); Earliest and Latest are always present. Earliest's
// WallClockTime may be -Inf and Latest's may be +Inf, signalling an
// unbounded presentation window in that direction.
type AptEptLpt struct {
	Actual   *Timestamp
	Earliest Timestamp
	Latest   Timestamp
}

// NewAptEptLpt returns an AptEptLpt with the default, unbounded earliest
// (-Inf) and latest (+Inf) window and no actual timestamp, matching the
// original protocol's default construction.
func NewAptEptLpt() AptEptLpt {
	return AptEptLpt{
		Earliest: Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(-1)},
		Latest:   Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(1)},
	}
}

type timestampPairWire struct {
	ContentTime   transformers.BigIntString `json:"contentTime"`
	WallClockTime transformers.InfFloat     `json:"wallClockTime"`
}

type aptEptLptWire struct {
	Actual   *timestampPairWire `json:"actual,omitempty"`
	Earliest timestampPairWire  `json:"earliest"`
	Latest   timestampPairWire  `json:"latest"`
}

// Pack encodes a to its JSON wire representation. Earliest's WallClockTime
// may be -Inf (an unbounded lower edge) but never +Inf, and Latest's may be
// +Inf (an unbounded upper edge) but never -Inf; the protocol schema
// restricts the infinity each field may carry to that one direction.
func (a *AptEptLpt) Pack() ([]byte, error) {
	if a.Earliest.ContentTime == nil || a.Latest.ContentTime == nil {
		return nil, fmt.Errorf("ts: earliest and latest contentTime are required")
	}
	if math.IsInf(a.Earliest.WallClockTime, 1) {
		return nil, fmt.Errorf("ts: earliest wallClockTime must not be +Inf")
	}
	if math.IsInf(a.Latest.WallClockTime, -1) {
		return nil, fmt.Errorf("ts: latest wallClockTime must not be -Inf")
	}
	w := aptEptLptWire{
		Earliest: timestampPairWire{ContentTime: transformers.BigIntString{Int: a.Earliest.ContentTime}, WallClockTime: transformers.InfFloat(a.Earliest.WallClockTime)},
		Latest:   timestampPairWire{ContentTime: transformers.BigIntString{Int: a.Latest.ContentTime}, WallClockTime: transformers.InfFloat(a.Latest.WallClockTime)},
	}
	if a.Actual != nil {
		if a.Actual.ContentTime == nil || math.IsInf(a.Actual.WallClockTime, 0) {
			return nil, fmt.Errorf("ts: actual contentTime and wallClockTime must both be finite")
		}
		w.Actual = &timestampPairWire{ContentTime: transformers.BigIntString{Int: a.Actual.ContentTime}, WallClockTime: transformers.InfFloat(a.Actual.WallClockTime)}
	}
	return json.Marshal(w)
}

// UnpackAptEptLpt decodes an AptEptLpt message from its JSON wire
// representation.
func UnpackAptEptLpt(data []byte) (*AptEptLpt, error) {
	var w aptEptLptWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ts: decoding actual/earliest/latest presentation timestamp: %w", err)
	}
	if math.IsInf(float64(w.Earliest.WallClockTime), 1) {
		return nil, fmt.Errorf("ts: earliest wallClockTime must not be +Inf")
	}
	if math.IsInf(float64(w.Latest.WallClockTime), -1) {
		return nil, fmt.Errorf("ts: latest wallClockTime must not be -Inf")
	}
	a := &AptEptLpt{
		Earliest: Timestamp{ContentTime: w.Earliest.ContentTime.Int, WallClockTime: float64(w.Earliest.WallClockTime)},
		Latest:   Timestamp{ContentTime: w.Latest.ContentTime.Int, WallClockTime: float64(w.Latest.WallClockTime)},
	}
	if w.Actual != nil {
		a.Actual = &Timestamp{ContentTime: w.Actual.ContentTime.Int, WallClockTime: float64(w.Actual.WallClockTime)}
	}
	return a, nil
}

// Copy returns a deep copy of a.
func (a *AptEptLpt) Copy() *AptEptLpt {
	cp := &AptEptLpt{Earliest: a.Earliest.copy(), Latest: a.Latest.copy()}
	if a.Actual != nil {
		t := a.Actual.copy()
		cp.Actual = &t
	}
	return cp
}
