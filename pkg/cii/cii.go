// Package cii implements the CSS-CII content identification and status
// message: the JSON structure a CII server sends (and updates) describing
// the content currently being presented, and the optional timeline options
// through which a companion can then request a CSS-TS synchronization
// timeline.
package cii

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/Dash-Industry-Forum/css-sync/pkg/transformers"
)

// TimelineOption describes one timeline a CII server is offering: the
// selector a companion would use to request it from a CSS-TS server, the
// timeline's tick rate (expressed, as in the wire format, as the fraction
// unitsPerSecond/unitsPerTick), and optionally its accuracy with respect to
// the content and any private extension data.
type TimelineOption struct {
	TimelineSelector string
	UnitsPerTick     int64
	UnitsPerSecond   int64
	Accuracy         *float64
	Private          json.RawMessage
}

type timelineOptionWire struct {
	TimelineSelector   string          `json:"timelineSelector"`
	Private            json.RawMessage `json:"private,omitempty"`
	TimelineProperties struct {
		UnitsPerTick   int64    `json:"unitsPerTick"`
		UnitsPerSecond int64    `json:"unitsPerSecond"`
		Accuracy       *float64 `json:"accuracy,omitempty"`
	} `json:"timelineProperties"`
}

func (t TimelineOption) MarshalJSON() ([]byte, error) {
	var w timelineOptionWire
	w.TimelineSelector = t.TimelineSelector
	w.Private = t.Private
	w.TimelineProperties.UnitsPerTick = t.UnitsPerTick
	w.TimelineProperties.UnitsPerSecond = t.UnitsPerSecond
	w.TimelineProperties.Accuracy = t.Accuracy
	return json.Marshal(w)
}

func (t *TimelineOption) UnmarshalJSON(data []byte) error {
	var w timelineOptionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("cii: decoding timeline option: %w", err)
	}
	if w.TimelineSelector == "" {
		return fmt.Errorf("cii: timeline option missing timelineSelector")
	}
	*t = TimelineOption{
		TimelineSelector: w.TimelineSelector,
		UnitsPerTick:     w.TimelineProperties.UnitsPerTick,
		UnitsPerSecond:   w.TimelineProperties.UnitsPerSecond,
		Accuracy:         w.TimelineProperties.Accuracy,
		Private:          w.Private,
	}
	return nil
}

// presentationStatus is carried on the wire as a single space-separated
// string (e.g. "final okay") but handled in code as a slice of tokens.
type presentationStatus []string

func (p presentationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(p, " "))
}

func (p *presentationStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cii: presentationStatus must be a string: %w", err)
	}
	if s == "" {
		return fmt.Errorf("cii: presentationStatus must not be empty")
	}
	*p = strings.Split(s, " ")
	return nil
}

// CII is a CSS-CII protocol message. Every field is a pointer or a nil-able
// slice: a nil value means the property is omitted, both from the wire
// representation and from Diff/Update/Combine's notion of "no opinion on
// this property" (the protocol's OMIT sentinel).
type CII struct {
	ProtocolVersion    *string          `json:"protocolVersion,omitempty"`
	MrsURL             *string          `json:"mrsUrl,omitempty"`
	ContentID          *string          `json:"contentId,omitempty"`
	ContentIDStatus    *string          `json:"contentIdStatus,omitempty"`
	PresentationStatus []string         `json:"presentationStatus,omitempty"`
	WcURL              *string          `json:"wcUrl,omitempty"`
	TsURL              *string          `json:"tsUrl,omitempty"`
	TeURL              *string          `json:"teUrl,omitempty"`
	Timelines          []TimelineOption `json:"timelines,omitempty"`
	Private            json.RawMessage  `json:"private,omitempty"`
}

// wire mirrors CII but substitutes presentationStatus's wire type, since
// Go cannot attach MarshalJSON to another package's []string field without
// a distinct named type.
type wire struct {
	ProtocolVersion    *string            `json:"protocolVersion,omitempty"`
	MrsURL             *string            `json:"mrsUrl,omitempty"`
	ContentID          *string            `json:"contentId,omitempty"`
	ContentIDStatus    *string            `json:"contentIdStatus,omitempty"`
	PresentationStatus presentationStatus `json:"presentationStatus,omitempty"`
	WcURL              *string            `json:"wcUrl,omitempty"`
	TsURL              *string            `json:"tsUrl,omitempty"`
	TeURL              *string            `json:"teUrl,omitempty"`
	Timelines          []TimelineOption   `json:"timelines,omitempty"`
	Private            json.RawMessage    `json:"private,omitempty"`
}

// Pack encodes c to its JSON wire representation.
func (c *CII) Pack() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := wire{
		ProtocolVersion:    c.ProtocolVersion,
		MrsURL:             c.MrsURL,
		ContentID:          c.ContentID,
		ContentIDStatus:    c.ContentIDStatus,
		PresentationStatus: c.PresentationStatus,
		WcURL:              c.WcURL,
		TsURL:              c.TsURL,
		TeURL:              c.TeURL,
		Timelines:          c.Timelines,
		Private:            c.Private,
	}
	return json.Marshal(w)
}

// Unpack decodes a CII message from its JSON wire representation.
func Unpack(data []byte) (*CII, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("cii: decoding message: %w", err)
	}
	c := &CII{
		ProtocolVersion: w.ProtocolVersion,
		MrsURL:          w.MrsURL,
		ContentID:       w.ContentID,
		ContentIDStatus: w.ContentIDStatus,
		WcURL:           w.WcURL,
		TsURL:           w.TsURL,
		TeURL:           w.TeURL,
		Timelines:       w.Timelines,
		Private:         w.Private,
	}
	if w.PresentationStatus != nil {
		c.PresentationStatus = []string(w.PresentationStatus)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every set property against the constraints the protocol
// places on it (protocolVersion is always "1.1", contentIdStatus is
// "partial" or "final", the four URL properties are well-formed URIs).
func (c *CII) Validate() error {
	if c.ProtocolVersion != nil {
		if err := transformers.MatchOneOf(*c.ProtocolVersion, "1.1"); err != nil {
			return fmt.Errorf("cii: protocolVersion: %w", err)
		}
	}
	if c.ContentIDStatus != nil {
		if err := transformers.MatchOneOf(*c.ContentIDStatus, "partial", "final"); err != nil {
			return fmt.Errorf("cii: contentIdStatus: %w", err)
		}
	}
	for name, v := range map[string]*string{"mrsUrl": c.MrsURL, "contentId": c.ContentID, "wcUrl": c.WcURL, "tsUrl": c.TsURL, "teUrl": c.TeURL} {
		if v == nil {
			continue
		}
		if _, err := json.Marshal(transformers.URIString(*v)); err != nil {
			return fmt.Errorf("cii: %s: %w", name, err)
		}
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *CII) Copy() *CII {
	cp := &CII{}
	*cp = *c
	cp.ProtocolVersion = clonePtr(c.ProtocolVersion)
	cp.MrsURL = clonePtr(c.MrsURL)
	cp.ContentID = clonePtr(c.ContentID)
	cp.ContentIDStatus = clonePtr(c.ContentIDStatus)
	if c.PresentationStatus != nil {
		cp.PresentationStatus = append([]string(nil), c.PresentationStatus...)
	}
	cp.WcURL = clonePtr(c.WcURL)
	cp.TsURL = clonePtr(c.TsURL)
	cp.TeURL = clonePtr(c.TeURL)
	if c.Timelines != nil {
		cp.Timelines = append([]TimelineOption(nil), c.Timelines...)
	}
	if c.Private != nil {
		cp.Private = append(json.RawMessage(nil), c.Private...)
	}
	return cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// Diff returns a CII carrying only the properties of newC that differ from
// (or are present in newC but absent from) oldC. A property omitted in
// newC never appears in the result, even if it was present in oldC — per
// the protocol, a diff only ever asserts new values, never retractions.
func Diff(oldC, newC *CII) *CII {
	d := &CII{}
	d.ProtocolVersion = diffPtr(oldC.ProtocolVersion, newC.ProtocolVersion)
	d.MrsURL = diffPtr(oldC.MrsURL, newC.MrsURL)
	d.ContentID = diffPtr(oldC.ContentID, newC.ContentID)
	d.ContentIDStatus = diffPtr(oldC.ContentIDStatus, newC.ContentIDStatus)
	d.PresentationStatus = diffSlice(oldC.PresentationStatus, newC.PresentationStatus)
	d.WcURL = diffPtr(oldC.WcURL, newC.WcURL)
	d.TsURL = diffPtr(oldC.TsURL, newC.TsURL)
	d.TeURL = diffPtr(oldC.TeURL, newC.TeURL)
	d.Timelines = diffSlice(oldC.Timelines, newC.Timelines)
	if newC.Private != nil && !reflect.DeepEqual(oldC.Private, newC.Private) {
		d.Private = newC.Private
	}
	return d
}

func diffPtr[T any](oldV, newV *T) *T {
	if newV == nil {
		return nil
	}
	if oldV == nil || !reflect.DeepEqual(*oldV, *newV) {
		return newV
	}
	return nil
}

func diffSlice[T any](oldV, newV []T) []T {
	if newV == nil {
		return nil
	}
	if !reflect.DeepEqual(oldV, newV) {
		return newV
	}
	return nil
}

// Update applies every non-omitted property of diff onto c, in place.
func (c *CII) Update(diff *CII) {
	if diff.ProtocolVersion != nil {
		c.ProtocolVersion = diff.ProtocolVersion
	}
	if diff.MrsURL != nil {
		c.MrsURL = diff.MrsURL
	}
	if diff.ContentID != nil {
		c.ContentID = diff.ContentID
	}
	if diff.ContentIDStatus != nil {
		c.ContentIDStatus = diff.ContentIDStatus
	}
	if diff.PresentationStatus != nil {
		c.PresentationStatus = diff.PresentationStatus
	}
	if diff.WcURL != nil {
		c.WcURL = diff.WcURL
	}
	if diff.TsURL != nil {
		c.TsURL = diff.TsURL
	}
	if diff.TeURL != nil {
		c.TeURL = diff.TeURL
	}
	if diff.Timelines != nil {
		c.Timelines = diff.Timelines
	}
	if diff.Private != nil {
		c.Private = diff.Private
	}
}

// Combine returns a copy of c with diff applied via Update.
func (c *CII) Combine(diff *CII) *CII {
	cp := c.Copy()
	cp.Update(diff)
	return cp
}
