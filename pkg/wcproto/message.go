// Package wcproto implements the wire encoding of the CSS-WC wall-clock
// synchronization protocol: the fixed 32-byte UDP message format and the
// derivation of a measurement Candidate from a request/response exchange.
package wcproto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message types, per the protocol's single version-0 wire format.
const (
	TypeRequest               uint8 = 0
	TypeResponse              uint8 = 1
	TypeResponseWithFollowup  uint8 = 2
	TypeFollowup              uint8 = 3
)

// MsgSize is the fixed length, in bytes, of every wall-clock message.
const MsgSize = 32

const nanosPerSec = 1_000_000_000

// IsResponse reports whether t is one of the three response message types
// (a Candidate can only be derived from one of these).
func IsResponse(t uint8) bool {
	return t == TypeResponse || t == TypeResponseWithFollowup || t == TypeFollowup
}

// IsFirstResponse reports whether t is a response that itself carries the
// server's receive/transmit timestamps (TYPE_RESPONSE or
// TYPE_RESPONSE_WITH_FOLLOWUP, as opposed to a TYPE_FOLLOWUP that refines
// an earlier one).
func IsFirstResponse(t uint8) bool {
	return t == TypeResponse || t == TypeResponseWithFollowup
}

// OriginalOriginate preserves the exact (seconds, nanoseconds) encoding of
// an originate timestamp as received on the wire, for cases where a
// follow-up message must echo it byte-for-byte rather than an
// equivalent-but-recomputed value.
type OriginalOriginate struct {
	Seconds     uint32
	Nanoseconds uint32
}

// Message represents a single CSS-WC protocol message.
type Message struct {
	Type           uint8
	Precision      int8   // log2 seconds
	MaxFreqError   uint32 // units of 1/256th ppm
	OriginateNanos uint64
	ReceiveNanos   uint64
	TransmitNanos  uint64

	// OriginalOriginate, if not nil, is used instead of re-deriving
	// seconds/nanoseconds from OriginateNanos when packing — needed when
	// relaying an originate timestamp whose sub-second part was >=10^9 in
	// the original encoding (non-canonical, but round-trips faithfully).
	OriginalOriginate *OriginalOriginate
}

// Copy returns a duplicate of m.
func (m *Message) Copy() *Message {
	cp := *m
	if m.OriginalOriginate != nil {
		oo := *m.OriginalOriginate
		cp.OriginalOriginate = &oo
	}
	return &cp
}

// Pack encodes m into the fixed 32-byte wire format:
//
//	byte 0:    version (always 0)
//	byte 1:    message type
//	byte 2:    precision (signed)
//	byte 3:    reserved (0)
//	bytes 4-7: max frequency error
//	bytes 8-15:  originate (seconds, nanoseconds)
//	bytes 16-23: receive (seconds, nanoseconds)
//	bytes 24-31: transmit (seconds, nanoseconds)
func (m *Message) Pack() []byte {
	buf := make([]byte, MsgSize)
	buf[0] = 0
	buf[1] = m.Type
	buf[2] = byte(m.Precision)
	buf[3] = 0
	binary.BigEndian.PutUint32(buf[4:8], m.MaxFreqError)

	var os, on uint32
	if m.OriginalOriginate != nil {
		os, on = m.OriginalOriginate.Seconds, m.OriginalOriginate.Nanoseconds
	} else {
		os, on = splitNanos(m.OriginateNanos)
	}
	rs, rn := splitNanos(m.ReceiveNanos)
	ts, tn := splitNanos(m.TransmitNanos)

	binary.BigEndian.PutUint32(buf[8:12], os)
	binary.BigEndian.PutUint32(buf[12:16], on)
	binary.BigEndian.PutUint32(buf[16:20], rs)
	binary.BigEndian.PutUint32(buf[20:24], rn)
	binary.BigEndian.PutUint32(buf[24:28], ts)
	binary.BigEndian.PutUint32(buf[28:32], tn)
	return buf
}

// Unpack decodes a wall-clock message from its wire format.
func Unpack(data []byte) (*Message, error) {
	if len(data) != MsgSize {
		return nil, fmt.Errorf("wcproto: message wrong length: got %d want %d", len(data), MsgSize)
	}
	version := data[0]
	if version != 0 {
		return nil, fmt.Errorf("wcproto: unrecognised version %d", version)
	}
	msgtype := data[1]
	if msgtype > TypeFollowup {
		return nil, fmt.Errorf("wcproto: unrecognised message type %d", msgtype)
	}
	precision := int8(data[2])
	maxFreqError := binary.BigEndian.Uint32(data[4:8])
	os := binary.BigEndian.Uint32(data[8:12])
	on := binary.BigEndian.Uint32(data[12:16])
	rs := binary.BigEndian.Uint32(data[16:20])
	rn := binary.BigEndian.Uint32(data[20:24])
	ts := binary.BigEndian.Uint32(data[24:28])
	tn := binary.BigEndian.Uint32(data[28:32])

	m := &Message{
		Type:           msgtype,
		Precision:      precision,
		MaxFreqError:   maxFreqError,
		OriginateNanos: uint64(os)*nanosPerSec + uint64(on),
		ReceiveNanos:   uint64(rs)*nanosPerSec + uint64(rn),
		TransmitNanos:  uint64(ts)*nanosPerSec + uint64(tn),
	}
	if on >= nanosPerSec {
		m.OriginalOriginate = &OriginalOriginate{Seconds: os, Nanoseconds: on}
	}
	return m, nil
}

func splitNanos(nanos uint64) (seconds, remainder uint32) {
	return uint32(nanos / nanosPerSec), uint32(nanos % nanosPerSec)
}

// PrecisionSeconds decodes m.Precision (log2 seconds) into seconds.
func (m *Message) PrecisionSeconds() float64 {
	return DecodePrecision(m.Precision)
}

// SetPrecisionSeconds encodes a precision in seconds into m.Precision.
func (m *Message) SetPrecisionSeconds(secs float64) {
	m.Precision = EncodePrecision(secs)
}

// MaxFreqErrorPpm decodes m.MaxFreqError into parts per million.
func (m *Message) MaxFreqErrorPpm() float64 {
	return DecodeMaxFreqError(m.MaxFreqError)
}

// SetMaxFreqErrorPpm encodes a maximum frequency error in ppm into
// m.MaxFreqError.
func (m *Message) SetMaxFreqErrorPpm(ppm float64) {
	m.MaxFreqError = EncodeMaxFreqError(ppm)
}

// EncodePrecision converts a precision in seconds to the log2-seconds
// encoding used on the wire.
func EncodePrecision(precisionSecs float64) int8 {
	return int8(math.Ceil(math.Log2(precisionSecs)))
}

// DecodePrecision converts a wire-format precision value to seconds.
func DecodePrecision(precision int8) float64 {
	return math.Pow(2, float64(precision))
}

// EncodeMaxFreqError converts a maximum frequency error in ppm to the
// 1/256ths-of-a-ppm encoding used on the wire.
func EncodeMaxFreqError(maxFreqErrorPpm float64) uint32 {
	return uint32(math.Ceil(maxFreqErrorPpm * 256))
}

// DecodeMaxFreqError converts a wire-format max frequency error value to
// ppm.
func DecodeMaxFreqError(maxFreqError uint32) float64 {
	return float64(maxFreqError) / 256.0
}
