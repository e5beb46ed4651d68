package wcproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	m := &Message{
		Type:           TypeResponseWithFollowup,
		Precision:      -10,
		MaxFreqError:   12800, // 50ppm
		OriginateNanos: 1_700_000_000_123_456_789,
		ReceiveNanos:   1_700_000_000_223_456_789,
		TransmitNanos:  1_700_000_000_323_456_789,
	}
	packed := m.Pack()
	require.Len(t, packed, MsgSize)

	got, err := Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Precision, got.Precision)
	assert.Equal(t, m.MaxFreqError, got.MaxFreqError)
	assert.Equal(t, m.OriginateNanos, got.OriginateNanos)
	assert.Equal(t, m.ReceiveNanos, got.ReceiveNanos)
	assert.Equal(t, m.TransmitNanos, got.TransmitNanos)
	assert.Nil(t, got.OriginalOriginate)
}

func TestUnpackRejectsWrongLength(t *testing.T) {
	_, err := Unpack(make([]byte, MsgSize-1))
	assert.Error(t, err)
}

func TestUnpackRejectsBadVersionOrType(t *testing.T) {
	m := &Message{Type: TypeRequest}
	packed := m.Pack()
	packed[0] = 1 // corrupt version
	_, err := Unpack(packed)
	assert.Error(t, err)

	packed2 := m.Pack()
	packed2[1] = 4 // no such type
	_, err = Unpack(packed2)
	assert.Error(t, err)
}

func TestPrecisionEncodeDecode(t *testing.T) {
	p := EncodePrecision(0.001) // ~2^-10
	assert.Equal(t, int8(-9), p)
	assert.InDelta(t, 0.001953125, DecodePrecision(p), 1e-9)
}

func TestMaxFreqErrorEncodeDecode(t *testing.T) {
	enc := EncodeMaxFreqError(50)
	assert.Equal(t, uint32(12800), enc)
	assert.InDelta(t, 50.0, DecodeMaxFreqError(enc), 1e-9)
}

func TestCopyIsIndependent(t *testing.T) {
	m := &Message{Type: TypeResponse, OriginalOriginate: &OriginalOriginate{Seconds: 1, Nanoseconds: 2}}
	cp := m.Copy()
	cp.OriginalOriginate.Seconds = 99
	assert.Equal(t, uint32(1), m.OriginalOriginate.Seconds)
}

func TestIsResponseAndIsFirstResponse(t *testing.T) {
	assert.False(t, IsResponse(TypeRequest))
	assert.True(t, IsResponse(TypeResponse))
	assert.True(t, IsResponse(TypeResponseWithFollowup))
	assert.True(t, IsResponse(TypeFollowup))

	assert.True(t, IsFirstResponse(TypeResponse))
	assert.True(t, IsFirstResponse(TypeResponseWithFollowup))
	assert.False(t, IsFirstResponse(TypeFollowup))
}
