package ts

import (
	"math"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bigIntComparer lets cmp.Diff compare *big.Int by value: assert.Equal's
// reflect.DeepEqual already does this correctly, but cmp.Diff would
// otherwise panic on big.Int's unexported fields, and its output pinpoints
// exactly which field of a multi-field message struct differs.
var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
})

func TestSetupDataRoundTrip(t *testing.T) {
	s := &SetupData{ContentIDStem: "dvb://1004", TimelineSelector: "urn:dvb:css:timeline:pts"}
	data, err := s.Pack()
	require.NoError(t, err)
	assert.JSONEq(t, `{"contentIdStem":"dvb://1004","timelineSelector":"urn:dvb:css:timeline:pts"}`, string(data))

	got, err := UnpackSetupData(data)
	require.NoError(t, err)
	assert.Equal(t, s.ContentIDStem, got.ContentIDStem)
	assert.Equal(t, s.TimelineSelector, got.TimelineSelector)
}

func TestSetupDataAllowsEmptyContentIdStem(t *testing.T) {
	got, err := UnpackSetupData([]byte(`{"timelineSelector":"urn:dvb:css:timeline:temi:1:1","contentIdStem":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", got.ContentIDStem)
}

func TestControlTimestampRoundTrip(t *testing.T) {
	speed := 1.0
	c := &ControlTimestamp{Timestamp: NewTimestamp(12345, 900028432), TimelineSpeedMultiplier: &speed}
	data, err := c.Pack()
	require.NoError(t, err)
	assert.JSONEq(t, `{"contentTime":"12345","wallClockTime":"900028432","timelineSpeedMultiplier":1.0}`, string(data))

	got, err := UnpackControlTimestamp(data)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.Timestamp.ContentTime.Int64())
	assert.Equal(t, float64(900028432), got.Timestamp.WallClockTime)
	require.NotNil(t, got.TimelineSpeedMultiplier)
	assert.Equal(t, 1.0, *got.TimelineSpeedMultiplier)
}

func TestControlTimestampUnavailableTimelineIsNilSpeedAndContentTime(t *testing.T) {
	data := []byte(`{"contentTime":null,"wallClockTime":"348957623498576","timelineSpeedMultiplier":null}`)
	got, err := UnpackControlTimestamp(data)
	require.NoError(t, err)
	assert.Nil(t, got.Timestamp.ContentTime)
	assert.Nil(t, got.TimelineSpeedMultiplier)
}

func TestControlTimestampRejectsOnlyOneOfContentTimeAndSpeedNull(t *testing.T) {
	_, err := UnpackControlTimestamp([]byte(`{"contentTime":"1","wallClockTime":"1","timelineSpeedMultiplier":null}`))
	assert.Error(t, err)

	speed := 1.0
	c := &ControlTimestamp{Timestamp: Timestamp{ContentTime: nil, WallClockTime: 1}, TimelineSpeedMultiplier: &speed}
	_, err = c.Pack()
	assert.Error(t, err)
}

func TestAptEptLptDefaultsToUnboundedWindow(t *testing.T) {
	a := NewAptEptLpt()
	data, err := a.Pack()
	require.NoError(t, err)
	assert.JSONEq(t, `{"earliest":{"contentTime":"0","wallClockTime":"minusinfinity"},"latest":{"contentTime":"0","wallClockTime":"plusinfinity"}}`, string(data))
}

func TestAptEptLptRoundTripWithActual(t *testing.T) {
	a := &AptEptLpt{
		Actual:   &Timestamp{ContentTime: big.NewInt(1005), WallClockTime: 10947820},
		Earliest: Timestamp{ContentTime: big.NewInt(1000), WallClockTime: 10059237},
		Latest:   Timestamp{ContentTime: big.NewInt(1000), WallClockTime: 19284782},
	}
	data, err := a.Pack()
	require.NoError(t, err)

	got, err := UnpackAptEptLpt(data)
	require.NoError(t, err)
	require.NotNil(t, got.Actual)
	assert.Equal(t, int64(1005), got.Actual.ContentTime.Int64())
	assert.Equal(t, float64(10947820), got.Actual.WallClockTime)
	assert.Equal(t, int64(1000), got.Earliest.ContentTime.Int64())
}

func TestAptEptLptRejectsInfiniteActualWallClockTime(t *testing.T) {
	a := &AptEptLpt{
		Actual:   &Timestamp{ContentTime: big.NewInt(1), WallClockTime: math.Inf(1)},
		Earliest: Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(-1)},
		Latest:   Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(1)},
	}
	_, err := a.Pack()
	assert.Error(t, err)
}

func TestAptEptLptRoundTripMatchesFieldByField(t *testing.T) {
	want := &AptEptLpt{
		Actual:   &Timestamp{ContentTime: big.NewInt(1005), WallClockTime: 10947820},
		Earliest: Timestamp{ContentTime: big.NewInt(1000), WallClockTime: math.Inf(-1)},
		Latest:   Timestamp{ContentTime: big.NewInt(1000), WallClockTime: math.Inf(1)},
	}
	data, err := want.Pack()
	require.NoError(t, err)

	got, err := UnpackAptEptLpt(data)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, bigIntComparer); diff != "" {
		t.Errorf("round trip changed the message (-want +got):\n%s", diff)
	}
}

func TestAptEptLptRejectsWrongDirectionInfinity(t *testing.T) {
	wrongEarliest := &AptEptLpt{
		Earliest: Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(1)},
		Latest:   Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(1)},
	}
	_, err := wrongEarliest.Pack()
	assert.Error(t, err)

	wrongLatest := &AptEptLpt{
		Earliest: Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(-1)},
		Latest:   Timestamp{ContentTime: big.NewInt(0), WallClockTime: math.Inf(-1)},
	}
	_, err = wrongLatest.Pack()
	assert.Error(t, err)

	_, err = UnpackAptEptLpt([]byte(`{"earliest":{"contentTime":"0","wallClockTime":"plusinfinity"},"latest":{"contentTime":"0","wallClockTime":"plusinfinity"}}`))
	assert.Error(t, err)

	_, err = UnpackAptEptLpt([]byte(`{"earliest":{"contentTime":"0","wallClockTime":"minusinfinity"},"latest":{"contentTime":"0","wallClockTime":"minusinfinity"}}`))
	assert.Error(t, err)
}

func TestAptEptLptCopyIsIndependent(t *testing.T) {
	a := NewAptEptLpt()
	cp := a.Copy()
	cp.Earliest.ContentTime.SetInt64(99)
	assert.Equal(t, int64(0), a.Earliest.ContentTime.Int64())
}
