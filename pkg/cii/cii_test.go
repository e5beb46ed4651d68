package cii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestUnpackMinimalMessage(t *testing.T) {
	c, err := Unpack([]byte(`{"protocolVersion":"1.1","contentId":"dvb://1234.5678.01ab","contentIdStatus":"partial"}`))
	require.NoError(t, err)
	require.NotNil(t, c.ContentID)
	assert.Equal(t, "dvb://1234.5678.01ab", *c.ContentID)
	assert.Equal(t, "partial", *c.ContentIDStatus)
	assert.Nil(t, c.MrsURL)
}

func TestUnpackRejectsBadContentIdStatus(t *testing.T) {
	_, err := Unpack([]byte(`{"contentIdStatus":"bogus"}`))
	assert.Error(t, err)
}

func TestUnpackRejectsBadProtocolVersion(t *testing.T) {
	_, err := Unpack([]byte(`{"protocolVersion":"2.0"}`))
	assert.Error(t, err)
}

func TestPackOmitsUnsetFields(t *testing.T) {
	c := &CII{ContentID: strp("dvb://1234.5678.01ab"), ContentIDStatus: strp("final")}
	data, err := c.Pack()
	require.NoError(t, err)
	assert.JSONEq(t, `{"contentId":"dvb://1234.5678.01ab","contentIdStatus":"final"}`, string(data))
}

func TestPresentationStatusRoundTripsAsSpaceJoinedString(t *testing.T) {
	c := &CII{PresentationStatus: []string{"final", "okay"}}
	data, err := c.Pack()
	require.NoError(t, err)
	assert.JSONEq(t, `{"presentationStatus":"final okay"}`, string(data))

	got, err := Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"final", "okay"}, got.PresentationStatus)
}

func TestTimelineOptionRoundTrip(t *testing.T) {
	acc := 0.02
	c := &CII{
		Timelines: []TimelineOption{
			{TimelineSelector: "urn:dvb:css:timeline:pts", UnitsPerTick: 1, UnitsPerSecond: 90000},
			{TimelineSelector: "urn:dvb:css:timeline:temi:1:1", UnitsPerTick: 1, UnitsPerSecond: 1000, Accuracy: &acc},
		},
	}
	data, err := c.Pack()
	require.NoError(t, err)

	got, err := Unpack(data)
	require.NoError(t, err)
	require.Len(t, got.Timelines, 2)
	assert.Equal(t, "urn:dvb:css:timeline:pts", got.Timelines[0].TimelineSelector)
	assert.Equal(t, int64(90000), got.Timelines[0].UnitsPerSecond)
	assert.Nil(t, got.Timelines[0].Accuracy)
	require.NotNil(t, got.Timelines[1].Accuracy)
	assert.InDelta(t, 0.02, *got.Timelines[1].Accuracy, 1e-9)
}

func TestDiffOnlyCarriesChangedOrNewProperties(t *testing.T) {
	old := &CII{ContentID: strp("dvb://a"), ContentIDStatus: strp("partial")}
	newC := &CII{ContentID: strp("dvb://a"), ContentIDStatus: strp("final"), MrsURL: strp("http://mrs.example/")}

	d := Diff(old, newC)
	assert.Nil(t, d.ContentID, "unchanged property must not appear in the diff")
	require.NotNil(t, d.ContentIDStatus)
	assert.Equal(t, "final", *d.ContentIDStatus)
	require.NotNil(t, d.MrsURL)
	assert.Equal(t, "http://mrs.example/", *d.MrsURL)
}

func TestDiffNeverRetractsAPropertyOmittedInNew(t *testing.T) {
	old := &CII{ContentID: strp("dvb://a")}
	newC := &CII{ContentIDStatus: strp("final")}

	d := Diff(old, newC)
	assert.Nil(t, d.ContentID, "diff must never assert a retraction of a property old had but new omits")
	require.NotNil(t, d.ContentIDStatus)
}

func TestUpdateAndCombine(t *testing.T) {
	base := &CII{ContentID: strp("dvb://a"), ContentIDStatus: strp("partial")}
	diff := &CII{ContentIDStatus: strp("final")}

	combined := base.Combine(diff)
	assert.Equal(t, "dvb://a", *combined.ContentID)
	assert.Equal(t, "final", *combined.ContentIDStatus)
	// base itself must be untouched by Combine.
	assert.Equal(t, "partial", *base.ContentIDStatus)

	base.Update(diff)
	assert.Equal(t, "final", *base.ContentIDStatus)
}

func TestCopyIsIndependent(t *testing.T) {
	c := &CII{ContentID: strp("dvb://a"), PresentationStatus: []string{"okay"}}
	cp := c.Copy()
	*cp.ContentID = "dvb://b"
	cp.PresentationStatus[0] = "fault"

	assert.Equal(t, "dvb://a", *c.ContentID)
	assert.Equal(t, "okay", c.PresentationStatus[0])
}
