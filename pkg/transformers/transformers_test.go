package transformers

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigIntStringRoundTrip(t *testing.T) {
	want := new(big.Int)
	want.SetString("9007199254740993000", 10) // beyond float64's 53-bit mantissa
	b := BigIntString{want}

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `"9007199254740993000"`, string(data))

	var got BigIntString
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0, want.Cmp(got.Int))
}

func TestBigIntStringRejectsNonCanonicalForms(t *testing.T) {
	var got BigIntString
	for _, bad := range []string{`"007"`, `"+5"`, `"1.5"`, `"abc"`, `5`} {
		assert.Error(t, json.Unmarshal([]byte(bad), &got), bad)
	}
}

func TestInfFloatEncodesKeywords(t *testing.T) {
	data, err := json.Marshal(InfFloat(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, `"plusinfinity"`, string(data))

	data, err = json.Marshal(InfFloat(math.Inf(-1)))
	require.NoError(t, err)
	assert.Equal(t, `"minusinfinity"`, string(data))

	data, err = json.Marshal(InfFloat(42.5))
	require.NoError(t, err)
	assert.Equal(t, `42.5`, string(data))
}

func TestInfFloatDecodesKeywordsAndNumbers(t *testing.T) {
	var f InfFloat
	require.NoError(t, json.Unmarshal([]byte(`"plusinfinity"`), &f))
	assert.True(t, math.IsInf(float64(f), 1))

	require.NoError(t, json.Unmarshal([]byte(`"minusinfinity"`), &f))
	assert.True(t, math.IsInf(float64(f), -1))

	require.NoError(t, json.Unmarshal([]byte(`3.25`), &f))
	assert.Equal(t, InfFloat(3.25), f)

	assert.Error(t, json.Unmarshal([]byte(`"notinfinity"`), &f))
}

func TestURIStringValidatesOnDecode(t *testing.T) {
	var u URIString
	require.NoError(t, json.Unmarshal([]byte(`"dvb://1234.5678.1"`), &u))
	assert.Equal(t, URIString("dvb://1234.5678.1"), u)
}

func TestMatchOneOf(t *testing.T) {
	assert.NoError(t, MatchOneOf("final", "initial", "interstitial", "final"))
	assert.Error(t, MatchOneOf("bogus", "initial", "interstitial", "final"))
}

func TestDecodeOneOf(t *testing.T) {
	asInt := func(data []byte) (int, error) {
		if string(data) == "null" {
			return 0, assert.AnError
		}
		var v int
		return v, json.Unmarshal(data, &v)
	}
	asNegativeOneFromNull := func(data []byte) (int, error) {
		if string(data) == "null" {
			return -1, nil
		}
		return 0, assert.AnError
	}

	got, err := DecodeOneOf([]byte("null"), "expected int or null", asInt, asNegativeOneFromNull)
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = DecodeOneOf([]byte("42"), "expected int or null", asInt, asNegativeOneFromNull)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = DecodeOneOf([]byte(`"nope"`), "expected int or null", asInt, asNegativeOneFromNull)
	assert.Error(t, err)
}
