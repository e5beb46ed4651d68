// Package transformers provides the small set of JSON encode/decode helpers
// shared by the CII and TS protocol codecs: values that need a
// representation different from encoding/json's defaults — arbitrary
// precision integers carried as strings (JSON numbers lose precision past
// 53 bits), signed infinity as a keyword string, and loosely-validated URI
// strings.
package transformers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
)

// BigIntString carries an arbitrary-precision integer (typically a clock
// tick count) through JSON as a decimal string, so that values exceeding
// the 53 bits of precision a JSON number can losslessly round-trip through
// a standard decoder are not silently truncated.
type BigIntString struct {
	*big.Int
}

var intAsStringRe = regexp.MustCompile(`^(0|-?[1-9][0-9]*)$`)

// NewBigIntString wraps an int64 tick value.
func NewBigIntString(v int64) BigIntString {
	return BigIntString{big.NewInt(v)}
}

func (b BigIntString) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return nil, fmt.Errorf("transformers: nil BigIntString")
	}
	return json.Marshal(b.Int.String())
}

func (b *BigIntString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("transformers: int-as-string must be a JSON string: %w", err)
	}
	if !intAsStringRe.MatchString(s) {
		return fmt.Errorf("transformers: %q is not a canonical decimal integer", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("transformers: %q is not a valid integer", s)
	}
	b.Int = v
	return nil
}

// InfFloat is a float64 that encodes +Inf and -Inf as the keyword strings
// "plusinfinity" and "minusinfinity" instead of failing (as encoding/json's
// plain float64 does) or being silently coerced.
type InfFloat float64

func (f InfFloat) MarshalJSON() ([]byte, error) {
	switch {
	case math.IsInf(float64(f), 1):
		return json.Marshal("plusinfinity")
	case math.IsInf(float64(f), -1):
		return json.Marshal("minusinfinity")
	default:
		return json.Marshal(float64(f))
	}
}

func (f *InfFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "plusinfinity":
			*f = InfFloat(math.Inf(1))
			return nil
		case "minusinfinity":
			*f = InfFloat(math.Inf(-1))
			return nil
		default:
			return fmt.Errorf("transformers: %q is not plusinfinity/minusinfinity", s)
		}
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("transformers: not a number or infinity keyword: %w", err)
	}
	*f = InfFloat(v)
	return nil
}

// URIString is a string validated (loosely, per RFC 3986 appendix B's
// generic-syntax regular expression — it does not reject every invalid URI,
// only confirms the five-part structure is present) to look like a URI on
// decode.
type URIString string

// uriRe is RFC 3986 appendix B's regex for splitting a URI reference into
// scheme/authority/path/query/fragment groups. It matches almost any
// string, including the empty string and strings with control characters;
// the only strings it rejects are those with a newline after a '#'.
var uriRe = regexp.MustCompile(`^(([^:/?#]+):)?(//([^/?#]*))?([^?#]*)(\?([^#]*))?(#(.*))?$`)

func (u URIString) MarshalJSON() ([]byte, error) {
	if !uriRe.MatchString(string(u)) {
		return nil, fmt.Errorf("transformers: %q is not a valid URI", string(u))
	}
	return json.Marshal(string(u))
}

func (u *URIString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !uriRe.MatchString(s) {
		return fmt.Errorf("transformers: %q is not a valid URI", s)
	}
	*u = URIString(s)
	return nil
}

// MatchOneOf returns an error unless value is one of allowed. It is used to
// validate enum-like string fields (e.g. a presentation-status entry)
// during decode.
func MatchOneOf[T comparable](value T, allowed ...T) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("transformers: %v is not one of %v", value, allowed)
}

// DecodeOneOf tries each decode function in order against data, returning
// the first one that succeeds without error. It is used where a JSON field
// may validly take one of several distinct shapes (e.g. a timestamp field
// that is usually a number but may instead be the literal string "null",
// meaning "not currently available").
func DecodeOneOf[T any](data []byte, errMsg string, decoders ...func([]byte) (T, error)) (T, error) {
	var zero T
	for _, d := range decoders {
		v, err := d(data)
		if err == nil {
			return v, nil
		}
	}
	return zero, fmt.Errorf("transformers: %s (value: %s)", errMsg, bytes.TrimSpace(data))
}
