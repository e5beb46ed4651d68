package wcproto

import (
	"errors"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
)

// ErrNotAResponse is returned by NewCandidate when given a message that is
// not one of the response types.
var ErrNotAResponse = errors.New("wcproto: cannot create a candidate from a non-response message")

// Candidate is a single request/response measurement derived from a
// wall-clock response, ready to be fed into a wall-clock client algorithm
// or turned directly into a clock.Correlation via CalcCorrelationFor.
type Candidate struct {
	T1, T2, T3, T4 uint64 // nanoseconds: request sent, received, response sent, response received
	Offset         float64 // server-minus-client offset estimate, nanoseconds
	RTT            float64 // round trip time, nanoseconds
	Precision      float64 // server's reported precision, seconds
	MaxFreqError   float64 // server's reported max frequency error, ppm
	Msg            *Message
}

// NewCandidate derives a Candidate from a response message and the local
// nanosecond timestamp nanosRx at which it was received.
func NewCandidate(msg *Message, nanosRx uint64) (*Candidate, error) {
	if !IsResponse(msg.Type) {
		return nil, ErrNotAResponse
	}
	t1 := msg.OriginateNanos
	t2 := msg.ReceiveNanos
	t3 := msg.TransmitNanos
	t4 := nanosRx

	return &Candidate{
		T1:           t1,
		T2:           t2,
		T3:           t3,
		T4:           t4,
		Offset:       (float64(t3+t2) - float64(t4+t1)) / 2,
		RTT:          (float64(t4) - float64(t1)) - (float64(t3) - float64(t2)),
		Precision:    msg.PrecisionSeconds(),
		MaxFreqError: msg.MaxFreqErrorPpm(),
		Msg:          msg,
	}, nil
}

// CalcCorrelationFor computes the clock.Correlation that, applied to c,
// makes it model the wall clock this candidate measured. c's parent must be
// the clock against which t1 and t4 were measured (the one the request was
// sent and response received on); t2 and t3 (the server's timestamps) are
// interpreted in c's own tick rate. If localMaxFreqErrorPpm is nil,
// clock.RootMaxFreqError(c) is used.
func (cand *Candidate) CalcCorrelationFor(c clock.Clock, localMaxFreqErrorPpm *float64) clock.Correlation {
	parent := c.Parent()
	t1 := clock.NanosToTicks(parent, float64(cand.T1))
	t4 := clock.NanosToTicks(parent, float64(cand.T4))
	t2 := clock.NanosToTicks(c, float64(cand.T2))
	t3 := clock.NanosToTicks(c, float64(cand.T3))

	mfePpm := localMaxFreqErrorPpm
	var localPpm float64
	if mfePpm == nil {
		localPpm = clock.RootMaxFreqError(c)
	} else {
		localPpm = *mfePpm
	}

	mfeC := localPpm / 1e6
	mfeS := cand.MaxFreqError / 1e6

	return clock.Correlation{
		ParentTicks: (t1 + t4) / 2.0,
		ChildTicks:  (t2 + t3) / 2.0,
		InitialError: cand.Precision + (cand.RTT/2.0+
			mfeC*(float64(cand.T4)-float64(cand.T1))+
			mfeS*(float64(cand.T3)-float64(cand.T2)))/1e9,
		ErrorGrowthRate: mfeC + mfeS,
	}
}
