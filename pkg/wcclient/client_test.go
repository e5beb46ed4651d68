package wcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wcproto"
)

// fakeServer answers every request it receives with a single
// TYPE_RESPONSE, no follow-up, stamping receive/transmit nanos from its own
// system clock reading.
func fakeServer(t *testing.T) (addr string, stop func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, wcproto.MsgSize)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := wcproto.Unpack(buf[:n])
			if err != nil || req.Type != wcproto.TypeRequest {
				continue
			}
			now := uint64(time.Now().UnixNano())
			resp := &wcproto.Message{
				Type:           wcproto.TypeResponse,
				OriginateNanos: req.OriginateNanos,
				ReceiveNanos:   now,
				TransmitNanos:  now + 1000,
			}
			resp.SetPrecisionSeconds(1e-6)
			resp.SetMaxFreqErrorPpm(20)
			_, _ = conn.WriteToUDP(resp.Pack(), src)
		}
	}()
	go func() {
		<-done
		conn.Close()
	}()
	return conn.LocalAddr().String(), func() { close(done) }
}

func TestClientRunAdoptsCandidateFromRealServer(t *testing.T) {
	addr, stop := fakeServer(t)
	defer stop()

	v := monotonic.NewVirtual()
	root := clock.NewSysClock(v, 1_000_000_000, 1e-6, 20)
	wc := clock.NewCorrelatedClock(root, 1_000_000_000, clock.Correlation{})
	alg := NewMostRecent(wc)
	alg.Timeout = 2 * time.Second
	alg.RepeatInterval = time.Hour // only need one exchange for this test

	client, err := Dial(addr, root, alg, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = client.Run(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// The correlation should have moved off its zero-value default: the
	// fake server's clock (real system time) is nowhere near t=0.
	corr := wc.Correlation()
	require.NotEqual(t, clock.Correlation{}, corr)
}

func TestCalcQualityPrefersMatchingOriginateAndFollowup(t *testing.T) {
	req := &wcproto.Message{Type: wcproto.TypeRequest, OriginateNanos: 100}

	matchingResponse := &wcproto.Message{Type: wcproto.TypeResponse, OriginateNanos: 100}
	staleResponse := &wcproto.Message{Type: wcproto.TypeResponse, OriginateNanos: 50}
	require.Greater(t, calcQuality(req, matchingResponse), calcQuality(req, staleResponse))

	withFollowup := &wcproto.Message{Type: wcproto.TypeResponseWithFollowup, OriginateNanos: 100}
	followup := &wcproto.Message{Type: wcproto.TypeFollowup, OriginateNanos: 100}
	require.Greater(t, calcQuality(req, followup), calcQuality(req, matchingResponse))
	require.Greater(t, calcQuality(req, matchingResponse), calcQuality(req, withFollowup))
}
