package wcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/monotonic"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wcproto"
)

func startServer(t *testing.T, followup bool) (*Server, *clock.SysClock, func()) {
	v := monotonic.NewVirtual()
	root := clock.NewSysClock(v, 1_000_000_000, 1e-6, 45)
	v.Advance(1.5) // give the wall clock a non-zero reading

	srv, err := Listen("127.0.0.1:0", root, nil)
	require.NoError(t, err)
	srv.Followup = followup

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	return srv, root, func() { cancel(); srv.Close() }
}

func sendRequest(t *testing.T, serverAddr net.Addr, originateNanos uint64) *net.UDPConn {
	conn, err := net.DialUDP("udp", nil, serverAddr.(*net.UDPAddr))
	require.NoError(t, err)
	req := &wcproto.Message{Type: wcproto.TypeRequest, OriginateNanos: originateNanos}
	_, err = conn.Write(req.Pack())
	require.NoError(t, err)
	return conn
}

func readResponse(t *testing.T, conn *net.UDPConn) *wcproto.Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, wcproto.MsgSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	msg, err := wcproto.Unpack(buf[:n])
	require.NoError(t, err)
	return msg
}

func TestServerRespondsWithoutFollowup(t *testing.T) {
	srv, root, stop := startServer(t, false)
	defer stop()

	conn := sendRequest(t, srv.LocalAddr(), 42)
	defer conn.Close()

	resp := readResponse(t, conn)
	require.Equal(t, wcproto.TypeResponse, resp.Type)
	require.Equal(t, uint64(42), resp.OriginateNanos)
	require.Equal(t, uint64(1_500_000_000), resp.ReceiveNanos)
	require.Equal(t, uint64(1_500_000_000), resp.TransmitNanos)
	require.InDelta(t, 45.0, resp.MaxFreqErrorPpm(), 0.01)
	require.InDelta(t, 1e-6, resp.PrecisionSeconds(), 2e-6)

	_ = root
}

func TestServerRespondsWithFollowup(t *testing.T) {
	srv, _, stop := startServer(t, true)
	defer stop()

	conn := sendRequest(t, srv.LocalAddr(), 7)
	defer conn.Close()

	first := readResponse(t, conn)
	require.Equal(t, wcproto.TypeResponseWithFollowup, first.Type)

	second := readResponse(t, conn)
	require.Equal(t, wcproto.TypeFollowup, second.Type)
	require.Equal(t, uint64(7), second.OriginateNanos)
}

func TestServerExplicitOverridesTakePrecedence(t *testing.T) {
	srv, _, stop := startServer(t, false)
	defer stop()

	precision := 0.25
	maxFreqError := 99.0
	srv.PrecisionSecs = &precision
	srv.MaxFreqErrorPpm = &maxFreqError

	conn := sendRequest(t, srv.LocalAddr(), 1)
	defer conn.Close()

	resp := readResponse(t, conn)
	require.InDelta(t, 0.25, resp.PrecisionSeconds(), 1e-9)
	require.InDelta(t, 99.0, resp.MaxFreqErrorPpm(), 0.01)
}

func TestServerDropsNonRequestMessages(t *testing.T) {
	srv, _, stop := startServer(t, false)
	defer stop()

	conn, err := net.DialUDP("udp", nil, srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	resp := &wcproto.Message{Type: wcproto.TypeResponse}
	_, err = conn.Write(resp.Pack())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, wcproto.MsgSize)
	_, err = conn.Read(buf)
	require.Error(t, err, "server must not reply to a non-request message")
}
