package wcclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dash-Industry-Forum/css-sync/pkg/clock"
	"github.com/Dash-Industry-Forum/css-sync/pkg/wcproto"
)

var (
	candidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wcclient_candidates_total",
		Help: "Wall-clock request/response exchanges, by outcome.",
	}, []string{"outcome"})
	requestsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wcclient_requests_sent_total",
		Help: "Wall-clock requests sent.",
	})
)

func init() {
	prometheus.MustRegister(candidatesTotal, requestsSentTotal)
}

// Client is the CSS-WC protocol client: it sends requests to a single
// server address over UDP, derives a Candidate from whichever response (or
// follow-up) best matches the most recent request, and hands the result to
// an Algorithm to decide how the measurement should be used and how soon to
// measure again.
//
// One exchange may involve more than one incoming packet when the server
// uses follow-up responses: Client keeps listening until a response with no
// follow-up pending is seen, a follow-up itself is seen, or the timeout
// given by the Algorithm elapses — whichever is best (see calcQuality) is
// what gets turned into a Candidate.
type Client struct {
	conn         *net.UDPConn
	dest         *net.UDPAddr
	measureClock clock.Clock
	alg          Algorithm
	log          *slog.Logger
}

// Dial opens a UDP socket for communicating with a wall-clock server at
// dest, and binds a Client to it. measureClock supplies t1 (request sent)
// and t4 (response received) timestamps, in nanoseconds; it is typically
// the same clock whose correlation the Algorithm will be adjusting, or one
// of its ancestors.
func Dial(dest string, measureClock clock.Clock, alg Algorithm, log *slog.Logger) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("wcclient: resolving %q: %w", dest, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("wcclient: dialing %q: %w", dest, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{conn: conn, dest: addr, measureClock: measureClock, alg: alg, log: log}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run drives the request/response loop until ctx is cancelled. It never
// returns nil; the caller should treat context.Canceled as a clean stop.
func (c *Client) Run(ctx context.Context) error {
	incoming := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, incoming, readErr)

	timeout, delay := c.alg.Next(nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("wcclient: read loop: %w", err)
		case <-time.After(delay):
		}

		candidate, err := c.exchange(ctx, incoming, readErr, timeout)
		if err != nil {
			return err
		}
		if candidate != nil {
			candidatesTotal.WithLabelValues("accepted").Inc()
		} else {
			candidatesTotal.WithLabelValues("timeout").Inc()
		}
		timeout, delay = c.alg.Next(candidate)
	}
}

// exchange sends one request and collects responses until a
// quality>=qualityComplete reply is seen or timeout elapses, returning the
// Candidate derived from the best response seen (or nil on total timeout).
func (c *Client) exchange(ctx context.Context, incoming <-chan []byte, readErr <-chan error, timeout time.Duration) (*wcproto.Candidate, error) {
	req := &wcproto.Message{
		Type:           wcproto.TypeRequest,
		OriginateNanos: uint64(nanosOf(c.measureClock)),
	}
	if _, err := c.conn.Write(req.Pack()); err != nil {
		return nil, fmt.Errorf("wcclient: sending request: %w", err)
	}
	requestsSentTotal.Inc()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	const qualityComplete = 3
	bestQuality := -999
	var best *wcproto.Candidate

	for bestQuality < qualityComplete {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, fmt.Errorf("wcclient: read loop: %w", err)
		case <-deadline.C:
			return best, nil
		case data := <-incoming:
			recvNanos := uint64(nanosOf(c.measureClock))
			resp, err := wcproto.Unpack(data)
			if err != nil {
				c.log.Debug("wcclient: dropping malformed packet", "error", err)
				continue
			}
			if !wcproto.IsResponse(resp.Type) {
				continue
			}
			quality := calcQuality(req, resp)
			if quality >= bestQuality {
				bestQuality = quality
				cand, err := wcproto.NewCandidate(resp, recvNanos)
				if err != nil {
					continue
				}
				best = cand
			}
		}
	}
	return best, nil
}

func (c *Client) readLoop(ctx context.Context, out chan<- []byte, errc chan<- error) {
	buf := make([]byte, wcproto.MsgSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case errc <- err:
			default:
			}
			return
		}
		if n != wcproto.MsgSize {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- cp:
		case <-ctx.Done():
			return
		}
	}
}

func nanosOf(c clock.Clock) float64 {
	return c.Ticks() / c.TickRate() * 1e9
}

// calcQuality scores a response against the request it (may) correspond
// to. Responses matching the request's originate timestamp score higher
// than ones that don't (most likely a reply to an earlier, already
// abandoned request); a follow-up scores higher than the response it
// follows up, which in turn scores higher than a response that still has a
// follow-up pending.
func calcQuality(req, resp *wcproto.Message) int {
	offset := 0
	if req.OriginateNanos != resp.OriginateNanos {
		offset = -10
	}
	switch resp.Type {
	case wcproto.TypeResponse:
		return offset + 3
	case wcproto.TypeResponseWithFollowup:
		return offset + 2
	case wcproto.TypeFollowup:
		return offset + 4
	default:
		return offset - 999
	}
}
