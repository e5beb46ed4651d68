package wsserver

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	connected []*Conn
	messages  [][]byte
	disconns  int
}

func (h *recordingHandler) OnConnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, c)
}

func (h *recordingHandler) OnMessage(c *Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
	_ = c.Send(append([]byte("echo:"), data...))
}

func (h *recordingHandler) OnDisconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconns++
}

func dialTestServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestServerAcceptsAndEchoesMessages(t *testing.T) {
	h := &recordingHandler{}
	s := New("test", 0, h)
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialTestServer(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(data))
}

func TestServerRejectsWhenDisabled(t *testing.T) {
	h := &recordingHandler{}
	s := New("test-disabled", 0, h)
	s.SetEnabled(false)
	ts := httptest.NewServer(s)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestServerRejectsAtConnectionCap(t *testing.T) {
	h := &recordingHandler{}
	s := New("test-cap", 1, h)
	ts := httptest.NewServer(s)
	defer ts.Close()

	first := dialTestServer(t, ts)
	defer first.Close()
	time.Sleep(50 * time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestDisconnectCallbackFiresOnClientClose(t *testing.T) {
	h := &recordingHandler{}
	s := New("test-disconnect", 0, h)
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialTestServer(t, ts)
	conn.Close()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.disconns == 1
	}, time.Second, 10*time.Millisecond)
}
