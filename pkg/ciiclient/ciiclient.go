// Package ciiclient implements the client side of the CSS-CII protocol: it
// connects to a CII server, keeps a local copy of the content-identification
// state the server has described, and reports changes as they arrive.
package ciiclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Dash-Industry-Forum/css-sync/pkg/cii"
)

// dialer is package-level so every Client shares one configured dialer,
// mirroring the original library's module-level WrappedWebSocket defaults.
var dialer = websocket.DefaultDialer

// Client connects to a CSS-CII server and maintains CII, a running model of
// the server's content-identification state. Properties not yet set by the
// server are nil in CII.
//
// The OnXXX fields are called from the connection's read goroutine; install
// them before calling Connect. None are required.
type Client struct {
	URL string

	OnConnected     func()
	OnDisconnected  func(err error)
	OnChange        func(changed *cii.CII, changedFields []string)
	OnProtocolError func(err error)

	mu  sync.Mutex
	ws  *websocket.Conn
	cii *cii.CII
}

// New returns a Client that will connect to the CSS-CII server at url (e.g.
// "ws://127.0.0.1/myservice/cii").
func New(url string) *Client {
	return &Client{
		URL: url,
		cii: &cii.CII{},
	}
}

// CII returns a copy of the locally held model of the server's CII state.
func (c *Client) CII() *cii.CII {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cii.Copy()
}

// Connected reports whether the connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Connect opens the connection and starts the background goroutine that
// reads and applies CII messages until Disconnect is called or the
// connection is lost.
func (c *Client) Connect(ctx context.Context) error {
	ws, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("ciiclient: connecting to %s: %w", c.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	if c.OnConnected != nil {
		c.OnConnected()
	}
	go c.readLoop(ws)
	return nil
}

// Disconnect closes the connection. It is safe to call even if Connect was
// never called or has already failed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.Close()
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			if c.OnDisconnected != nil {
				c.OnDisconnected(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		newCII, err := cii.Unpack(data)
		if err != nil {
			if c.OnProtocolError != nil {
				c.OnProtocolError(fmt.Errorf("ciiclient: message could not be parsed as CII: %w", err))
			}
			continue
		}
		c.applyMessage(newCII)
	}
}

// applyMessage diffs the incoming message against the locally held state
// (since a CII server may send either a full message or a diff, the client
// cannot assume which) and fires OnChange only if that diff is non-empty.
func (c *Client) applyMessage(newCII *cii.CII) {
	c.mu.Lock()
	diff := cii.Diff(c.cii, newCII)
	fields := changedFields(diff)
	if len(fields) > 0 {
		slog.Debug("ciiclient: applying changed properties", "fields", fields)
		c.cii.Update(diff)
	}
	current := c.cii.Copy()
	c.mu.Unlock()

	if len(fields) > 0 && c.OnChange != nil {
		c.OnChange(current, fields)
	}
}

// changedFields lists the CII property names diff carries a value for.
func changedFields(diff *cii.CII) []string {
	var fields []string
	if diff.ProtocolVersion != nil {
		fields = append(fields, "protocolVersion")
	}
	if diff.MrsURL != nil {
		fields = append(fields, "mrsUrl")
	}
	if diff.ContentID != nil {
		fields = append(fields, "contentId")
	}
	if diff.ContentIDStatus != nil {
		fields = append(fields, "contentIdStatus")
	}
	if diff.PresentationStatus != nil {
		fields = append(fields, "presentationStatus")
	}
	if diff.WcURL != nil {
		fields = append(fields, "wcUrl")
	}
	if diff.TsURL != nil {
		fields = append(fields, "tsUrl")
	}
	if diff.TeURL != nil {
		fields = append(fields, "teUrl")
	}
	if diff.Timelines != nil {
		fields = append(fields, "timelines")
	}
	if diff.Private != nil {
		fields = append(fields, "private")
	}
	return fields
}
