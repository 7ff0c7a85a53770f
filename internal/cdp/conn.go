// Package cdp implements the title engine's host on top of a browser-level
// Chrome DevTools Protocol connection.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

// ErrClosed is returned by commands sent after the connection went away.
var ErrClosed = errors.New("cdp: connection closed")

// VersionInfo is the browser description served on /json/version.
type VersionInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	UserAgent       string `json:"User-Agent"`
	WebKitVersion   string `json:"WebKit-Version"`
	WebSocketURL    string `json:"webSocketDebuggerUrl"`
}

// SessionID is the last path segment of the websocket URL, which the browser
// regenerates on every start.
func (v VersionInfo) SessionID() string {
	u := strings.TrimRight(v.WebSocketURL, "/")
	return u[strings.LastIndex(u, "/")+1:]
}

// Version splits "Chrome/120.0.6099.109" into the product version and its
// build number.
func (v VersionInfo) Version() (version, build string) {
	_, version, ok := strings.Cut(v.Browser, "/")
	if !ok {
		return v.Browser, ""
	}
	parts := strings.Split(version, ".")
	if len(parts) >= 3 {
		build = parts[2]
	}
	return version, build
}

type rawEvent struct {
	method    string
	sessionID string
	params    json.RawMessage
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// conn is a browser-level CDP websocket. Replies are matched to waiting
// senders on the read goroutine; events are queued and dispatched on a
// separate goroutine so handlers may send commands themselves.
type conn struct {
	httpBase string

	mu     sync.Mutex
	netc   net.Conn
	seq    atomic.Int64
	closed chan struct{}

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler

	queueMu sync.Mutex
	queue   []rawEvent
	wake    chan struct{}
}

func newConn(httpBase string) *conn {
	return &conn{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
		closed:        make(chan struct{}),
		wake:          make(chan struct{}, 1),
	}
}

// version fetches /json/version.
func (c *conn) version(ctx context.Context) (VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/json/version", nil)
	if err != nil {
		return VersionInfo{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return VersionInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VersionInfo{}, fmt.Errorf("cdp: /json/version: HTTP %d", resp.StatusCode)
	}
	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return VersionInfo{}, fmt.Errorf("cdp: /json/version: %w", err)
	}
	if info.WebSocketURL == "" {
		return VersionInfo{}, errors.New("cdp: empty webSocketDebuggerUrl")
	}
	return info, nil
}

// dial connects to wsURL and starts the read and dispatch goroutines.
func (c *conn) dial(ctx context.Context, wsURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.netc != nil {
		return nil
	}
	slog.Debug("cdp connecting", "ws_url", wsURL)
	netc, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp: dial: %w", err)
	}
	c.netc = netc
	go c.readLoop(netc)
	go c.dispatchLoop()
	return nil
}

// done is closed when the connection is lost or closed.
func (c *conn) done() <-chan struct{} { return c.closed }

func (c *conn) close() {
	c.mu.Lock()
	netc := c.netc
	c.netc = nil
	c.mu.Unlock()
	if netc != nil {
		_ = netc.Close()
	}
}

func (c *conn) readLoop(netc net.Conn) {
	defer func() {
		c.closeAllPending()
		close(c.closed)
	}()
	for {
		data, err := wsutil.ReadServerText(netc)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			return
		}
		msg := gjson.ParseBytes(data)
		if id := msg.Get("id").Int(); id > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[id]
			if ok {
				delete(c.pending, id)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
			continue
		}
		if method := msg.Get("method").String(); method != "" {
			c.enqueue(rawEvent{
				method:    method,
				sessionID: msg.Get("sessionId").String(),
				params:    json.RawMessage(msg.Get("params").Raw),
			})
		}
	}
}

func (c *conn) enqueue(ev rawEvent) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *conn) dispatchLoop() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.wake:
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue[0] = rawEvent{}
			c.queue = c.queue[1:]
			c.queueMu.Unlock()
			c.dispatchEvent(ev.method, ev.sessionID, ev.params)
		}
	}
}

func (c *conn) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *conn) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// send issues method, on sessionID when set, and returns the result object.
func (c *conn) send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	netc := c.netc
	c.mu.Unlock()
	if netc == nil {
		return nil, ErrClosed
	}

	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: %s: marshal: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	err = wsutil.WriteClientText(netc, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdp: %s: send: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		reply := gjson.ParseBytes(resp)
		if e := reply.Get("error"); e.Exists() {
			return nil, &ProtocolError{Method: method, Code: e.Get("code").Int(), Message: e.Get("message").String()}
		}
		return json.RawMessage(reply.Get("result").Raw), nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}

// on registers a handler for a CDP event method and returns its remover.
func (c *conn) on(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := c.seq.Add(1)
	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (c *conn) dispatchEvent(method, sessionID string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[method]))
	copy(handlers, c.eventHandlers[method])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// ProtocolError is an error reply from the browser.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}
