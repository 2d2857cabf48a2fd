package pbxmanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const readBufSize = 1024

// ErrLoginFailed is returned by Connect when the PBX rejects the
// manager-protocol credentials.
var ErrLoginFailed = errors.New("pbxmanager: login failed")

// Client is a synchronous manager-protocol connection: one goroutine
// reads and dispatches packets off the socket (mirroring gami.go's
// readDispatcher), while Action calls block on a per-ActionID channel for
// the matching response, turning gami's callback registration into a
// direct request/response call.
type Client struct {
	conn   net.Conn
	aid    *actionIDGen
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Message
	events  func(Message)
	closed  bool
}

// Connect dials the PBX manager interface at addr and logs in with
// login/password. The read-dispatch loop starts before Login is sent, so
// its response can be delivered to the waiting Action call.
func Connect(ctx context.Context, addr, login, password string, logger *slog.Logger) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pbxmanager: dialing %s: %w", addr, err)
	}

	c := &Client{
		conn:    nc,
		aid:     newActionIDGen(),
		logger:  logger.With("subsystem", "pbxmanager_client"),
		pending: make(map[string]chan Message),
	}
	go c.readDispatch()

	resp, err := c.Action(ctx, Message{
		"Action":   "Login",
		"Username": login,
		"Secret":   password,
	})
	if err != nil {
		c.conn.Close()
		return nil, err
	}
	if resp["Response"] != "Success" {
		c.conn.Close()
		return nil, ErrLoginFailed
	}
	return c, nil
}

// OnEvent registers a callback for unsolicited manager events (packets
// with no correlating ActionID). Optional; dial/originate flows that
// only need the synchronous response need not set one.
func (c *Client) OnEvent(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = fn
}

// Action sends msg with a freshly generated ActionID and waits for the
// correlated response.
func (c *Client) Action(ctx context.Context, msg Message) (Message, error) {
	id := c.aid.next()
	msg = cloneMessage(msg)
	msg["ActionID"] = id

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("pbxmanager: connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if _, err := c.conn.Write(msg.encode()); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("pbxmanager: writing action: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Logoff sends the Logoff action and closes the connection.
func (c *Client) Logoff(ctx context.Context) error {
	_, err := c.Action(ctx, Message{"Action": "Logoff"})
	c.Close()
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// readDispatch reads the socket, splits it into packets on the blank-line
// terminator, and routes each to its waiting Action call (by ActionID) or
// the registered event callback — the same split gami.go's read/
// readDispatcher pair performs, folded into one loop since there is no
// cbList of persistent per-event handlers to maintain here.
func (c *Client) readDispatch() {
	var buf bytes.Buffer
	chunk := make([]byte, readBufSize)
	for {
		n, err := c.conn.Read(chunk)
		if err != nil {
			c.failAllPending(err)
			return
		}
		buf.Write(chunk[:n])

		for {
			idx := bytes.Index(buf.Bytes(), packetTerm)
			if idx == -1 {
				break
			}
			raw := make([]byte, idx)
			copy(raw, buf.Bytes()[:idx])
			buf.Next(idx + len(packetTerm))

			msg := decodeMessage(raw)
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(msg Message) {
	if id, ok := msg["ActionID"]; ok {
		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events != nil {
		go events(msg)
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.logger.Warn("pbxmanager connection lost", "error", err)
}

func cloneMessage(m Message) Message {
	out := make(Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
