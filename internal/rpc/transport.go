// Package rpc implements the UDP RPC transport (C1, spec.md §4.1): framed
// request/response messaging with per-message ids, timeouts, and
// fragmentation/reassembly of oversize payloads.
//
// Grounded on andradeandrey-go-qrp's bencode-over-UDP Node for the
// encode/send/await-reply shape (one net.PacketConn, a map of pending calls
// keyed by message id, background goroutine reading datagrams). Per
// spec.md §9's re-architecture notes this version replaces the teacher
// example's reflection-based method dispatch with an explicit dispatch
// table built at construction time, and replaces its timeout-via-sleeping-
// goroutine with a context-based wait that a caller can also cancel.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/zeebo/bencode"
	"golang.org/x/time/rate"

	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/wire"
)

// DefaultTimeout is the fixed RPC timeout (spec.md §4.1, §5: "500 ms default").
const DefaultTimeout = 500 * time.Millisecond

// HandlerFunc services one inbound request. The returned value becomes the
// Response payload (bencode-encodable); a returned error becomes an
// ErrorResponse tagged ExceptionTagApplicationError.
type HandlerFunc func(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error)

// Transport owns one UDP endpoint and the RPC state machine over it. All
// mutation of pending calls and the dispatch table happens under its own
// locks; the datagram read loop is the single "reactor" goroutine spec.md
// §5 describes, and SendRPC is how application goroutines marshal work onto
// it (spec.md §5's callFromThread is simply "send on this socket, await a
// channel").
type Transport struct {
	conn   net.PacketConn
	selfID nodeid.ID
	logger *slog.Logger

	reassembler *wire.Reassembler

	pendingMu sync.Mutex
	pending   map[nodeid.ID]chan pendingResult

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	sendMu  sync.Mutex
	limiter *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

type pendingResult struct {
	response *wire.Response
	errResp  *wire.ErrorResponse
}

// New binds a UDP socket at addr and returns a Transport ready to Serve.
// limiter throttles outbound sends per spec.md §5's resilience posture
// (grounded on internal/api/middleware/ratelimit.go's token-bucket use);
// pass nil for no limiting.
func New(addr string, selfID nodeid.ID, logger *slog.Logger, limiter *rate.Limiter) (*Transport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listening on %s: %w", addr, err)
	}
	return &Transport{
		conn:        conn,
		selfID:      selfID,
		logger:      logger.With("subsystem", "rpc_transport"),
		reassembler: wire.NewReassembler(30 * time.Second),
		pending:     make(map[nodeid.ID]chan pendingResult),
		handlers:    make(map[string]HandlerFunc),
		limiter:     limiter,
		closed:      make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound UDP address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RegisterHandler adds method to the explicit RPC dispatch table. Only
// methods registered here are callable over the wire (spec.md §4.4's
// "RPC-exposed methods"); anything else yields an AttributeError-equivalent.
func (t *Transport) RegisterHandler(method string, fn HandlerFunc) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers[method] = fn
}

// Serve runs the datagram read loop until the Transport is closed. It is
// meant to run in its own goroutine — the single-threaded reactor of
// spec.md §5.
func (t *Transport) Serve() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.logger.Warn("udp read error", "error", err)
				return
			}
		}
		if n == 0 {
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		go t.handleDatagram(raw, addr)
	}
}

// handleDatagram reassembles (if needed) and dispatches one received
// datagram. Reactor-thread errors are logged and swallowed (spec.md §7):
// a malformed datagram never takes the process down.
func (t *Transport) handleDatagram(raw []byte, addr net.Addr) {
	data, ok, err := t.reassembler.Feed(raw)
	if err != nil {
		t.logger.Warn("dropping malformed fragment", "from", addr, "error", err)
		return
	}
	if !ok {
		return
	}

	msg, err := wire.Decode(data)
	if err != nil {
		t.logger.Warn("dropping malformed message", "from", addr, "error", err)
		return
	}

	switch msg.Type {
	case wire.TypeRequest:
		t.serveRequest(msg.Request, addr)
	case wire.TypeResponse:
		t.completePending(msg.Response.MsgID, pendingResult{response: msg.Response})
	case wire.TypeError:
		t.completePending(msg.Err.MsgID, pendingResult{errResp: msg.Err})
	}
}

func (t *Transport) completePending(msgID nodeid.ID, result pendingResult) {
	t.pendingMu.Lock()
	ch, ok := t.pending[msgID]
	t.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// serveRequest dispatches an inbound request to its registered handler (or
// replies AttributeError if no such method is exposed), exactly as
// spec.md §4.1 specifies.
func (t *Transport) serveRequest(req *wire.Request, addr net.Addr) {
	t.handlersMu.RLock()
	fn, ok := t.handlers[req.Method]
	t.handlersMu.RUnlock()

	if !ok {
		t.replyError(req.MsgID, addr, ExceptionTagAttributeError, fmt.Sprintf("no such exposed method: %s", req.Method))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	result, err := fn(ctx, addr, req.SenderID, req.Args)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			t.replyError(req.MsgID, addr, remote.ExceptionTag, remote.Message)
			return
		}
		t.replyError(req.MsgID, addr, ExceptionTagApplicationError, err.Error())
		return
	}

	payload, err := wire.EncodeValue(result)
	if err != nil {
		t.logger.Error("failed to encode handler result", "method", req.Method, "error", err)
		t.replyError(req.MsgID, addr, ExceptionTagApplicationError, "failed to encode result")
		return
	}
	t.sendEnvelope(req.MsgID, addr, func() ([]byte, error) {
		return wire.EncodeResponse(wire.Response{MsgID: req.MsgID, SenderID: t.selfID, Payload: payload})
	})
}

func (t *Transport) replyError(msgID nodeid.ID, addr net.Addr, tag, message string) {
	t.sendEnvelope(msgID, addr, func() ([]byte, error) {
		return wire.EncodeError(wire.ErrorResponse{MsgID: msgID, SenderID: t.selfID, ExceptionTag: tag, Message: message})
	})
}

func (t *Transport) sendEnvelope(msgID nodeid.ID, addr net.Addr, encode func() ([]byte, error)) {
	data, err := encode()
	if err != nil {
		t.logger.Error("failed to encode outbound message", "error", err)
		return
	}
	if err := t.writeFragments(msgID, addr, data); err != nil {
		t.logger.Warn("failed to write outbound message", "to", addr, "error", err)
	}
}

func (t *Transport) writeFragments(msgID nodeid.ID, addr net.Addr, data []byte) error {
	packets, err := wire.Split(msgID, data)
	if err != nil {
		return fmt.Errorf("rpc: splitting message: %w", err)
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	for _, p := range packets {
		if t.limiter != nil {
			_ = t.limiter.Wait(context.Background())
		}
		if _, err := t.conn.WriteTo(p, addr); err != nil {
			return err
		}
	}
	return nil
}

// SendRPC issues one RPC call and blocks until a reply arrives, ctx is
// done, or DefaultTimeout elapses — whichever is first. contactID (may be
// the zero value if unknown, e.g. during bootstrap) is only used to build
// the TimeoutError.
func (t *Transport) SendRPC(ctx context.Context, addr net.Addr, contactID nodeid.ID, method string, args []any) (bencode.RawMessage, error) {
	payload, _, err := t.sendRPC(ctx, addr, contactID, method, args)
	return payload, err
}

// SendRPCWithSender behaves like SendRPC but additionally returns the
// responding peer's NodeId, taken from the Response envelope's senderId
// field. Join needs this: until the first successful reply, a seed's real
// NodeId is unknown (spec.md §4.4, "learn the real NodeId from the reply
// envelope").
func (t *Transport) SendRPCWithSender(ctx context.Context, addr net.Addr, contactID nodeid.ID, method string, args []any) (bencode.RawMessage, nodeid.ID, error) {
	return t.sendRPC(ctx, addr, contactID, method, args)
}

func (t *Transport) sendRPC(ctx context.Context, addr net.Addr, contactID nodeid.ID, method string, args []any) (bencode.RawMessage, nodeid.ID, error) {
	msgID := nodeid.MustNew()

	encodedArgs := make([]bencode.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := wire.EncodeValue(a)
		if err != nil {
			return nil, nodeid.Zero, fmt.Errorf("rpc: encoding arg: %w", err)
		}
		encodedArgs = append(encodedArgs, raw)
	}

	data, err := wire.EncodeRequest(wire.Request{
		MsgID:    msgID,
		SenderID: t.selfID,
		Method:   method,
		Args:     encodedArgs,
	})
	if err != nil {
		return nil, nodeid.Zero, fmt.Errorf("rpc: encoding request: %w", err)
	}

	resultCh := make(chan pendingResult, 1)
	t.pendingMu.Lock()
	t.pending[msgID] = resultCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, msgID)
		t.pendingMu.Unlock()
	}()

	if err := t.writeFragments(msgID, addr, data); err != nil {
		return nil, nodeid.Zero, fmt.Errorf("rpc: sending request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	select {
	case result := <-resultCh:
		if result.errResp != nil {
			return nil, nodeid.Zero, &RemoteError{ExceptionTag: result.errResp.ExceptionTag, Message: result.errResp.Message}
		}
		return result.response.Payload, result.response.SenderID, nil
	case <-timeoutCtx.Done():
		return nil, nodeid.Zero, &TimeoutError{ContactID: contactID, Addr: addr.String(), Method: method}
	}
}

// Close stops the read loop and releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
