// Package fastagi implements the FastAGI Server (C5, spec.md §4.5): the
// TCP-facing half of call routing. It accepts AGI-over-network
// connections from the PBX, tells them apart as either an inbound call
// needing a handler or the return leg of a dial this process already
// knows about, and for inbound calls drives the federation node's
// notifyEvent to find (and re-dial to) the right handler.
package fastagi

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/federation"
)

// DialTimeout bounds how long a return leg is awaited before the handler
// is marked rogue (spec.md §4.5: "C6 waits ≤ 10 s for its AGI leg").
const DialTimeout = 10 * time.Second

// ResourceType is the federation resource gating concurrent inbound load
// on this node (spec.md §4.5 / §5): claiming it doubles as a semaphore.
const ResourceType = "ivr"

// Server accepts PBX AGI connections on listener and routes them through
// node.
type Server struct {
	listener net.Listener
	node     *federation.Node
	logger   *slog.Logger
	pending  *PendingHandlers

	port        int
	dialTimeout time.Duration
	mintID      func() string
}

// NewServer wraps listener (already bound by the caller, so the chosen
// port can be advertised to peers before Serve is called) for node.
func NewServer(listener net.Listener, node *federation.Node, logger *slog.Logger) *Server {
	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &Server{
		listener:    listener,
		node:        node,
		logger:      logger.With("subsystem", "fastagi_server"),
		pending:     NewPendingHandlers(),
		port:        port,
		dialTimeout: DialTimeout,
		mintID:      uuid.NewString,
	}
}

// Port is this server's TCP port, reported to peers as the FastAGI
// address a routed call should be re-dialed to.
func (s *Server) Port() int { return s.port }

// Pending exposes the handler-id registry so an outbound dial (C6's
// pbxmanager-driven originate) can Register a handler-id and Wait for
// its return leg the same way a locally-routed IVR event does.
func (s *Server) Pending() *PendingHandlers { return s.pending }

// Serve accepts connections until listener is closed or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	c := agiclient.NewConn(nc)
	headers, err := c.ReadHeaders()
	if err != nil {
		s.logger.Warn("reading AGI headers", "error", err)
		nc.Close()
		return
	}
	sess := agiclient.WrapSession(c, headers)

	handlerID, present, err := sess.GetVariable("ivrhandlerid")
	if err != nil {
		s.logger.Warn("querying ivrhandlerid", "error", err)
		nc.Close()
		return
	}

	if present && handlerID != "" {
		if !s.pending.Deliver(handlerID, sess) {
			s.logger.Warn("return leg for unknown or rogue handler, hanging up", "handler_id", handlerID)
			nc.Close()
		}
		return
	}

	s.handleInbound(sess)
}

// handleInbound implements spec.md §4.5's handler-id-absent branch: claim
// the local ivr resource as a concurrency gate, mint a handler-id, push it
// to the PBX, route the event, and re-dial the leg to the chosen handler.
// The ivr resource is always released on the way out, whichever branch
// returns (spec.md §9's noted correctness fix over the reference leak).
func (s *Server) handleInbound(sess *agiclient.Session) {
	defer sess.Close()
	ctx := context.Background()

	claimed, err := s.node.ClaimResource(ctx, ResourceType, true)
	if err != nil {
		s.logger.Warn("claiming ivr resource", "error", err)
		return
	}
	defer s.node.ReleaseResource(claimed)

	handlerID := s.mintID()
	if err := sess.SetVariable("ivrhandlerid", handlerID); err != nil {
		s.logger.Warn("pushing handler id to PBX", "error", err)
		return
	}

	event := federation.Event{
		Type:      federation.EventTypeIVR,
		Channel:   sess.Channel(),
		CallerID:  sess.CallerID(),
		SessionID: sess.UniqueID(),
		HandlerID: handlerID,
	}

	result, err := s.node.NotifyEvent(ctx, event)
	if err != nil {
		s.logger.Warn("notifyEvent(ivr) failed", "error", err)
		return
	}
	if !result.Matched {
		s.logger.Info("no ivr handler found", "caller_id", event.CallerID, "channel", event.Channel)
		return
	}
	if err := sess.ExecAGI(result.OwnerAddr, result.FastAGIPort); err != nil {
		s.logger.Warn("re-dialing leg to chosen handler", "error", err)
	}
}

// LocalIVRHandler builds the federation.IVREventHandler this server
// exposes to a Node via SetIVREventHandler (spec.md §4.5, "binding a
// handler on the destination node"): it registers a waiter for the
// event's handler-id, spawns run once the PBX's re-dial delivers the
// live Session, and returns this server's port immediately so
// notifyEvent's caller can report back where to redial.
func (s *Server) LocalIVRHandler(run func(sess *agiclient.Session, event federation.Event)) federation.IVREventHandler {
	return func(ctx context.Context, event federation.Event) (int, error) {
		s.pending.Register(event.HandlerID)
		go func() {
			sess, ok := s.pending.Wait(event.HandlerID, s.dialTimeout)
			if !ok {
				s.logger.Warn("routed handler never redialed in time", "handler_id", event.HandlerID)
				return
			}
			run(sess, event)
		}()
		return s.port, nil
	}
}
