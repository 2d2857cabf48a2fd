// Package federation implements the Federation Node (C4, spec.md §4.4): the
// component that composes the RPC transport, contact registry, and tuple
// registry into join/publish/claim/release/route operations and exposes the
// five RPC-exposed methods peers are allowed to call.
//
// Per spec.md §9's "singleton node with lazy startup" redesign note, Node is
// built by explicit construction (New) followed by an explicit Start, with
// no module-level instance and no background goroutine launched as a side
// effect of first use.
package federation

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mobilivr/fabric/internal/contact"
	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/rpc"
	"github.com/mobilivr/fabric/internal/tuplespace"
)

// decodeOwnerID parses a Tuple's Owner field (hex-encoded, per
// nodeid.ID.String) back into a nodeid.ID.
func decodeOwnerID(owner string) (nodeid.ID, error) {
	b, err := hex.DecodeString(owner)
	if err != nil {
		return nodeid.Zero, err
	}
	return nodeid.FromBytes(b)
}

// ResourceProvider produces the direct-access credentials for a resource
// type this node itself owns (spec.md §6: PBX manager address/credentials
// for "ivr", Kannel address/credentials for "sms"). Implemented by the
// config-backed provider wired up in cmd/mobilivr.
type ResourceProvider interface {
	ResourceCredentials(resourceType string) (map[string]string, error)
}

// IVREventHandler services a local IVR event (owner == self). It returns
// the FastAGI port on which a handler thread now awaits the PBX's re-dial
// — spec.md §4.5's "When C4 locally handles an IVR event it returns the
// C5 port and records the handler-id → handler thread mapping".
type IVREventHandler func(ctx context.Context, event Event) (fastAGIPort int, err error)

// SMSEventHandler services a local SMS event (owner == self); spec.md
// §4.4 says simply "spawn a worker per message", so there is no return
// value beyond success/failure.
type SMSEventHandler func(ctx context.Context, event Event) error

// Node composes C1-C3 and implements C4's operations.
type Node struct {
	transport *rpc.Transport
	selfID    nodeid.ID
	selfIP    string
	logger    *slog.Logger

	contacts *contact.Registry
	tuples   *tuplespace.Store

	resources ResourceProvider

	handlersMu sync.RWMutex
	ivrHandler IVREventHandler
	smsHandler SMSEventHandler

	claimedResources atomic.Int64

	joinedMu sync.Mutex
	joined   bool
	deferred []func()
}

// New constructs a Node and starts its transport's read loop. selfIP is
// the address peers should use to reach this node's PBX-facing services
// (FastAGI, SMS HTTP) — distinct from the RPC transport's own UDP address.
//
// The read loop runs from construction rather than waiting for Start,
// because Join itself depends on it: the seed RPCs Join issues need their
// replies read off the socket before join can even be judged to have
// succeeded or failed. Start (called once Join succeeds) only marks the
// node operational and drains the deferred-call queue.
func New(transport *rpc.Transport, selfID nodeid.ID, selfIP string, resources ResourceProvider, logger *slog.Logger) *Node {
	n := &Node{
		transport: transport,
		selfID:    selfID,
		selfIP:    selfIP,
		logger:    logger.With("subsystem", "federation_node", "node_id", selfID.String()),
		contacts:  contact.NewRegistry(),
		tuples:    tuplespace.NewStore(),
		resources: resources,
	}
	n.registerRPCHandlers()
	go n.transport.Serve()
	return n
}

// SelfID returns this node's NodeId.
func (n *Node) SelfID() nodeid.ID { return n.selfID }

// Contacts returns the node's Contact Registry, for components (FastAGI,
// dialog) that need to resolve a handler-tuple owner to an address.
func (n *Node) Contacts() *contact.Registry { return n.contacts }

// SetIVREventHandler registers the callback C5 uses to service a locally
// routed IVR event. Must be called before Start.
func (n *Node) SetIVREventHandler(fn IVREventHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.ivrHandler = fn
}

// SetSMSEventHandler registers the callback used to service a locally
// routed SMS event. Must be called before Start.
func (n *Node) SetSMSEventHandler(fn SMSEventHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.smsHandler = fn
}

// ClaimedResources returns the current value of the claimedResources
// counter (spec.md §3 invariant, must be zero before orderly shutdown).
func (n *Node) ClaimedResources() int64 {
	return n.claimedResources.Load()
}

// ContactCount returns the number of peer nodes currently known to this
// node, for metrics.ContactCounter.
func (n *Node) ContactCount() int {
	return n.contacts.Len()
}

// TupleCount returns the number of tuples held in this node's local
// tuple space, for metrics.TupleSpaceSizer.
func (n *Node) TupleCount() int {
	return n.tuples.Len()
}

// Start marks the node operational and drains the deferred-call queue
// accumulated by calls made before Join completed (spec.md §4.4, step 5).
// Call once, after a successful Join.
func (n *Node) Start() {
	n.joinedMu.Lock()
	n.joined = true
	deferred := n.deferred
	n.deferred = nil
	n.joinedMu.Unlock()

	for _, fn := range deferred {
		fn()
	}
}

// runOrDefer executes fn immediately if the node has joined, otherwise
// queues it to run once Join completes (spec.md §4.4: "applications
// registered before join").
func (n *Node) runOrDefer(fn func()) {
	n.joinedMu.Lock()
	if n.joined {
		n.joinedMu.Unlock()
		fn()
		return
	}
	n.deferred = append(n.deferred, fn)
	n.joinedMu.Unlock()
}

// resolveContact returns the Contact for owner, or an error if unknown.
func (n *Node) resolveContact(owner string) (contact.Contact, error) {
	parsed, err := decodeOwnerID(owner)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("federation: parsing owner id %q: %w", owner, err)
	}
	c, ok := n.contacts.Find(parsed)
	if !ok {
		return contact.Contact{}, fmt.Errorf("federation: unknown contact %q", owner)
	}
	return c, nil
}
