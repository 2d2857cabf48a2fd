// Package contact implements the Contact Registry (C2, spec.md §3, §4.2):
// the set of known peers, added idempotently by NodeId and pruned on RPC
// failure.
//
// spec.md §9 flags the teacher-equivalent pattern of passing the protocol
// into each Contact and using attribute interception to turn method calls
// into RPCs as needing re-architecture. Contact here is pure data — no
// reference back to a transport or federation node — and callers build
// RPC invocations with a free function that takes (transport, contact,
// method, args), grounded on the stateless stub shape spec.md §9 asks for.
package contact

import (
	"net"
	"strconv"
	"sync"

	"github.com/mobilivr/fabric/internal/nodeid"
)

// Contact is a known peer: its identity plus its UDP address. Two Contacts
// are value-equal by NodeId alone (spec.md §3).
type Contact struct {
	ID   nodeid.ID
	IP   string
	Port int
}

// Equal reports whether two Contacts name the same peer, by NodeId alone.
func (c Contact) Equal(other Contact) bool {
	return c.ID == other.ID
}

// Addr returns the net.Addr the RPC transport should dial to reach c.
func (c Contact) Addr() net.Addr {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.IP, strconv.Itoa(c.Port)))
	if err != nil {
		// Contacts are only ever constructed from addresses the transport
		// has already successfully parsed (a received UDP packet's source,
		// or a config-supplied seed), so this path is unreachable in
		// practice; fall back to an address that will simply fail to dial.
		return &net.UDPAddr{}
	}
	return addr
}

// Registry is the set of known peers (spec.md §4.2).
type Registry struct {
	mu       sync.RWMutex
	contacts map[nodeid.ID]Contact
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contacts: make(map[nodeid.ID]Contact)}
}

// Add inserts or replaces c. Idempotent by NodeId (spec.md §4.2).
func (r *Registry) Add(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.ID] = c
}

// Remove silently drops id if present (spec.md §4.2: "removes silently").
func (r *Registry) Remove(id nodeid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contacts, id)
}

// Find returns the Contact for id, and whether it was known.
func (r *Registry) Find(id nodeid.ID) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c, ok
}

// All returns a snapshot of every known Contact.
func (r *Registry) All() []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, c)
	}
	return out
}

// Len returns the number of known contacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contacts)
}
