package fastagi

import (
	"sync"
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
)

// PendingHandlers is the FastAGI server's handler-id registry (spec.md
// §4.5): whoever is waiting for a PBX return leg — an application
// blocked in a C6 dial, or a freshly spawned handler thread servicing a
// locally-routed IVR event — declares its handler-id with Register before
// the leg can possibly arrive, then blocks in Wait. The connection
// handler that accepts the return leg calls Deliver to hand off the
// live Session.
type PendingHandlers struct {
	mu      sync.Mutex
	waiting map[string]chan *agiclient.Session
	rogue   map[string]struct{}
}

func NewPendingHandlers() *PendingHandlers {
	return &PendingHandlers{
		waiting: make(map[string]chan *agiclient.Session),
		rogue:   make(map[string]struct{}),
	}
}

// Register pre-declares a waiter for handlerID. Must happen before the
// PBX can possibly redial with this id, or a leg arriving first would
// find nobody listening and get hung up as if it were rogue.
func (p *PendingHandlers) Register(handlerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting[handlerID] = make(chan *agiclient.Session, 1)
}

// Wait blocks up to timeout for handlerID's return leg. On timeout the
// handler is marked rogue so a leg that arrives after the caller has
// given up is hung up rather than silently handed to a dead waiter
// (spec.md §4.5's rogue handler guard).
func (p *PendingHandlers) Wait(handlerID string, timeout time.Duration) (*agiclient.Session, bool) {
	p.mu.Lock()
	ch, ok := p.waiting[handlerID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case sess := <-ch:
		return sess, true
	case <-time.After(timeout):
		p.mu.Lock()
		delete(p.waiting, handlerID)
		p.rogue[handlerID] = struct{}{}
		p.mu.Unlock()
		return nil, false
	}
}

// Deliver hands sess to whoever registered handlerID. Returns false if
// the id is unknown or was already marked rogue, in which case the
// caller must hang up the connection itself.
func (p *PendingHandlers) Deliver(handlerID string, sess *agiclient.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, rogue := p.rogue[handlerID]; rogue {
		delete(p.rogue, handlerID)
		return false
	}
	ch, ok := p.waiting[handlerID]
	if !ok {
		return false
	}
	delete(p.waiting, handlerID)
	select {
	case ch <- sess:
		return true
	default:
		return false
	}
}
