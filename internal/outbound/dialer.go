// Package outbound implements the application-side half of an outbound
// call (spec.md §9's control-flow note: "C4 RPC to owner node, owner
// returns PBX manager credentials ... application primes its local C5
// with a handler-id, dials via PBX manager interface"). The federation
// node and FastAGI server supply the claim and the handler-id registry;
// this package is the caller that strings them together with
// internal/pbxmanager into one synchronous Dial.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/federation"
	"github.com/mobilivr/fabric/internal/pbxmanager"
)

// DefaultDialTimeout bounds how long Dial waits for the PBX to redial
// the originated call's AGI leg back to this node, matching C5's own
// DialTimeout.
const DefaultDialTimeout = 10 * time.Second

// ResourceClaimer is the subset of *federation.Node a Dialer needs: claim
// the "ivr" resource to obtain PBX manager credentials, release it once
// the manager connection built from them is no longer needed.
type ResourceClaimer interface {
	ClaimResource(ctx context.Context, resourceType string, blocking bool) (federation.ClaimedResource, error)
	ReleaseResource(claimed federation.ClaimedResource)
}

// PendingRegistrar is the subset of *fastagi.Server's PendingHandlers a
// Dialer needs to prime a handler-id before originating, then wait for
// the PBX to redial it.
type PendingRegistrar interface {
	Register(handlerID string)
	Wait(handlerID string, timeout time.Duration) (*agiclient.Session, bool)
}

// DialoutFailedError reports that an outbound call was accepted by the
// PBX manager but never redialed its AGI leg back (or the PBX itself
// rejected the Originate), carrying the channel so a caller can log or
// retry without string-matching the error text.
type DialoutFailedError struct {
	Channel string
	Cause   error
}

func (e *DialoutFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("outbound: dial %s: %v", e.Channel, e.Cause)
	}
	return fmt.Sprintf("outbound: dial %s: PBX never redialed the AGI leg", e.Channel)
}

func (e *DialoutFailedError) Unwrap() error { return e.Cause }

// Dialer places outbound calls through whichever node currently owns the
// "ivr" resource.
type Dialer struct {
	node        ResourceClaimer
	pending     PendingRegistrar
	selfIP      string
	fastAGIPort int
	dialTimeout time.Duration
	mintID      func() string
	logger      *slog.Logger
}

// New builds a Dialer. selfIP/fastAGIPort are where the PBX should send
// the originated call's AGI leg back to — this node's own FastAGI
// listener.
func New(node ResourceClaimer, pending PendingRegistrar, selfIP string, fastAGIPort int, logger *slog.Logger) *Dialer {
	return &Dialer{
		node:        node,
		pending:     pending,
		selfIP:      selfIP,
		fastAGIPort: fastAGIPort,
		dialTimeout: DefaultDialTimeout,
		mintID:      uuid.NewString,
		logger:      logger.With("subsystem", "outbound_dialer"),
	}
}

// Dial claims the ivr resource, originates channel through the owner's
// PBX manager with callerID as the presented caller id, and blocks for
// the redialed AGI leg. The returned Session is the live call, ready to
// drive with a dialog.Engine exactly like an inbound leg.
func (d *Dialer) Dial(ctx context.Context, channel, callerID string) (*agiclient.Session, error) {
	claimed, err := d.node.ClaimResource(ctx, "ivr", true)
	if err != nil {
		return nil, fmt.Errorf("outbound: claiming ivr resource: %w", err)
	}
	defer d.node.ReleaseResource(claimed)

	addr := net.JoinHostPort(claimed.Credentials["host"], claimed.Credentials["port"])
	client, err := pbxmanager.Connect(ctx, addr, claimed.Credentials["username"], claimed.Credentials["secret"], d.logger)
	if err != nil {
		return nil, fmt.Errorf("outbound: connecting to pbx manager at %s: %w", addr, err)
	}
	defer client.Logoff(ctx)

	handlerID := d.mintID()
	d.pending.Register(handlerID)

	data := fmt.Sprintf("agi://%s:%d/?ivrhandlerid=%s", d.selfIP, d.fastAGIPort, handlerID)
	app := pbxmanager.NewOriginateApp(channel, "AGI", data)
	app.CallerID = callerID

	if err := client.Originate(ctx, app); err != nil {
		return nil, &DialoutFailedError{Channel: channel, Cause: err}
	}

	sess, ok := d.pending.Wait(handlerID, d.dialTimeout)
	if !ok {
		return nil, &DialoutFailedError{Channel: channel}
	}
	return sess, nil
}
