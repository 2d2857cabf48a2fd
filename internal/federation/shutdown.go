package federation

import (
	"context"
	"time"

	"github.com/mobilivr/fabric/internal/rpc"
)

// shutdownPollInterval matches spec.md §4.4's "polling every 500 ms".
const shutdownPollInterval = 500 * time.Millisecond

// Shutdown waits for claimedResources to drain to zero, then best-effort
// broadcasts a shutdown event to every known contact and stops the UDP
// endpoint (spec.md §4.4, §5). It returns early if ctx is cancelled first,
// leaving the transport running.
func (n *Node) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for n.ClaimedResources() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	n.broadcastShutdown(ctx)
	return n.transport.Close()
}

// broadcastShutdown notifies every known contact best-effort: spec.md §7
// treats RPC failures as terminal for that call and nothing more, so a
// dead peer here is simply skipped.
func (n *Node) broadcastShutdown(ctx context.Context) {
	event := toWireEvent(Event{Type: EventTypeShutdown})
	for _, c := range n.contacts.All() {
		_, err := rpc.CallContact(ctx, n.transport, c, "handleEvent", []any{event})
		if err != nil {
			n.logger.Debug("shutdown notification failed", "contact", c.ID, "error", err)
		}
	}
}
