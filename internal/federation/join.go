package federation

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/mobilivr/fabric/internal/contact"
	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/tuplespace"
	"github.com/mobilivr/fabric/internal/wire"
)

// ErrJoinPartial is returned when some, but not all, seeds responded.
var ErrJoinPartial = errors.New("federation: join failed: not all contacts responded")

// ErrJoinNoneReachable is returned when no seed responded at all.
var ErrJoinNoneReachable = errors.New("federation: join failed: none reachable")

// Join bootstraps this node against a static seed list (spec.md §4.4).
// Each seed is queried for getOwnedTuples; every returned tuple is learned
// into the local tuple store under its reported owner id, and the seed's
// real NodeId (taken from the reply envelope, since the synthesized
// bootstrap Contact doesn't know it yet) is added to the Contact Registry.
// Join only starts local services and drains the deferred queue once every
// seed has answered and none timed out; an empty seed list succeeds
// immediately.
func (n *Node) Join(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		n.Start()
		return nil
	}

	type outcome struct {
		err error
	}
	results := make(chan outcome, len(seeds))

	var wg sync.WaitGroup
	for _, addr := range seeds {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			results <- outcome{err: n.joinSeed(ctx, addr)}
		}(addr)
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for r := range results {
		if r.err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	switch {
	case failed == 0:
		n.Start()
		return nil
	case succeeded == 0:
		return ErrJoinNoneReachable
	default:
		return ErrJoinPartial
	}
}

func (n *Node) joinSeed(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		n.logger.Warn("seed address unresolvable", "addr", addr, "error", err)
		return err
	}

	payload, senderID, err := n.transport.SendRPCWithSender(ctx, udpAddr, nodeid.Zero, "getOwnedTuples", nil)
	if err != nil {
		n.logger.Warn("seed did not respond", "addr", addr, "error", err)
		return err
	}

	var owned []tuplespace.WireTuple
	if err := wire.DecodeValue(payload, &owned); err != nil {
		return err
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	n.contacts.Add(contact.Contact{ID: senderID, IP: host, Port: port})
	for _, wt := range owned {
		n.tuples.Put(tuplespace.FromWire(wt))
	}
	return nil
}
