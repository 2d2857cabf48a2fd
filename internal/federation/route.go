package federation

import (
	"context"
	"errors"
	"math/rand"

	"github.com/mobilivr/fabric/internal/rpc"
	"github.com/mobilivr/fabric/internal/tuplespace"
	"github.com/mobilivr/fabric/internal/wire"
)

// NotifyEvent routes an inbound event to the best matching handler
// (spec.md §4.4). It blocks until routing either succeeds or exhausts its
// candidates.
func (n *Node) NotifyEvent(ctx context.Context, event Event) (RouteResult, error) {
	switch event.Type {
	case EventTypeSMS:
		return n.notifySMS(ctx, event)
	case EventTypeIVR:
		return n.notifyIVR(ctx, event)
	default:
		return RouteResult{}, errors.New("federation: unknown event type " + event.Type)
	}
}

// notifySMS reads-and-takes a single SMS handler tuple (spec.md §4.4: "Read
// and take a single handler tuple"). A taken tuple is never put back: on
// RPC failure to the remote owner the event is simply dropped, matching
// spec.md's "re-consume the handler tuple (prune) and drop the event".
func (n *Node) notifySMS(ctx context.Context, event Event) (RouteResult, error) {
	template := tuplespace.HandlerSMSTuple("")
	taken, ok := n.tuples.Take(template)
	if !ok {
		return RouteResult{Matched: false}, nil
	}

	if taken.Owner == n.selfID.String() {
		n.handlersMu.RLock()
		h := n.smsHandler
		n.handlersMu.RUnlock()
		if h == nil {
			return RouteResult{Matched: false}, errors.New("federation: no local sms event handler registered")
		}
		go func() {
			if err := h(context.Background(), event); err != nil {
				n.logger.Warn("local sms handler failed", "error", err)
			}
		}()
		return RouteResult{Matched: true, OwnerAddr: n.selfIP}, nil
	}

	c, err := n.resolveContact(taken.Owner)
	if err != nil {
		n.logger.Warn("notifyEvent(sms): owner unknown, dropping event", "owner", taken.Owner)
		return RouteResult{Matched: false}, nil
	}

	_, err = rpc.CallContact(ctx, n.transport, c, "handleEvent", []any{toWireEvent(event)})
	if err != nil {
		if _, timedOut := err.(*rpc.TimeoutError); timedOut {
			n.contacts.Remove(c.ID)
		}
		n.logger.Warn("notifyEvent(sms): remote handler failed, dropping event", "owner", taken.Owner, "error", err)
		return RouteResult{Matched: false}, nil
	}
	return RouteResult{Matched: true, OwnerAddr: c.IP}, nil
}

// notifyIVR reads (non-destructively) all IVR handler tuples, partitions
// them into spec.md §4.4's four priority classes, and tries candidates
// highest-priority-first, uniformly at random within a class, descending
// to the next class only once the current one is exhausted.
func (n *Node) notifyIVR(ctx context.Context, event Event) (RouteResult, error) {
	all := n.tuples.FindAll(tuplespace.HandlerIVRTuple("", "", ""))
	classes := classifyHandlers(all, event)

	for _, class := range classes {
		rand.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		for _, candidate := range class {
			if result, ok := n.tryIVRHandler(ctx, candidate, event); ok {
				return result, nil
			}
		}
	}
	return RouteResult{Matched: false}, nil
}

// classifyHandlers partitions handler tuples matching event's channel and
// caller id into spec.md §4.4's four priority classes, most specific
// first: (1) both filters match, (2) channel only, (3) caller id only,
// (4) both unspecified. A tuple whose filter is set but disagrees with
// the event is excluded entirely.
func classifyHandlers(tuples []tuplespace.Tuple, event Event) [4][]tuplespace.Tuple {
	var classes [4][]tuplespace.Tuple
	for _, t := range tuples {
		channelOK := t.ChannelFilter == "" || t.ChannelFilter == event.Channel
		callerOK := t.CallerIDFilter == "" || t.CallerIDFilter == event.CallerID
		if !channelOK || !callerOK {
			continue
		}
		switch {
		case t.ChannelFilter != "" && t.CallerIDFilter != "":
			classes[0] = append(classes[0], t)
		case t.ChannelFilter != "":
			classes[1] = append(classes[1], t)
		case t.CallerIDFilter != "":
			classes[2] = append(classes[2], t)
		default:
			classes[3] = append(classes[3], t)
		}
	}
	return classes
}

// tryIVRHandler attempts to route event to candidate's owner: locally if
// it's self, else over RPC. On RPC timeout it prunes candidate from the
// local tuple view and the dead contact, and reports failure so the
// caller moves on to the next candidate in the same class.
func (n *Node) tryIVRHandler(ctx context.Context, candidate tuplespace.Tuple, event Event) (RouteResult, bool) {
	if candidate.Owner == n.selfID.String() {
		n.handlersMu.RLock()
		h := n.ivrHandler
		n.handlersMu.RUnlock()
		if h == nil {
			return RouteResult{}, false
		}
		port, err := h(ctx, event)
		if err != nil {
			n.logger.Warn("local ivr handler failed", "error", err)
			return RouteResult{}, false
		}
		return RouteResult{Matched: true, OwnerAddr: n.selfIP, FastAGIPort: port}, true
	}

	c, err := n.resolveContact(candidate.Owner)
	if err != nil {
		n.tuples.Take(candidate) // dangling: owner unknown, drop from our view
		return RouteResult{}, false
	}

	payload, err := rpc.CallContact(ctx, n.transport, c, "handleEvent", []any{toWireEvent(event)})
	if err != nil {
		if _, timedOut := err.(*rpc.TimeoutError); timedOut {
			n.tuples.Take(candidate)
			n.contacts.Remove(c.ID)
		}
		return RouteResult{}, false
	}

	var port int
	if err := wire.DecodeValue(payload, &port); err != nil {
		return RouteResult{}, false
	}
	return RouteResult{Matched: true, OwnerAddr: c.IP, FastAGIPort: port}, true
}
