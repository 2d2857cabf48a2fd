package federation

import (
	"context"
	"errors"
	"net"

	"github.com/zeebo/bencode"

	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/rpc"
	"github.com/mobilivr/fabric/internal/tuplespace"
	"github.com/mobilivr/fabric/internal/wire"
)

// registerRPCHandlers wires the five RPC-exposed methods spec.md §4.4 names
// onto the transport's explicit dispatch table. Any other inbound method
// name is rejected by the transport itself with an AttributeError-
// equivalent (internal/rpc/transport.go's serveRequest).
func (n *Node) registerRPCHandlers() {
	n.transport.RegisterHandler("invokeResource", n.rpcInvokeResource)
	n.transport.RegisterHandler("handleEvent", n.rpcHandleEvent)
	n.transport.RegisterHandler("findTuple", n.rpcFindTuple)
	n.transport.RegisterHandler("getOwnedTuples", n.rpcGetOwnedTuples)
	n.transport.RegisterHandler("getAllTuples", n.rpcGetAllTuples)
}

func (n *Node) rpcInvokeResource(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error) {
	if len(args) < 1 {
		return nil, errors.New("federation: invokeResource requires a resource type argument")
	}
	var resourceType string
	if err := wire.DecodeValue(args[0], &resourceType); err != nil {
		return nil, err
	}
	return n.resources.ResourceCredentials(resourceType)
}

func (n *Node) rpcHandleEvent(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error) {
	if len(args) < 1 {
		return nil, errors.New("federation: handleEvent requires an event argument")
	}
	var wev wireEvent
	if err := wire.DecodeValue(args[0], &wev); err != nil {
		return nil, err
	}
	event := wev.toEvent()

	switch event.Type {
	case EventTypeShutdown:
		n.contacts.Remove(senderID)
		return true, nil
	case EventTypeIVR:
		n.handlersMu.RLock()
		h := n.ivrHandler
		n.handlersMu.RUnlock()
		if h == nil {
			return nil, errors.New("federation: no local ivr event handler registered")
		}
		port, err := h(ctx, event)
		if err != nil {
			return nil, err
		}
		return port, nil
	case EventTypeSMS:
		n.handlersMu.RLock()
		h := n.smsHandler
		n.handlersMu.RUnlock()
		if h == nil {
			return nil, errors.New("federation: no local sms event handler registered")
		}
		go func() {
			if err := h(context.Background(), event); err != nil {
				n.logger.Warn("local sms handler failed", "error", err)
			}
		}()
		return true, nil
	default:
		return nil, errors.New("federation: unknown event type " + event.Type)
	}
}

func (n *Node) rpcFindTuple(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error) {
	if len(args) < 1 {
		return nil, errors.New("federation: findTuple requires a template argument")
	}
	var wt tuplespace.WireTuple
	if err := wire.DecodeValue(args[0], &wt); err != nil {
		return nil, err
	}
	found, ok := n.tuples.FindOne(tuplespace.FromWire(wt))
	return findTupleResult{Found: ok, Tuple: found.ToWire().(tuplespace.WireTuple)}, nil
}

func (n *Node) rpcGetOwnedTuples(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error) {
	owned := n.tuples.GetOwned(n.selfID.String())
	out := make([]tuplespace.WireTuple, 0, len(owned))
	for _, t := range owned {
		out = append(out, t.ToWire().(tuplespace.WireTuple))
	}
	return out, nil
}

func (n *Node) rpcGetAllTuples(ctx context.Context, from net.Addr, senderID nodeid.ID, args []bencode.RawMessage) (any, error) {
	all := n.tuples.GetAll()
	out := make([]tuplespace.WireTuple, 0, len(all))
	for _, t := range all {
		out = append(out, t.ToWire().(tuplespace.WireTuple))
	}
	return out, nil
}

// findTupleResult is findTuple's wire reply: spec.md §4.3 allows "tuple |
// none", so Found distinguishes the two instead of relying on a null
// payload.
type findTupleResult struct {
	Found bool                 `bencode:"found"`
	Tuple tuplespace.WireTuple `bencode:"tuple"`
}

// wireEvent is Event's RPC wire representation.
type wireEvent struct {
	Type      string            `bencode:"type"`
	Channel   string            `bencode:"channel"`
	CallerID  string            `bencode:"callerId"`
	SessionID string            `bencode:"sessionId"`
	HandlerID string            `bencode:"handlerId"`
	Extra     map[string]string `bencode:"extra"`
}

func toWireEvent(e Event) wireEvent {
	return wireEvent{
		Type:      e.Type,
		Channel:   e.Channel,
		CallerID:  e.CallerID,
		SessionID: e.SessionID,
		HandlerID: e.HandlerID,
		Extra:     e.Extra,
	}
}

func (w wireEvent) toEvent() Event {
	return Event{
		Type:      w.Type,
		Channel:   w.Channel,
		CallerID:  w.CallerID,
		SessionID: w.SessionID,
		HandlerID: w.HandlerID,
		Extra:     w.Extra,
	}
}
