package rpc

import (
	"context"

	"github.com/zeebo/bencode"

	"github.com/mobilivr/fabric/internal/contact"
)

// CallContact is the stateless client-side stub spec.md §9 asks for in
// place of a Contact/node cyclic reference: it takes the transport, a pure
// data Contact, a method name, and args, and issues the RPC. Contacts never
// carry a reference back to a transport or to the federation node.
func CallContact(ctx context.Context, t *Transport, c contact.Contact, method string, args []any) (bencode.RawMessage, error) {
	return t.SendRPC(ctx, c.Addr(), c.ID, method, args)
}
