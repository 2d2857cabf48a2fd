package rpc

import (
	"fmt"

	"github.com/mobilivr/fabric/internal/nodeid"
)

// TimeoutError is the only retryable RPC failure (spec.md §4.1, §7): the
// caller decides whether to retry. It always names the contact that failed
// to respond so callers can prune it from the registry.
type TimeoutError struct {
	ContactID nodeid.ID
	Addr      string
	Method    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: timeout waiting for %s from %s (%s)", e.Method, e.Addr, e.ContactID)
}

// RemoteError mirrors an ErrorResponse received from a peer: either the
// peer rejected the method (AttributeError-equivalent) or the peer's
// handler raised (exception tag + message carried through verbatim).
type RemoteError struct {
	ExceptionTag string
	Message      string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %s: %s", e.ExceptionTag, e.Message)
}

// ExceptionTagAttributeError is returned by the callee when the requested
// method exists but is not RPC-exposed, or does not exist at all — spec.md
// §4.1's "AttributeError-equivalent".
const ExceptionTagAttributeError = "AttributeError"

// ExceptionTagApplicationError tags a RemoteError raised because the
// handler itself returned an error while servicing the request.
const ExceptionTagApplicationError = "ApplicationError"
