package federation

// Event is an inbound occurrence routed through notifyEvent (spec.md §4.4):
// a call arriving at a PBX (type "ivr") or a message arriving at an SMS
// gateway (type "sms"). Channel and CallerID are matched against handler
// tuples' filters; HandlerID and SessionID identify the call/message leg
// to the eventual handler; Extra carries event-specific payload (the SMS
// body and originating number, for instance) that routing itself never
// inspects.
type Event struct {
	Type      string
	Channel   string
	CallerID  string
	SessionID string
	HandlerID string
	Extra     map[string]string
}

// Event type constants.
const (
	EventTypeIVR      = "ivr"
	EventTypeSMS      = "sms"
	EventTypeShutdown = "shutdown"
)

// RouteResult is what NotifyEvent returns: either a live handler was found
// (spec.md §4.4's "invoke the caller's callback with (ownerAddress,
// remoteFastAgiPort)") or none was (the "null address" case). NotifyEvent
// returns this directly rather than invoking an asynchronous callback —
// the operation already blocks the caller's goroutine while it tries
// candidates in priority order, so a synchronous return communicates the
// same contract (spec.md §9: the mechanism is free, the requirement is
// "the application thread ... awaits its result").
type RouteResult struct {
	Matched     bool
	OwnerAddr   string
	FastAGIPort int
}
