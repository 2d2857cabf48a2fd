package federation

import "github.com/mobilivr/fabric/internal/tuplespace"

// PublishResource advertises a lendable resource this node owns (spec.md
// §4.4). originalPublisher, when non-empty, names the node that first
// published the resource — used when re-publishing a resource this node
// had claimed and is now releasing, so attribution survives the
// claim/release cycle (see ReleaseResource, and spec.md §9's open question about
// originalPublisherId).
func (n *Node) PublishResource(resourceType, originalPublisher string) {
	owner := originalPublisher
	if owner == "" {
		owner = n.selfID.String()
	}
	n.tuples.Put(tuplespace.ResourceTuple(resourceType, owner))
}

// PublishHandlerIVR advertises this node's ability to service IVR events
// matching channelFilter/callerIDFilter (empty strings mean "any").
func (n *Node) PublishHandlerIVR(channelFilter, callerIDFilter string) {
	n.tuples.Put(tuplespace.HandlerIVRTuple(n.selfID.String(), channelFilter, callerIDFilter))
}

// PublishHandlerSMS advertises this node's ability to service SMS events.
func (n *Node) PublishHandlerSMS() {
	n.tuples.Put(tuplespace.HandlerSMSTuple(n.selfID.String()))
}
