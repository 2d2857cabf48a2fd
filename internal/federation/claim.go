package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mobilivr/fabric/internal/rpc"
	"github.com/mobilivr/fabric/internal/tuplespace"
	"github.com/mobilivr/fabric/internal/wire"
)

// claimPollInterval is the blocking-claim retry cadence, matching the
// 500 ms cadence spec.md §4.4's shutdown wait also uses.
const claimPollInterval = 500 * time.Millisecond

// ErrNoResourceAvailable is returned by a non-blocking ClaimResource (or a
// blocking one with no known contacts to wait on) when no matching
// resource tuple exists locally.
var ErrNoResourceAvailable = errors.New("federation: no matching resource available")

// ClaimedResource is what a successful ClaimResource returns: the direct-
// access credentials for the resource, plus enough to Release it again.
type ClaimedResource struct {
	Type        string
	OwnerID     string
	Credentials map[string]string
}

// exclusiveResourceTypes lists the resource types whose claim removes the
// matched tuple from the local store (removeResource=true), per
// original_source/mobilIVR/ivr/dialer.py:93's getResource('ivr', ...,
// removeResource=True). Types absent from this set are read non-
// destructively, per original_source/mobilIVR/sms.py:116's
// getResource('sms', ..., removeResource=False): an SMS resource is meant
// to be claimed repeatedly by concurrent inbound messages without an
// intervening Release. Anything not named here defaults to exclusive, the
// safer behavior for an unrecognized resource type.
var exclusiveResourceTypes = map[string]bool{
	"ivr": true,
	"sms": false,
}

// removeResource reports whether claiming resourceType should take
// (delete) the matched tuple rather than merely read it, per spec.md
// §4.4 step 2 ("Read-or-take from local tuple store, per the
// removeResource flag").
func removeResource(resourceType string) bool {
	exclusive, known := exclusiveResourceTypes[resourceType]
	if !known {
		return true
	}
	return exclusive
}

// ClaimResource claims a lendable resource of the given type (spec.md
// §4.4). Whether the matched tuple is removed from the local store or
// merely read depends on resourceType's removeResource flag (see
// removeResource): exclusive types like "ivr" are taken so a second
// concurrent claim fails until the resource is released, while
// non-exclusive types like "sms" are read so repeated claims all succeed.
// If blocking and the resource isn't available locally but the node has
// known peers, it polls until one appears, ctx is cancelled, or the
// caller gives up; a non-blocking call (or a blocking one with no known
// peers to wait on) fails immediately.
func (n *Node) ClaimResource(ctx context.Context, resourceType string, blocking bool) (ClaimedResource, error) {
	template := tuplespace.ResourceTuple(resourceType, "")
	exclusive := removeResource(resourceType)

	for {
		var taken tuplespace.Tuple
		var ok bool
		if exclusive {
			taken, ok = n.tuples.Take(template)
		} else {
			taken, ok = n.tuples.FindOne(template)
		}
		if !ok {
			if !blocking || n.contacts.Len() == 0 {
				return ClaimedResource{}, ErrNoResourceAvailable
			}
			select {
			case <-ctx.Done():
				return ClaimedResource{}, ctx.Err()
			case <-time.After(claimPollInterval):
				continue
			}
		}

		if taken.Owner == n.selfID.String() {
			creds, err := n.resources.ResourceCredentials(resourceType)
			if err != nil {
				if exclusive {
					n.tuples.Put(taken) // never left the local node; restore it
				}
				return ClaimedResource{}, err
			}
			n.claimedResources.Add(1)
			return ClaimedResource{Type: resourceType, OwnerID: taken.Owner, Credentials: creds}, nil
		}

		c, err := n.resolveContact(taken.Owner)
		if err != nil {
			// Owner unknown: spec.md §4.4 says "if unknown and we did not
			// take the tuple, delete the dangling tuple and loop". For an
			// exclusive claim the Take above already removed it; for a
			// non-exclusive (read) claim it's still present and must be
			// removed explicitly here.
			if !exclusive {
				n.tuples.Take(tuplespace.ResourceTuple(resourceType, taken.Owner))
			}
			n.logger.Warn("claim: dropping tuple with unresolvable owner", "owner", taken.Owner, "error", err)
			continue
		}

		payload, err := rpc.CallContact(ctx, n.transport, c, "invokeResource", []any{resourceType})
		if err != nil {
			if _, timedOut := err.(*rpc.TimeoutError); timedOut {
				n.contacts.Remove(c.ID)
			}
			// Per spec.md §4.4, "the claimed tuple is treated as consumed
			// and the operation surfaces the failure" rather than being
			// retried automatically, regardless of whether this claim's
			// type actually removed the tuple from the local store.
			return ClaimedResource{}, fmt.Errorf("federation: claim: invokeResource on %s: %w", taken.Owner, err)
		}

		var creds map[string]string
		if err := wire.DecodeValue(payload, &creds); err != nil {
			return ClaimedResource{}, err
		}
		n.claimedResources.Add(1)
		return ClaimedResource{Type: resourceType, OwnerID: taken.Owner, Credentials: creds}, nil
	}
}

// ReleaseResource re-publishes a claimed resource on the local tuple store
// under its original owner id (spec.md §4.4: "Re-publish the resource on
// the local tuple store with originalPublisherId = originalOwnerId of the
// claim") and decrements claimedResources.
func (n *Node) ReleaseResource(claimed ClaimedResource) {
	n.PublishResource(claimed.Type, claimed.OwnerID)
	n.claimedResources.Add(-1)
}
