// Package tuplespace implements the Tuple Registry (C3, spec.md §3, §4.3):
// the content-addressable store of resource and handler tuples each node
// keeps locally, populated by its own publishes and by replication at join
// time.
//
// Grounded on original_source/mobilIVR/network/staticTupleSpace.py. The
// original hashes only a tuple's first two fields (kind and sub-kind) as
// storage identity, which collapses every handler-ivr tuple in a node's
// store onto one slot regardless of owner — that cannot support spec.md
// §4.4's four-priority-class routing, which requires several owners'
// handler tuples to coexist in the same local view. Storage identity here
// is the hash of every field instead (spec.md §3: "the hash of its
// serialized payload"), which lets distinct owners, and a single owner
// publishing distinct filters, occupy separate entries. The lookup-by-
// template behavior — echoing the template's own filter fields back
// alongside the stored owner id — is kept faithfully; see FindOne.
package tuplespace

import (
	"crypto/sha1"
	"strings"
)

// Kind values.
const (
	KindResource = "resource"
	KindHandler  = "handler"
)

// SubKind values.
const (
	SubKindIVR = "ivr"
	SubKindSMS = "sms"
)

// Tuple is the ordered field sequence spec.md §3 describes: kind, sub-kind,
// owner, and — for handler/ivr tuples only — a channel filter and a
// caller-id filter. An empty Owner, ChannelFilter, or CallerIDFilter marks
// a wildcard field when the Tuple is used as a lookup Template; it never
// marks a wildcard in a Tuple that has actually been Put.
type Tuple struct {
	Kind           string
	SubKind        string
	Owner          string
	ChannelFilter  string
	CallerIDFilter string
}

// ResourceTuple builds a ("resource", resourceType, owner) tuple.
func ResourceTuple(resourceType, owner string) Tuple {
	return Tuple{Kind: KindResource, SubKind: resourceType, Owner: owner}
}

// HandlerIVRTuple builds a ("handler", "ivr", owner, channelFilter,
// callerIDFilter) tuple (spec.md §3).
func HandlerIVRTuple(owner, channelFilter, callerIDFilter string) Tuple {
	return Tuple{Kind: KindHandler, SubKind: SubKindIVR, Owner: owner, ChannelFilter: channelFilter, CallerIDFilter: callerIDFilter}
}

// HandlerSMSTuple builds a ("handler", "sms", owner) tuple.
func HandlerSMSTuple(owner string) Tuple {
	return Tuple{Kind: KindHandler, SubKind: SubKindSMS, Owner: owner}
}

// IsResource reports whether t is a resource tuple.
func (t Tuple) IsResource() bool { return t.Kind == KindResource }

// IsHandler reports whether t is a handler tuple.
func (t Tuple) IsHandler() bool { return t.Kind == KindHandler }

// fields returns t's field sequence in the fixed order spec.md §3 defines,
// trimmed to however many fields the tuple's kind actually carries.
func (t Tuple) fields() []string {
	switch {
	case t.Kind == KindHandler && t.SubKind == SubKindIVR:
		return []string{t.Kind, t.SubKind, t.Owner, t.ChannelFilter, t.CallerIDFilter}
	default:
		return []string{t.Kind, t.SubKind, t.Owner}
	}
}

// key is the sha1 digest of t's field sequence: the tuple's storage
// identity (spec.md §3: "A tuple's identity for storage is the hash of
// its serialized payload; two equal-value tuples are indistinguishable").
func (t Tuple) key() [sha1.Size]byte {
	return sha1.Sum([]byte(strings.Join(t.fields(), "\x1f")))
}

// matches reports whether stored satisfies template: kind and sub-kind
// must match exactly, and every other field of template that is non-empty
// must equal the corresponding field of stored. An empty template field
// matches anything.
func (template Tuple) matches(stored Tuple) bool {
	if template.Kind != stored.Kind || template.SubKind != stored.SubKind {
		return false
	}
	if template.Owner != "" && template.Owner != stored.Owner {
		return false
	}
	if template.ChannelFilter != "" && template.ChannelFilter != stored.ChannelFilter {
		return false
	}
	if template.CallerIDFilter != "" && template.CallerIDFilter != stored.CallerIDFilter {
		return false
	}
	return true
}

// fullyBound reports whether every field template names is non-empty,
// meaning a lookup for it can go straight to a hash-keyed slot instead of
// scanning.
func (template Tuple) fullyBound() bool {
	for _, f := range template.fields() {
		if f == "" {
			return false
		}
	}
	return true
}
