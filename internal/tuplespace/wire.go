package tuplespace

// wireTuple is the bencode-friendly shape a Tuple takes on the RPC wire:
// a flat ordered list matching spec.md §3's field sequence exactly, with
// the two handler-only fields present (possibly empty) even for resource
// tuples so every putTuple/findTuple/getAllTuples call shares one schema.
type wireTuple struct {
	Kind           string `bencode:"kind"`
	SubKind        string `bencode:"subKind"`
	Owner          string `bencode:"owner"`
	ChannelFilter  string `bencode:"channelFilter"`
	CallerIDFilter string `bencode:"callerIdFilter"`
}

// ToWire converts t to its RPC wire representation.
func (t Tuple) ToWire() any {
	return wireTuple{
		Kind:           t.Kind,
		SubKind:        t.SubKind,
		Owner:          t.Owner,
		ChannelFilter:  t.ChannelFilter,
		CallerIDFilter: t.CallerIDFilter,
	}
}

// FromWire reconstructs a Tuple from its decoded wire representation.
func FromWire(w wireTuple) Tuple {
	return Tuple{
		Kind:           w.Kind,
		SubKind:        w.SubKind,
		Owner:          w.Owner,
		ChannelFilter:  w.ChannelFilter,
		CallerIDFilter: w.CallerIDFilter,
	}
}

// WireTuple exposes wireTuple for decoding call sites outside the package
// (federation's RPC handlers decode args straight into it).
type WireTuple = wireTuple
