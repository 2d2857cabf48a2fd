package wire

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/bencode"

	"github.com/mobilivr/fabric/internal/nodeid"
)

// MaxDatagramSize is the per-packet budget (spec.md §4.1: "~8 KB"). Encoded
// messages larger than this are split into enumerated fragments sharing the
// msgId plus a sequence/count header.
const MaxDatagramSize = 8 * 1024

// chunkBudget leaves room for the packet framing overhead around the raw
// chunk bytes so a fragment never itself exceeds MaxDatagramSize.
const chunkBudget = MaxDatagramSize - 128

// packet is a single on-the-wire datagram: either a complete message
// (Count == 1) or one fragment of a larger one (Count > 1).
type packet struct {
	Seq   int    `bencode:"s"`
	Count int    `bencode:"c"`
	MsgID []byte `bencode:"m"`
	Chunk []byte `bencode:"d"`
}

// Split encodes data (an already-bencoded envelope) into one or more
// datagrams ready to hand to the transport.
func Split(msgID nodeid.ID, data []byte) ([][]byte, error) {
	if len(data) <= chunkBudget {
		pkt := packet{Seq: 0, Count: 1, MsgID: msgID.Bytes(), Chunk: data}
		enc, err := bencode.EncodeBytes(pkt)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding single packet: %w", err)
		}
		return [][]byte{enc}, nil
	}

	count := (len(data) + chunkBudget - 1) / chunkBudget
	out := make([][]byte, 0, count)
	for seq := 0; seq < count; seq++ {
		start := seq * chunkBudget
		end := start + chunkBudget
		if end > len(data) {
			end = len(data)
		}
		pkt := packet{Seq: seq, Count: count, MsgID: msgID.Bytes(), Chunk: data[start:end]}
		enc, err := bencode.EncodeBytes(pkt)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding fragment %d/%d: %w", seq, count, err)
		}
		out = append(out, enc)
	}
	return out, nil
}

// assembly tracks the fragments received so far for one in-flight msgId.
type assembly struct {
	count    int
	chunks   map[int][]byte
	lastSeen time.Time
}

// Reassembler buffers incomplete multi-fragment messages keyed by msgId,
// the way spec.md §4.1 requires of the receiver. It is safe for concurrent
// use: a mutex guards the pending assemblies, so Feed and Prune may be
// called from separate goroutines.
type Reassembler struct {
	mu         sync.Mutex
	pending    map[string]*assembly
	staleAfter time.Duration
}

// NewReassembler creates a Reassembler that discards incomplete assemblies
// older than staleAfter (0 disables staleness pruning).
func NewReassembler(staleAfter time.Duration) *Reassembler {
	return &Reassembler{
		pending:    make(map[string]*assembly),
		staleAfter: staleAfter,
	}
}

// Feed processes one received datagram. It returns the reassembled message
// bytes (ok == true) once every fragment for that msgId has arrived;
// otherwise it returns ok == false while more fragments are awaited.
func (r *Reassembler) Feed(raw []byte) (data []byte, ok bool, err error) {
	var pkt packet
	if err := bencode.DecodeBytes(raw, &pkt); err != nil {
		return nil, false, fmt.Errorf("wire: decoding packet: %w", err)
	}
	if pkt.Count <= 0 || pkt.Seq < 0 || pkt.Seq >= pkt.Count {
		return nil, false, fmt.Errorf("wire: malformed packet header seq=%d count=%d", pkt.Seq, pkt.Count)
	}

	if pkt.Count == 1 {
		return pkt.Chunk, true, nil
	}

	key := string(pkt.MsgID)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, found := r.pending[key]
	if !found {
		a = &assembly{count: pkt.Count, chunks: make(map[int][]byte, pkt.Count)}
		r.pending[key] = a
	}
	a.lastSeen = time.Now()
	a.chunks[pkt.Seq] = pkt.Chunk

	if len(a.chunks) < a.count {
		return nil, false, nil
	}

	var buf bytes.Buffer
	for seq := 0; seq < a.count; seq++ {
		chunk, have := a.chunks[seq]
		if !have {
			// Count reached but a seq is missing: a fragment carrying a
			// different count stored a seq outside this range. Keep waiting.
			return nil, false, nil
		}
		buf.Write(chunk)
	}
	delete(r.pending, key)
	return buf.Bytes(), true, nil
}

// Prune drops assemblies that have not received a fragment in staleAfter,
// so a crashed or lossy sender cannot leak memory indefinitely.
func (r *Reassembler) Prune() {
	if r.staleAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.staleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.pending {
		if a.lastSeen.Before(cutoff) {
			delete(r.pending, key)
		}
	}
}
