package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/mobilivr/fabric/internal/nodeid"
)

func TestSplitSinglePacketRoundTrip(t *testing.T) {
	msgID := nodeid.MustNew()
	data := []byte("a small envelope")

	packets, err := Split(msgID, data)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("len(packets) = %d, want 1", len(packets))
	}

	r := NewReassembler(0)
	got, ok, err := r.Feed(packets[0])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !ok {
		t.Fatalf("Feed: ok = false, want true for a single-fragment message")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Feed returned %q, want %q", got, data)
	}
}

func TestSplitMultiPacketRoundTrip(t *testing.T) {
	msgID := nodeid.MustNew()
	data := bytes.Repeat([]byte("0123456789"), 2000) // ~20KB, forces fragmentation

	packets, err := Split(msgID, data)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(packets) < 2 {
		t.Fatalf("len(packets) = %d, want >= 2", len(packets))
	}

	r := NewReassembler(0)
	var got []byte
	var ok bool
	for i, p := range packets {
		got, ok, err = r.Feed(p)
		if err != nil {
			t.Fatalf("Feed(%d): %v", i, err)
		}
		if i < len(packets)-1 && ok {
			t.Fatalf("Feed(%d): completed early", i)
		}
	}
	if !ok {
		t.Fatalf("Feed: final fragment did not complete the assembly")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("reassembled data mismatch, len got=%d want=%d", len(got), len(data))
	}
}

func TestReassemblerOutOfOrderFragments(t *testing.T) {
	msgID := nodeid.MustNew()
	data := bytes.Repeat([]byte("x"), chunkBudget*3+17)

	packets, err := Split(msgID, data)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := NewReassembler(0)
	// Feed in reverse order.
	var got []byte
	var ok bool
	for i := len(packets) - 1; i >= 0; i-- {
		got, ok, err = r.Feed(packets[i])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if !ok {
		t.Fatalf("assembly never completed")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("reassembled data mismatch")
	}
}

func TestReassemblerPruneDropsStaleAssemblies(t *testing.T) {
	msgID := nodeid.MustNew()
	data := bytes.Repeat([]byte("y"), chunkBudget*2+1)

	packets, err := Split(msgID, data)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := NewReassembler(time.Millisecond)
	if _, ok, err := r.Feed(packets[0]); err != nil || ok {
		t.Fatalf("Feed(0): ok=%v err=%v", ok, err)
	}

	time.Sleep(5 * time.Millisecond)
	r.Prune()

	if len(r.pending) != 0 {
		t.Errorf("Prune did not clear stale assembly: %d pending", len(r.pending))
	}
}
