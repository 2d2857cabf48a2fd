package federation

import (
	"context"
	"net"
	"testing"

	"github.com/mobilivr/fabric/internal/tuplespace"
)

func TestJoinReplicatesSeedTuples(t *testing.T) {
	b := newTestNode(t, fakeResources{})
	mustJoin(t, b, nil)
	b.PublishResource("ivr", "")

	a := newTestNode(t, fakeResources{})
	seedAddr := net.JoinHostPort(addrOf(t, b))
	if err := a.Join(context.Background(), []string{seedAddr}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	got, ok := a.tuples.FindOne(tuplespace.ResourceTuple("ivr", ""))
	if !ok {
		t.Fatalf("joining node did not learn seed's resource tuple")
	}
	if got.Owner != b.SelfID().String() {
		t.Errorf("Owner = %q, want %q (B's id)", got.Owner, b.SelfID().String())
	}

	if _, ok := a.contacts.Find(b.SelfID()); !ok {
		t.Errorf("joining node did not add B to its Contact Registry")
	}
}

func TestJoinNoneReachable(t *testing.T) {
	a := newTestNode(t, fakeResources{})

	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	addr := dead.LocalAddr().String()
	dead.Close()

	err = a.Join(context.Background(), []string{addr})
	if err != ErrJoinNoneReachable {
		t.Errorf("Join error = %v, want ErrJoinNoneReachable", err)
	}
}

func TestJoinPartialFailure(t *testing.T) {
	b := newTestNode(t, fakeResources{})
	mustJoin(t, b, nil)

	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	deadAddr := dead.LocalAddr().String()
	dead.Close()

	a := newTestNode(t, fakeResources{})
	liveAddr := net.JoinHostPort(addrOf(t, b))

	err = a.Join(context.Background(), []string{liveAddr, deadAddr})
	if err != ErrJoinPartial {
		t.Errorf("Join error = %v, want ErrJoinPartial", err)
	}
}
