package federation

import (
	"context"
	"testing"
	"time"

	"github.com/mobilivr/fabric/internal/contact"
)

func TestShutdownWaitsForClaimedResourcesToDrain(t *testing.T) {
	n := newTestNode(t, fakeResources{"ivr": {"x": "y"}})
	mustJoin(t, n, nil)
	n.PublishResource("ivr", "")

	claimed, err := n.ClaimResource(context.Background(), "ivr", false)
	if err != nil {
		t.Fatalf("ClaimResource: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- n.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatalf("Shutdown returned before claimedResources drained")
	case <-time.After(200 * time.Millisecond):
	}

	n.ReleaseResource(claimed)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown did not return after claimedResources drained")
	}
}

func TestShutdownNotifiesPeersWhoPruneTheContact(t *testing.T) {
	a := newTestNode(t, fakeResources{})
	mustJoin(t, a, nil)
	b := newTestNode(t, fakeResources{})
	mustJoin(t, b, nil)

	host, port := addrOf(t, b)
	a.Contacts().Add(contact.Contact{ID: b.SelfID(), IP: host, Port: port})
	bHost, bPort := addrOf(t, a)
	b.Contacts().Add(contact.Contact{ID: a.SelfID(), IP: bHost, Port: bPort})

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.Contacts().Find(a.SelfID()); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("B did not prune A from its Contact Registry after A's shutdown broadcast")
}

