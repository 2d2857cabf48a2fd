package outbound

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/federation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClaimer hands back one fixed ClaimedResource and records whether
// it was released.
type fakeClaimer struct {
	claimed  federation.ClaimedResource
	err      error
	released bool
}

func (f *fakeClaimer) ClaimResource(ctx context.Context, resourceType string, blocking bool) (federation.ClaimedResource, error) {
	return f.claimed, f.err
}

func (f *fakeClaimer) ReleaseResource(claimed federation.ClaimedResource) {
	f.released = true
}

// fakePending is a minimal in-process stand-in for
// *fastagi.PendingHandlers, good enough to exercise Dial's Register/Wait
// sequencing without a real FastAGI server.
type fakePending struct {
	ch chan *agiclient.Session
}

func newFakePending() *fakePending {
	return &fakePending{ch: make(chan *agiclient.Session, 1)}
}

func (f *fakePending) Register(handlerID string) {}

func (f *fakePending) Wait(handlerID string, timeout time.Duration) (*agiclient.Session, bool) {
	select {
	case sess := <-f.ch:
		return sess, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (f *fakePending) deliver(sess *agiclient.Session) {
	f.ch <- sess
}

// fakeManager encodes/decodes the same line-oriented packet shape as
// internal/pbxmanager, independently, so this test doesn't reach into
// that package's unexported helpers.
type fakeManager struct {
	ln net.Listener
}

func startFakeManager(t *testing.T) (*fakeManager, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	conns := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			conns <- nc
		}
	}()
	return &fakeManager{ln: ln}, conns
}

func readFakePacket(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	msg := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading packet: %v", err)
		}
		if line == "\r\n" {
			break
		}
		kv := strings.SplitN(strings.TrimRight(line, "\r\n"), ":", 2)
		if len(kv) == 2 {
			msg[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return msg
}

func writeFakePacket(t *testing.T, nc net.Conn, msg map[string]string) {
	t.Helper()
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(msg[k])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	if _, err := nc.Write(buf.Bytes()); err != nil {
		t.Fatalf("writing packet: %v", err)
	}
}

func TestDialSucceeds(t *testing.T) {
	srv, conns := startFakeManager(t)
	claimer := &fakeClaimer{claimed: federation.ClaimedResource{
		Type:    "ivr",
		OwnerID: "owner",
		Credentials: map[string]string{
			"host":     srv.ln.Addr().(*net.TCPAddr).IP.String(),
			"port":     portOf(t, srv.ln.Addr().String()),
			"username": "user",
			"secret":   "pass",
		},
	}}
	pending := newFakePending()
	dialer := New(claimer, pending, "10.0.0.1", 6500, testLogger())

	resultCh := make(chan error, 1)
	var sess *agiclient.Session
	go func() {
		s, err := dialer.Dial(context.Background(), "SIP/100", "200")
		sess = s
		resultCh <- err
	}()

	nc := <-conns
	defer nc.Close()
	r := bufio.NewReader(nc)

	loginReq := readFakePacket(t, r)
	if loginReq["Action"] != "Login" {
		t.Fatalf("expected Login action, got %+v", loginReq)
	}
	writeFakePacket(t, nc, map[string]string{"Response": "Success", "ActionID": loginReq["ActionID"]})

	originateReq := readFakePacket(t, r)
	if originateReq["Action"] != "Originate" || originateReq["Channel"] != "SIP/100" {
		t.Fatalf("originate request = %+v", originateReq)
	}
	if originateReq["Application"] != "AGI" || !strings.Contains(originateReq["Data"], "10.0.0.1:6500") {
		t.Fatalf("originate did not point back at this node's fastagi: %+v", originateReq)
	}
	writeFakePacket(t, nc, map[string]string{"Response": "Success", "ActionID": originateReq["ActionID"]})

	// Simulate the PBX redialing the AGI leg.
	pending.deliver(nil)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Dial returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dial never returned")
	}
	_ = sess

	if !claimer.released {
		t.Error("ivr resource was never released")
	}
}

func TestDialReturnsDialoutFailedOnOriginateRejection(t *testing.T) {
	srv, conns := startFakeManager(t)
	claimer := &fakeClaimer{claimed: federation.ClaimedResource{
		Credentials: map[string]string{
			"host":     srv.ln.Addr().(*net.TCPAddr).IP.String(),
			"port":     portOf(t, srv.ln.Addr().String()),
			"username": "user",
			"secret":   "pass",
		},
	}}
	pending := newFakePending()
	dialer := New(claimer, pending, "10.0.0.1", 6500, testLogger())

	resultCh := make(chan error, 1)
	go func() {
		_, err := dialer.Dial(context.Background(), "SIP/100", "200")
		resultCh <- err
	}()

	nc := <-conns
	defer nc.Close()
	r := bufio.NewReader(nc)

	loginReq := readFakePacket(t, r)
	writeFakePacket(t, nc, map[string]string{"Response": "Success", "ActionID": loginReq["ActionID"]})

	originateReq := readFakePacket(t, r)
	writeFakePacket(t, nc, map[string]string{"Response": "Error", "Message": "no such channel", "ActionID": originateReq["ActionID"]})

	select {
	case err := <-resultCh:
		var dialoutErr *DialoutFailedError
		if !errors.As(err, &dialoutErr) {
			t.Fatalf("err = %v, want *DialoutFailedError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dial never returned")
	}
}

func portOf(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("splitting addr %q: %v", addr, err)
	}
	return port
}
