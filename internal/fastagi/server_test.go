package fastagi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/federation"
	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/rpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResources map[string]map[string]string

func (f fakeResources) ResourceCredentials(resourceType string) (map[string]string, error) {
	creds, ok := f[resourceType]
	if !ok {
		return nil, errors.New("fakeResources: no such resource " + resourceType)
	}
	return creds, nil
}

func newTestServer(t *testing.T, resources federation.ResourceProvider) (*Server, *federation.Node) {
	t.Helper()
	id := nodeid.MustNew()
	tr, err := rpc.New("127.0.0.1:0", id, testLogger(), nil)
	if err != nil {
		t.Fatalf("rpc.New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	node := federation.New(tr, id, "127.0.0.1", resources, testLogger())
	if err := node.Join(context.Background(), nil); err != nil {
		t.Fatalf("Join: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	s := NewServer(ln, node, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx)
	return s, node
}

// fakePBX drives one end of an AGI-over-network connection the way the
// PBX does: it writes the header block, then answers whatever commands
// the server sends until told to stop.
type fakePBX struct {
	t    *testing.T
	nc   net.Conn
	r    *bufio.Reader
}

func dialFakePBX(t *testing.T, addr net.Addr, callerID, channel, dnid, uniqueID string) *fakePBX {
	t.Helper()
	nc, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	headers := "agi_callerid: " + callerID + "\r\n" +
		"agi_channel: " + channel + "\r\n" +
		"agi_dnid: " + dnid + "\r\n" +
		"agi_uniqueid: " + uniqueID + "\r\n\r\n"
	if _, err := nc.Write([]byte(headers)); err != nil {
		t.Fatalf("writing headers: %v", err)
	}
	return &fakePBX{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (f *fakePBX) expectCommand(prefix string) string {
	f.t.Helper()
	line, err := f.r.ReadString('\n')
	if err != nil {
		f.t.Fatalf("reading command (want prefix %q): %v", prefix, err)
	}
	return line
}

func (f *fakePBX) reply(line string) {
	f.t.Helper()
	if _, err := f.nc.Write([]byte(line + "\n")); err != nil {
		f.t.Fatalf("writing reply: %v", err)
	}
}

func (f *fakePBX) close() { f.nc.Close() }

// TestInboundCallRoutesLocallyAndRedials exercises the full handler-id
// absent path on a single self-routing node: claim ivr, mint+push a
// handler-id, notifyEvent resolves to the local handler, EXEC AGI
// re-dials, and the second connection carrying the same handler-id is
// delivered to the spawned run callback.
func TestInboundCallRoutesLocallyAndRedials(t *testing.T) {
	resources := fakeResources{"ivr": {"x": "y"}}
	s, node := newTestServer(t, resources)
	node.PublishResource("ivr", "")
	node.PublishHandlerIVR("", "")

	var mu sync.Mutex
	var gotSession *agiclient.Session
	var gotEvent federation.Event
	done := make(chan struct{})

	node.SetIVREventHandler(s.LocalIVRHandler(func(sess *agiclient.Session, event federation.Event) {
		mu.Lock()
		gotSession = sess
		gotEvent = event
		mu.Unlock()
		close(done)
	}))

	pbx := dialFakePBX(t, s.listener.Addr(), "5551234", "SIP/100-1", "900", "uid-1")
	defer pbx.close()

	pbx.expectCommand("GET VARIABLE")
	pbx.reply("200 result=0")

	var handlerID string
	setLine := pbx.expectCommand("SET VARIABLE")
	handlerID = extractSetVariableValue(t, setLine)
	pbx.reply("200 result=1")

	execLine := pbx.expectCommand("EXEC AGI")
	if execLine == "" {
		t.Fatalf("expected EXEC AGI command")
	}
	pbx.reply("200 result=0")

	// The PBX's re-dial: a second connection carrying the same handler-id.
	redial := dialFakePBX(t, s.listener.Addr(), "5551234", "SIP/100-1", "900", "uid-1")
	defer redial.close()

	redial.expectCommand("GET VARIABLE")
	redial.reply("200 result=1 (" + handlerID + ")")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run callback never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSession == nil {
		t.Fatalf("no session delivered")
	}
	if gotEvent.CallerID != "5551234" || gotEvent.Channel != "SIP/100-1" {
		t.Errorf("event = %+v", gotEvent)
	}
}

func TestReturnLegForUnknownHandlerIsHungUp(t *testing.T) {
	s, _ := newTestServer(t, fakeResources{})

	pbx := dialFakePBX(t, s.listener.Addr(), "555", "SIP/1-1", "900", "uid")
	pbx.expectCommand("GET VARIABLE")
	pbx.reply("200 result=1 (no-such-handler)")

	buf := make([]byte, 1)
	pbx.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := pbx.nc.Read(buf)
	if err != io.EOF {
		t.Errorf("expected connection to be hung up (EOF), got %v", err)
	}
}

func extractSetVariableValue(t *testing.T, line string) string {
	t.Helper()
	// "SET VARIABLE ivrhandlerid \"<uuid>\"\n"
	start := -1
	for i := 0; i < len(line); i++ {
		if line[i] == '"' {
			start = i + 1
			break
		}
	}
	if start == -1 {
		t.Fatalf("no quoted value in %q", line)
	}
	end := start
	for end < len(line) && line[end] != '"' {
		end++
	}
	return line[start:end]
}
