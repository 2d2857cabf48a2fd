package agiclient

import (
	"bufio"
	"net"
	"testing"
)

// pipePBX returns a Conn wired to one end of an in-memory pipe, and a
// bufio.Reader/net.Conn pair representing "the PBX" on the other end, so
// tests can script PBX responses without a real socket.
func pipePBX(t *testing.T) (*Conn, net.Conn, *bufio.Reader) {
	t.Helper()
	client, pbx := net.Pipe()
	return NewConn(client), pbx, bufio.NewReader(pbx)
}

func TestReadHeaders(t *testing.T) {
	c, pbx, _ := pipePBX(t)
	defer pbx.Close()

	go func() {
		pbx.Write([]byte("agi_callerid: 5551234\r\nagi_channel: SIP/100-1\r\nagi_dnid: 900\r\nagi_uniqueid: abc123\r\n\r\n"))
	}()

	h, err := c.ReadHeaders()
	if err != nil {
		t.Fatalf("ReadHeaders: %v", err)
	}
	if h["callerid"] != "5551234" || h["channel"] != "SIP/100-1" || h["dnid"] != "900" || h["uniqueid"] != "abc123" {
		t.Errorf("headers = %+v", h)
	}
}

func TestCommandParsesResultAndEndpos(t *testing.T) {
	c, pbx, r := pipePBX(t)
	defer pbx.Close()

	go func() {
		line, _ := r.ReadString('\n')
		if line != "STREAM FILE hello \"\"\n" {
			t.Errorf("unexpected command sent: %q", line)
		}
		pbx.Write([]byte("200 result=0 endpos=4000\n"))
	}()

	res, err := c.Command("STREAM FILE %s %q", "hello", "")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if res.Code != 200 || res.Value != 0 || !res.HasEndPos || res.EndPos != 4000 {
		t.Errorf("res = %+v", res)
	}
}

func TestCommandParsesQuotedValue(t *testing.T) {
	c, pbx, r := pipePBX(t)
	defer pbx.Close()

	go func() {
		r.ReadString('\n')
		pbx.Write([]byte("200 result=1 (some-value)\n"))
	}()

	res, err := c.Command("GET VARIABLE %s", "myvar")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if res.Value != 1 || res.Quoted != "some-value" {
		t.Errorf("res = %+v", res)
	}
}

func TestCommandNonOKStatus(t *testing.T) {
	c, pbx, r := pipePBX(t)
	defer pbx.Close()

	go func() {
		r.ReadString('\n')
		pbx.Write([]byte("510 Invalid or unknown command\n"))
	}()

	res, err := c.Command("BOGUS")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if res.Code != StatusInvalid {
		t.Errorf("res.Code = %d, want 510", res.Code)
	}
}
