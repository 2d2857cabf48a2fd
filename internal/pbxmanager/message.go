// Package pbxmanager is a client for the PBX's line-oriented manager
// protocol: the interface an "ivr" or similar resource owner's
// credentials actually point at (spec.md §6), used to originate outbound
// calls that return as AGI legs C5 picks up. Grounded on
// warik-gami/gami.go's packet shape: key:value lines terminated by a
// blank line, correlated by an ActionID.
package pbxmanager

import (
	"bytes"
	"sort"
	"strings"
)

const (
	lineTerm   = "\r\n"
	kvTerm     = ":"
	cmdEnd     = "--END COMMAND--"
)

var packetTerm = []byte(lineTerm + lineTerm)

// Message is one manager packet: an action, a response, or an
// asynchronous event, all sharing the same key:value shape.
type Message map[string]string

func (m Message) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(m[k])
		b.WriteString("\n")
	}
	return b.String()
}

func (m Message) encode() []byte {
	var buf bytes.Buffer
	for k, v := range m {
		buf.WriteString(k)
		buf.WriteString(kvTerm)
		buf.WriteByte(' ')
		buf.WriteString(v)
		buf.WriteString(lineTerm)
	}
	buf.WriteString(lineTerm)
	return buf.Bytes()
}

// decodeMessage parses one packet's raw bytes (the blank-line terminator
// already stripped) into a Message, skipping the "--END COMMAND--"
// trailer multi-line command output sometimes carries.
func decodeMessage(raw []byte) Message {
	m := make(Message)
	for _, line := range bytes.Split(raw, []byte(lineTerm)) {
		if len(line) == 0 {
			continue
		}
		kv := bytes.SplitN(line, []byte(kvTerm), 2)
		if len(kv) == 1 {
			if string(line) != cmdEnd {
				m["CmdData"] += string(line)
			}
			continue
		}
		k := bytes.TrimSpace(kv[0])
		v := bytes.TrimSpace(kv[1])
		m[string(k)] = string(v)
	}
	return m
}
