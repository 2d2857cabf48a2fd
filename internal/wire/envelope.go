// Package wire implements the RPC wire format from spec.md §6: a bencoded
// map with integer-named keys, carrying requests, responses, and error
// responses, with fragmentation for oversize payloads (see fragment.go).
//
// The codec is grounded on andradeandrey-go-qrp's bencode-over-UDP node,
// which encodes a Query/Reply envelope with github.com/zeebo/bencode; this
// package follows the same encode/decode shape but keys the envelope by the
// explicit integer tags spec.md §6 enumerates instead of a Query/Reply sum
// type, and keeps request arguments as a list of opaque values so a method's
// argument types can be decoded by the dispatch table that owns them.
package wire

import (
	"fmt"

	"github.com/zeebo/bencode"

	"github.com/mobilivr/fabric/internal/nodeid"
)

// Type identifies which of the three message kinds an envelope carries.
type Type int

const (
	TypeRequest Type = iota
	TypeResponse
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// envelope is the wire-level struct bencoded onto (or reassembled from) the
// datagram. Field tags "0".."4" mirror spec.md §6's integer key schema.
type envelope struct {
	Type     int               `bencode:"0"`
	MsgID    []byte            `bencode:"1"`
	SenderID []byte            `bencode:"2"`
	Payload  bencode.RawMessage `bencode:"3"`
	Args     bencode.RawMessage `bencode:"4"`
}

// Request is an inbound or outbound RPC call.
type Request struct {
	MsgID    nodeid.ID
	SenderID nodeid.ID
	Method   string
	Args     []bencode.RawMessage
}

// Response is a successful RPC reply.
type Response struct {
	MsgID    nodeid.ID
	SenderID nodeid.ID
	Payload  bencode.RawMessage
}

// ErrorResponse is a failed RPC reply: the callee either rejected the
// method (AttributeError-equivalent) or its handler raised.
type ErrorResponse struct {
	MsgID        nodeid.ID
	SenderID     nodeid.ID
	ExceptionTag string
	Message      string
}

// EncodeValue bencodes an arbitrary Go value (string, int, []any, map[string]any, ...)
// for use as a Request argument or a Response payload.
func EncodeValue(v any) (bencode.RawMessage, error) {
	b, err := bencode.EncodeBytes(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding value: %w", err)
	}
	return bencode.RawMessage(b), nil
}

// DecodeValue unmarshals a raw bencoded value into dst (a pointer).
func DecodeValue(raw bencode.RawMessage, dst any) error {
	if err := bencode.DecodeBytes(raw, dst); err != nil {
		return fmt.Errorf("wire: decoding value: %w", err)
	}
	return nil
}

// EncodeRequest bencodes a Request envelope.
func EncodeRequest(r Request) ([]byte, error) {
	argsRaw, err := bencode.EncodeBytes(r.Args)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding args: %w", err)
	}
	payloadRaw, err := bencode.EncodeBytes(r.Method)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding method: %w", err)
	}
	env := envelope{
		Type:     int(TypeRequest),
		MsgID:    r.MsgID.Bytes(),
		SenderID: r.SenderID.Bytes(),
		Payload:  bencode.RawMessage(payloadRaw),
		Args:     bencode.RawMessage(argsRaw),
	}
	return bencode.EncodeBytes(env)
}

// EncodeResponse bencodes a Response envelope. The args key is unused for
// responses but still present (spec.md §6's schema is fixed across message
// kinds), encoded as an empty list.
func EncodeResponse(r Response) ([]byte, error) {
	emptyArgs, err := bencode.EncodeBytes([]bencode.RawMessage{})
	if err != nil {
		return nil, fmt.Errorf("wire: encoding empty args: %w", err)
	}
	env := envelope{
		Type:     int(TypeResponse),
		MsgID:    r.MsgID.Bytes(),
		SenderID: r.SenderID.Bytes(),
		Payload:  r.Payload,
		Args:     bencode.RawMessage(emptyArgs),
	}
	return bencode.EncodeBytes(env)
}

// EncodeError bencodes an ErrorResponse envelope.
func EncodeError(r ErrorResponse) ([]byte, error) {
	payloadRaw, err := bencode.EncodeBytes(r.ExceptionTag)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding exception tag: %w", err)
	}
	argsRaw, err := bencode.EncodeBytes(r.Message)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding exception message: %w", err)
	}
	env := envelope{
		Type:     int(TypeError),
		MsgID:    r.MsgID.Bytes(),
		SenderID: r.SenderID.Bytes(),
		Payload:  bencode.RawMessage(payloadRaw),
		Args:     bencode.RawMessage(argsRaw),
	}
	return bencode.EncodeBytes(env)
}

// Message is the decoded result of Decode: exactly one of Request, Response,
// or Err is non-nil, selected by Type.
type Message struct {
	Type     Type
	Request  *Request
	Response *Response
	Err      *ErrorResponse
}

// Decode parses a reassembled datagram into a Message.
func Decode(data []byte) (*Message, error) {
	var env envelope
	if err := bencode.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decoding envelope: %w", err)
	}

	msgID, err := nodeid.FromBytes(env.MsgID)
	if err != nil {
		return nil, fmt.Errorf("wire: bad msgId: %w", err)
	}
	senderID, err := nodeid.FromBytes(env.SenderID)
	if err != nil {
		return nil, fmt.Errorf("wire: bad senderId: %w", err)
	}

	switch Type(env.Type) {
	case TypeRequest:
		var method string
		if err := bencode.DecodeBytes(env.Payload, &method); err != nil {
			return nil, fmt.Errorf("wire: decoding method name: %w", err)
		}
		var args []bencode.RawMessage
		if err := bencode.DecodeBytes(env.Args, &args); err != nil {
			return nil, fmt.Errorf("wire: decoding args: %w", err)
		}
		return &Message{Type: TypeRequest, Request: &Request{
			MsgID: msgID, SenderID: senderID, Method: method, Args: args,
		}}, nil
	case TypeResponse:
		return &Message{Type: TypeResponse, Response: &Response{
			MsgID: msgID, SenderID: senderID, Payload: env.Payload,
		}}, nil
	case TypeError:
		var tag string
		if err := bencode.DecodeBytes(env.Payload, &tag); err != nil {
			return nil, fmt.Errorf("wire: decoding exception tag: %w", err)
		}
		var msg string
		if err := bencode.DecodeBytes(env.Args, &msg); err != nil {
			return nil, fmt.Errorf("wire: decoding exception message: %w", err)
		}
		return &Message{Type: TypeError, Err: &ErrorResponse{
			MsgID: msgID, SenderID: senderID, ExceptionTag: tag, Message: msg,
		}}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", env.Type)
	}
}
