// Package nodeid implements the 160-bit identifiers used throughout the
// federation: node identities and RPC message ids (spec.md §3).
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// Size is the width, in bytes, of a NodeId or MsgId (160 bits).
const Size = 20

// ID is an opaque 160-bit identifier, compared as bytes.
type ID [Size]byte

// Zero is the all-zero id, used as a sentinel for "no id assigned yet".
var Zero ID

// New generates a fresh pseudo-random id.
func New() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Zero, err
	}
	return id, nil
}

// MustNew generates a fresh id, panicking if the system CSPRNG fails.
// Used at startup paths where a failure here means the process cannot run.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == Zero
}

// Bytes returns a copy of the id's raw bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// FromBytes parses a raw byte slice into an ID. It errors if b is not
// exactly Size bytes long, which is how malformed wire messages are
// distinguished from genuine ids.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return Zero, errors.New("nodeid: wrong length")
	}
	copy(id[:], b)
	return id, nil
}
