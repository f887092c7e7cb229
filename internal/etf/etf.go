// Package etf implements the subset of the Erlang External Term Format used
// by the gateway for envelope payloads.
//
// Encoding maps Go values onto terms:
//
//	nil, nil pointer/interface  -> atom nil
//	bool                        -> atom true / false
//	Atom                        -> atom
//	ints, uints, *big.Int       -> SMALL_INTEGER / INTEGER / SMALL_BIG / LARGE_BIG
//	float32, float64            -> NEW_FLOAT
//	string, []byte              -> BINARY
//	slices, arrays              -> LIST (empty -> NIL)
//	Tuple                       -> SMALL_TUPLE / LARGE_TUPLE
//	map[string]T                -> MAP, keys sorted
//	struct                      -> MAP, fields in declaration order (`etf:"name,omitempty"`)
//	Raw                         -> embedded verbatim
//
// Decoding produces nil, bool, int64 (or *big.Int), float64, string, Atom,
// []any, Tuple and map[string]any.
package etf

import (
	"errors"
	"fmt"
)

const version byte = 131

// Term tags.
const (
	tagNewFloat      byte = 70
	tagSmallInteger  byte = 97
	tagInteger       byte = 98
	tagFloat         byte = 99
	tagAtom          byte = 100
	tagSmallTuple    byte = 104
	tagLargeTuple    byte = 105
	tagNil           byte = 106
	tagString        byte = 107
	tagList          byte = 108
	tagBinary        byte = 109
	tagSmallBig      byte = 110
	tagLargeBig      byte = 111
	tagSmallAtom     byte = 115
	tagMap           byte = 116
	tagAtomUTF8      byte = 118
	tagSmallAtomUTF8 byte = 119
)

// Limits applied while decoding untrusted input.
const (
	// MaxDepth is the deepest nesting of lists, tuples and maps accepted.
	MaxDepth = 256

	// MaxCollectionCount bounds the element count of a single collection.
	MaxCollectionCount = 1 << 20
)

// ErrMalformed is returned for truncated, oversized or otherwise invalid input.
var ErrMalformed = errors.New("etf: malformed payload")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Atom is an Erlang atom. The atoms nil, true and false never decode to Atom;
// they become nil and bool.
type Atom string

// Tuple is a fixed-arity Erlang tuple.
type Tuple []any

// Raw is a single encoded term without the leading version byte.
// Marshal embeds it verbatim; an empty Raw encodes as nil.
type Raw []byte

// Decode decodes the term held by r.
func (r Raw) Decode() (any, error) {
	d := &Decoder{buf: r}
	v, err := d.Term()
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, malformed("%d trailing bytes", d.Remaining())
	}
	return v, nil
}

// Bytes returns r as a standalone payload, prefixed with the version byte.
func (r Raw) Bytes() []byte {
	out := make([]byte, 0, len(r)+1)
	out = append(out, version)
	return append(out, r...)
}
