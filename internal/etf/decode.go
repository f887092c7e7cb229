package etf

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Unmarshal decodes a complete payload (version byte followed by one term).
func Unmarshal(data []byte) (any, error) {
	d, err := NewDecoder(data)
	if err != nil {
		return nil, err
	}
	v, err := d.Term()
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, malformed("%d trailing bytes", d.Remaining())
	}
	return v, nil
}

// Decoder reads terms from a byte slice. It never reads past the slice and
// reports every inconsistency as ErrMalformed.
type Decoder struct {
	buf   []byte
	pos   int
	depth int
}

// NewDecoder checks the version byte and returns a decoder positioned on the
// first term.
func NewDecoder(data []byte) (*Decoder, error) {
	if len(data) == 0 {
		return nil, malformed("empty payload")
	}
	if data[0] != version {
		return nil, malformed("unknown version %d", data[0])
	}
	return &Decoder{buf: data, pos: 1}, nil
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, malformed("unexpected end of input at offset %d", d.pos)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) bytes(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, malformed("need %d bytes at offset %d, have %d", n, d.pos, d.Remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) uint16() (int, error) {
	b, err := d.bytes(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (d *Decoder) uint32() (uint32, error) {
	b, err := d.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// count reads a 32-bit element count and checks it against the bytes left,
// assuming every element takes at least perItem bytes.
func (d *Decoder) count(perItem int) (int, error) {
	n, err := d.uint32()
	if err != nil {
		return 0, err
	}
	if n > MaxCollectionCount {
		return 0, malformed("collection of %d elements exceeds limit", n)
	}
	if int(n)*perItem > d.Remaining() {
		return 0, malformed("collection of %d elements exceeds remaining input", n)
	}
	return int(n), nil
}

// MapLen reads a map header and returns the number of key/value pairs.
func (d *Decoder) MapLen() (int, error) {
	tag, err := d.byte()
	if err != nil {
		return 0, err
	}
	if tag != tagMap {
		return 0, malformed("expected map, found tag %d", tag)
	}
	return d.count(2)
}

// Key reads a map key. Atoms, binaries and strings are accepted.
func (d *Decoder) Key() (string, error) {
	tag, err := d.byte()
	if err != nil {
		return "", err
	}
	switch tag {
	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
		return d.atomName(tag)
	case tagBinary:
		n, err := d.count(1)
		if err != nil {
			return "", err
		}
		b, err := d.bytes(n)
		return string(b), err
	case tagString:
		n, err := d.uint16()
		if err != nil {
			return "", err
		}
		b, err := d.bytes(n)
		return string(b), err
	default:
		return "", malformed("unsupported map key tag %d", tag)
	}
}

// Int reads an integer term that fits in int64.
func (d *Decoder) Int() (int64, error) {
	v, err := d.Term()
	if err != nil {
		return 0, err
	}
	i, ok := v.(int64)
	if !ok {
		return 0, malformed("expected integer, found %T", v)
	}
	return i, nil
}

// Raw returns the encoded bytes of the next term and advances past it.
// The result is a copy and safe to retain.
func (d *Decoder) Raw() (Raw, error) {
	start := d.pos
	if err := d.Skip(); err != nil {
		return nil, err
	}
	raw := make(Raw, d.pos-start)
	copy(raw, d.buf[start:d.pos])
	return raw, nil
}

// Skip advances past the next term.
func (d *Decoder) Skip() error {
	_, err := d.Term()
	return err
}

// Term decodes the next term.
func (d *Decoder) Term() (any, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagSmallInteger:
		b, err := d.byte()
		return int64(b), err

	case tagInteger:
		n, err := d.uint32()
		return int64(int32(n)), err

	case tagNewFloat:
		b, err := d.bytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil

	case tagFloat:
		b, err := d.bytes(31)
		if err != nil {
			return nil, err
		}
		f, perr := strconv.ParseFloat(strings.TrimRight(string(b), "\x00"), 64)
		if perr != nil {
			return nil, malformed("bad float literal %q", b)
		}
		return f, nil

	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
		name, err := d.atomName(tag)
		if err != nil {
			return nil, err
		}
		switch name {
		case "nil":
			return nil, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return Atom(name), nil

	case tagBinary:
		n, err := d.count(1)
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		return string(b), err

	case tagString:
		n, err := d.uint16()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		return string(b), err

	case tagNil:
		return []any{}, nil

	case tagList:
		return d.list()

	case tagSmallTuple:
		n, err := d.byte()
		if err != nil {
			return nil, err
		}
		return d.tuple(int(n))

	case tagLargeTuple:
		n, err := d.count(1)
		if err != nil {
			return nil, err
		}
		return d.tuple(n)

	case tagMap:
		n, err := d.count(2)
		if err != nil {
			return nil, err
		}
		return d.mapBody(n)

	case tagSmallBig:
		n, err := d.byte()
		if err != nil {
			return nil, err
		}
		return d.big(int(n))

	case tagLargeBig:
		n, err := d.count(1)
		if err != nil {
			return nil, err
		}
		return d.big(n)

	default:
		return nil, malformed("unsupported tag %d at offset %d", tag, d.pos-1)
	}
}

func (d *Decoder) atomName(tag byte) (string, error) {
	var n int
	var err error
	switch tag {
	case tagSmallAtom, tagSmallAtomUTF8:
		var b byte
		b, err = d.byte()
		n = int(b)
	default:
		n, err = d.uint16()
	}
	if err != nil {
		return "", err
	}
	b, err := d.bytes(n)
	return string(b), err
}

func (d *Decoder) enter() error {
	d.depth++
	if d.depth > MaxDepth {
		return malformed("nesting deeper than %d", MaxDepth)
	}
	return nil
}

func (d *Decoder) leave() { d.depth-- }

func (d *Decoder) list() (any, error) {
	n, err := d.count(1)
	if err != nil {
		return nil, err
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.Term()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	tail, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tail != tagNil {
		return nil, malformed("improper list tail tag %d", tail)
	}
	return out, nil
}

func (d *Decoder) tuple(n int) (any, error) {
	if n > d.Remaining() {
		return nil, malformed("tuple of %d elements exceeds remaining input", n)
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	out := make(Tuple, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.Term()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) mapBody(n int) (any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.Key()
		if err != nil {
			return nil, err
		}
		v, err := d.Term()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// big decodes n little-endian magnitude digits preceded by a sign byte.
func (d *Decoder) big(n int) (any, error) {
	sign, err := d.byte()
	if err != nil {
		return nil, err
	}
	if sign > 1 {
		return nil, malformed("bad bignum sign %d", sign)
	}
	digits, err := d.bytes(n)
	if err != nil {
		return nil, err
	}

	if n <= 8 {
		var mag uint64
		for i := n - 1; i >= 0; i-- {
			mag = mag<<8 | uint64(digits[i])
		}
		switch {
		case sign == 0 && mag <= math.MaxInt64:
			return int64(mag), nil
		case sign == 1 && mag == 1<<63:
			return int64(math.MinInt64), nil
		case sign == 1 && mag < 1<<63:
			return -int64(mag), nil
		}
	}

	be := make([]byte, n)
	for i := range digits {
		be[n-1-i] = digits[i]
	}
	b := new(big.Int).SetBytes(be)
	if sign == 1 {
		b.Neg(b)
	}
	return b, nil
}
