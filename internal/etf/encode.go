package etf

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
)

var (
	atomType   = reflect.TypeOf(Atom(""))
	tupleType  = reflect.TypeOf(Tuple(nil))
	rawType    = reflect.TypeOf(Raw(nil))
	bigIntType = reflect.TypeOf((*big.Int)(nil))
)

// Marshal returns the external term encoding of v, including the version byte.
func Marshal(v any) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 256)}
	e.buf = append(e.buf, version)
	if err := e.encode(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// encoder appends terms to an internal buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) encode(v reflect.Value, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("etf: value nested deeper than %d", MaxDepth)
	}
	if !v.IsValid() {
		e.atom("nil")
		return nil
	}

	switch v.Type() {
	case rawType:
		if v.Len() == 0 {
			e.atom("nil")
		} else {
			e.buf = append(e.buf, v.Bytes()...)
		}
		return nil
	case atomType:
		return e.atomChecked(v.String())
	case bigIntType:
		if v.IsNil() {
			e.atom("nil")
			return nil
		}
		e.bigInt(v.Interface().(*big.Int))
		return nil
	case tupleType:
		return e.tuple(v, depth)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			e.atom("nil")
			return nil
		}
		return e.encode(v.Elem(), depth)
	case reflect.Bool:
		if v.Bool() {
			e.atom("true")
		} else {
			e.atom("false")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.int(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.uint(v.Uint())
	case reflect.Float32, reflect.Float64:
		e.float(v.Float())
	case reflect.String:
		e.binary([]byte(v.String()))
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.binary(v.Bytes())
			return nil
		}
		return e.list(v, depth)
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			e.binary(b)
			return nil
		}
		return e.list(v, depth)
	case reflect.Map:
		return e.mapValue(v, depth)
	case reflect.Struct:
		return e.structValue(v, depth)
	default:
		return fmt.Errorf("etf: unsupported type %s", v.Type())
	}
	return nil
}

func (e *encoder) atom(name string) {
	e.buf = append(e.buf, tagSmallAtomUTF8, byte(len(name)))
	e.buf = append(e.buf, name...)
}

func (e *encoder) atomChecked(name string) error {
	switch {
	case len(name) <= math.MaxUint8:
		e.atom(name)
	case len(name) <= math.MaxUint16:
		e.buf = append(e.buf, tagAtomUTF8, byte(len(name)>>8), byte(len(name)))
		e.buf = append(e.buf, name...)
	default:
		return fmt.Errorf("etf: atom of %d bytes is too long", len(name))
	}
	return nil
}

func (e *encoder) uint32(n uint32) {
	e.buf = append(e.buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func (e *encoder) int(i int64) {
	switch {
	case i >= 0 && i <= math.MaxUint8:
		e.buf = append(e.buf, tagSmallInteger, byte(i))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		e.buf = append(e.buf, tagInteger)
		e.uint32(uint32(int32(i)))
	case i < 0:
		// -(i+1)+1 avoids overflowing on math.MinInt64.
		e.smallBig(1, uint64(-(i+1))+1)
	default:
		e.smallBig(0, uint64(i))
	}
}

func (e *encoder) uint(u uint64) {
	if u <= math.MaxInt32 {
		e.int(int64(u))
		return
	}
	e.smallBig(0, u)
}

// smallBig writes a SMALL_BIG_EXT with little-endian magnitude digits.
func (e *encoder) smallBig(sign byte, mag uint64) {
	var digits [8]byte
	n := 0
	for mag > 0 {
		digits[n] = byte(mag)
		mag >>= 8
		n++
	}
	e.buf = append(e.buf, tagSmallBig, byte(n), sign)
	e.buf = append(e.buf, digits[:n]...)
}

func (e *encoder) bigInt(b *big.Int) {
	if b.IsInt64() {
		e.int(b.Int64())
		return
	}
	if b.IsUint64() {
		e.uint(b.Uint64())
		return
	}
	be := b.Bytes()
	var sign byte
	if b.Sign() < 0 {
		sign = 1
	}
	if len(be) <= math.MaxUint8 {
		e.buf = append(e.buf, tagSmallBig, byte(len(be)), sign)
	} else {
		e.buf = append(e.buf, tagLargeBig)
		e.uint32(uint32(len(be)))
		e.buf = append(e.buf, sign)
	}
	for i := len(be) - 1; i >= 0; i-- {
		e.buf = append(e.buf, be[i])
	}
}

func (e *encoder) float(f float64) {
	bits := math.Float64bits(f)
	e.buf = append(e.buf, tagNewFloat,
		byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

func (e *encoder) binary(b []byte) {
	e.buf = append(e.buf, tagBinary)
	e.uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) list(v reflect.Value, depth int) error {
	n := v.Len()
	if n == 0 {
		e.buf = append(e.buf, tagNil)
		return nil
	}
	e.buf = append(e.buf, tagList)
	e.uint32(uint32(n))
	for i := 0; i < n; i++ {
		if err := e.encode(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, tagNil)
	return nil
}

func (e *encoder) tuple(v reflect.Value, depth int) error {
	n := v.Len()
	if n <= math.MaxUint8 {
		e.buf = append(e.buf, tagSmallTuple, byte(n))
	} else {
		e.buf = append(e.buf, tagLargeTuple)
		e.uint32(uint32(n))
	}
	for i := 0; i < n; i++ {
		if err := e.encode(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) mapValue(v reflect.Value, depth int) error {
	if v.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("etf: unsupported map key type %s", v.Type().Key())
	}
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	e.buf = append(e.buf, tagMap)
	e.uint32(uint32(len(keys)))
	for _, k := range keys {
		e.binary([]byte(k.String()))
		if err := e.encode(v.MapIndex(k), depth+1); err != nil {
			return err
		}
	}
	return nil
}

type field struct {
	name  string
	index int
}

func (e *encoder) structValue(v reflect.Value, depth int) error {
	t := v.Type()
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("etf"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if opts == "omitempty" && isEmptyValue(v.Field(i)) {
			continue
		}
		fields = append(fields, field{name: name, index: i})
	}

	e.buf = append(e.buf, tagMap)
	e.uint32(uint32(len(fields)))
	for _, f := range fields {
		e.binary([]byte(f.name))
		if err := e.encode(v.Field(f.index), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
