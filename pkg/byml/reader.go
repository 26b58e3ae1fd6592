// Package byml reads and writes BYML documents: hash-keyed binary trees of
// arrays, hashes and scalars, stored in either byte order.
//
// A document starts with a 16-byte header:
//
//	0x00 magic    "BY" (big-endian) or "YB" (little-endian)
//	0x02 version  u16
//	0x04 u32      offset of the key table (0 if there are no hash keys)
//	0x08 u32      offset of the string value table (0 if there are no strings)
//	0x0C u32      offset of the root container (0 for an empty document)
//
// Both tables are StringTable nodes whose strings are sorted, so hash keys
// can be found by binary search. Hash entries are sorted by key index.
package byml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/user/aflgo/pkg/aflerr"
)

const (
	headerSize = 0x10

	minVersion = 1
	maxVersion = 7

	// maxDecodeDepth bounds Decode on malformed documents whose container
	// offsets loop back on themselves.
	maxDecodeDepth = 256
)

type document struct {
	data    []byte
	order   binary.ByteOrder
	version uint16
	keys    stringTable
	strings stringTable
}

func (d *document) u24(off int) uint32 {
	b := d.data[off : off+3]
	if d.order == binary.BigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func (d *document) u32(off int) uint32 {
	return d.order.Uint32(d.data[off : off+4])
}

// stringTable is a view over a StringTable node.
type stringTable struct {
	doc    *document
	offset int
	count  int
}

func (d *document) loadStringTable(off uint32) (stringTable, error) {
	t := stringTable{doc: d}
	if off == 0 {
		return t, nil
	}
	if int(off)+4 > len(d.data) {
		return t, aflerr.Formatf("string table offset %#x outside document", off)
	}
	if NodeType(d.data[off]) != TypeStringTable {
		return t, aflerr.Formatf("node at %#x is %s, expected StringTable", off, NodeType(d.data[off]))
	}
	t.offset = int(off)
	t.count = int(d.u24(int(off) + 1))
	if t.offset+4+4*(t.count+1) > len(d.data) {
		return t, aflerr.Formatf("string table at %#x truncated (%d strings)", off, t.count)
	}
	return t, nil
}

func (t stringTable) get(i int) ([]byte, error) {
	if i < 0 || i >= t.count {
		return nil, aflerr.Formatf("string index %d outside table of %d", i, t.count)
	}
	start := t.offset + int(t.doc.u32(t.offset+4+4*i))
	if start >= len(t.doc.data) {
		return nil, aflerr.Formatf("string %d offset %#x outside document", i, start)
	}
	end := bytes.IndexByte(t.doc.data[start:], 0)
	if end < 0 {
		return nil, aflerr.Formatf("string %d is not NUL-terminated", i)
	}
	return t.doc.data[start : start+end], nil
}

// search returns the index of s in the sorted table.
func (t stringTable) search(s string) (int, bool) {
	var failed bool
	i := sort.Search(t.count, func(i int) bool {
		b, err := t.get(i)
		if err != nil {
			failed = true
			return true
		}
		return strings.Compare(string(b), s) >= 0
	})
	if failed || i >= t.count {
		return 0, false
	}
	b, err := t.get(i)
	return i, err == nil && string(b) == s
}

// Reader is a view of one container (Array or Hash) inside a document. It
// borrows the document buffer; nothing is copied until a string is
// requested.
type Reader struct {
	doc    *document
	typ    NodeType
	offset int
	count  int
}

// Parse opens a document, taking the byte order from its magic.
func Parse(data []byte) (Reader, error) {
	if len(data) < 2 {
		return Reader{}, aflerr.Formatf("byml header truncated (%d bytes)", len(data))
	}
	switch {
	case data[0] == 'B' && data[1] == 'Y':
		return ParseOrder(data, binary.BigEndian)
	case data[0] == 'Y' && data[1] == 'B':
		return ParseOrder(data, binary.LittleEndian)
	default:
		return Reader{}, aflerr.Formatf("bad byml magic %q", data[:2])
	}
}

// ParseOrder opens a document that must be stored in the given byte order.
func ParseOrder(data []byte, order binary.ByteOrder) (Reader, error) {
	if len(data) < headerSize {
		return Reader{}, aflerr.Formatf("byml header truncated (%d bytes)", len(data))
	}
	if order.Uint16(data[0:2]) != 0x4259 {
		return Reader{}, aflerr.Formatf("byml magic %q does not match %s", data[:2], order)
	}

	doc := &document{data: data, order: order}
	doc.version = order.Uint16(data[2:4])
	if doc.version < minVersion || doc.version > maxVersion {
		return Reader{}, aflerr.Formatf("unsupported byml version %d", doc.version)
	}

	var err error
	if doc.keys, err = doc.loadStringTable(doc.u32(4)); err != nil {
		return Reader{}, fmt.Errorf("failed to load key table: %w", err)
	}
	if doc.strings, err = doc.loadStringTable(doc.u32(8)); err != nil {
		return Reader{}, fmt.Errorf("failed to load string table: %w", err)
	}

	rootOffset := doc.u32(12)
	if rootOffset == 0 {
		return Reader{doc: doc, typ: TypeNull}, nil
	}
	if int(rootOffset) >= len(data) {
		return Reader{}, aflerr.Formatf("root offset %#x outside document", rootOffset)
	}
	return doc.container(rootOffset, NodeType(data[rootOffset]))
}

func (d *document) container(off uint32, want NodeType) (Reader, error) {
	if int(off)+4 > len(d.data) {
		return Reader{}, aflerr.Formatf("container offset %#x outside document", off)
	}
	typ := NodeType(d.data[off])
	if !typ.IsContainer() || typ != want {
		return Reader{}, aflerr.Formatf("node at %#x is %s, expected %s", off, typ, want)
	}
	r := Reader{doc: d, typ: typ, offset: int(off), count: int(d.u24(int(off) + 1))}
	var end int
	if typ == TypeArray {
		end = r.offset + 4 + alignUp(r.count, 4) + 4*r.count
	} else {
		end = r.offset + 4 + 8*r.count
	}
	if end > len(d.data) {
		return Reader{}, aflerr.Formatf("%s at %#x truncated (%d entries)", typ, off, r.count)
	}
	return r, nil
}

func alignUp(n, alignment int) int {
	return (n + alignment - 1) / alignment * alignment
}

// Type returns Array, Hash, or Null for an empty document.
func (r Reader) Type() NodeType { return r.typ }

// Len returns the number of entries in the container.
func (r Reader) Len() int { return r.count }

// Offset returns the container's position in the document. Two readers
// with the same offset view the same container.
func (r Reader) Offset() int { return r.offset }

// ByteOrder returns the document byte order.
func (r Reader) ByteOrder() binary.ByteOrder { return r.doc.order }

// Version returns the document format version.
func (r Reader) Version() uint16 { return r.doc.version }

// entry is one stored child: its type and its raw 32-bit slot.
type entry struct {
	typ NodeType
	raw uint32
}

func (r Reader) entryAt(i int) (entry, error) {
	if i < 0 || i >= r.count {
		return entry{}, fmt.Errorf("%w: index %d outside %s of %d", aflerr.ErrKeyNotFound, i, r.typ, r.count)
	}
	var e entry
	switch r.typ {
	case TypeArray:
		e.typ = NodeType(r.doc.data[r.offset+4+i])
		e.raw = r.doc.u32(r.offset + 4 + alignUp(r.count, 4) + 4*i)
	case TypeHash:
		at := r.offset + 4 + 8*i
		e.typ = NodeType(r.doc.data[at+3])
		e.raw = r.doc.u32(at + 4)
	default:
		return entry{}, fmt.Errorf("%w: index access on %s", aflerr.ErrTypeMismatch, r.typ)
	}
	if !e.typ.valid() {
		return entry{}, aflerr.Formatf("unknown node type %s at index %d of %s", e.typ, i, r.typ)
	}
	return e, nil
}

func (r Reader) keyIndexAt(i int) int {
	return int(r.doc.u24(r.offset + 4 + 8*i))
}

func (r Reader) entryByKey(key string) (entry, error) {
	if r.typ != TypeHash {
		return entry{}, fmt.Errorf("%w: key %q looked up in %s", aflerr.ErrTypeMismatch, key, r.typ)
	}
	keyIndex, ok := r.doc.keys.search(key)
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", aflerr.ErrKeyNotFound, key)
	}
	i := sort.Search(r.count, func(i int) bool { return r.keyIndexAt(i) >= keyIndex })
	if i >= r.count || r.keyIndexAt(i) != keyIndex {
		return entry{}, fmt.Errorf("%w: %q", aflerr.ErrKeyNotFound, key)
	}
	return r.entryAt(i)
}

// KeyAt returns the key of the i-th entry of a Hash.
func (r Reader) KeyAt(i int) (string, error) {
	if r.typ != TypeHash {
		return "", fmt.Errorf("%w: KeyAt on %s", aflerr.ErrTypeMismatch, r.typ)
	}
	if i < 0 || i >= r.count {
		return "", fmt.Errorf("%w: index %d outside Hash of %d", aflerr.ErrKeyNotFound, i, r.count)
	}
	key, err := r.doc.keys.get(r.keyIndexAt(i))
	if err != nil {
		return "", err
	}
	return string(key), nil
}

// TypeAt returns the stored type of the i-th entry.
func (r Reader) TypeAt(i int) (NodeType, error) {
	e, err := r.entryAt(i)
	return e.typ, err
}

// TypeByKey returns the stored type under key. ok is false when the key is
// absent or r is not a Hash.
func (r Reader) TypeByKey(key string) (NodeType, bool) {
	e, err := r.entryByKey(key)
	return e.typ, err == nil
}

// HasKey reports whether a Hash has an entry under key.
func (r Reader) HasKey(key string) bool {
	_, err := r.entryByKey(key)
	return err == nil
}

func (r Reader) wide(e entry) (uint64, error) {
	off := int(e.raw)
	if off+8 > len(r.doc.data) {
		return 0, aflerr.Formatf("%s value offset %#x outside document", e.typ, off)
	}
	return r.doc.order.Uint64(r.doc.data[off : off+8]), nil
}

func (r Reader) decodeString(e entry) (string, error) {
	b, err := r.doc.strings.get(int(e.raw))
	return string(b), err
}

func (r Reader) decodeBool(e entry) (bool, error) { return e.raw != 0, nil }

func (r Reader) decodeS32(e entry) (int32, error) { return int32(e.raw), nil }

func (r Reader) decodeU32(e entry) (uint32, error) { return e.raw, nil }

func (r Reader) decodeF32(e entry) (float32, error) { return math.Float32frombits(e.raw), nil }

func (r Reader) decodeContainer(e entry) (Reader, error) { return r.doc.container(e.raw, e.typ) }

func (r Reader) decodeS64(e entry) (int64, error) {
	v, err := r.wide(e)
	return int64(v), err
}

func (r Reader) decodeU64(e entry) (uint64, error) { return r.wide(e) }

func (r Reader) decodeF64(e entry) (float64, error) {
	v, err := r.wide(e)
	return math.Float64frombits(v), err
}

// typed checks the stored type of e before decoding it.
func typed[T any](r Reader, e entry, err error, want NodeType, decode func(Reader, entry) (T, error)) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if e.typ != want {
		return zero, fmt.Errorf("%w: %s stored, %s requested", aflerr.ErrTypeMismatch, e.typ, want)
	}
	return decode(r, e)
}

// StringAt returns the i-th entry, which must be a String.
func (r Reader) StringAt(i int) (string, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeString, Reader.decodeString)
}

// BoolAt returns the i-th entry, which must be a Bool.
func (r Reader) BoolAt(i int) (bool, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeBool, Reader.decodeBool)
}

// S32At returns the i-th entry, which must be an S32.
func (r Reader) S32At(i int) (int32, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeS32, Reader.decodeS32)
}

// U32At returns the i-th entry, which must be a U32.
func (r Reader) U32At(i int) (uint32, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeU32, Reader.decodeU32)
}

// F32At returns the i-th entry, which must be an F32.
func (r Reader) F32At(i int) (float32, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeF32, Reader.decodeF32)
}

// S64At returns the i-th entry, which must be an S64.
func (r Reader) S64At(i int) (int64, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeS64, Reader.decodeS64)
}

// U64At returns the i-th entry, which must be a U64.
func (r Reader) U64At(i int) (uint64, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeU64, Reader.decodeU64)
}

// F64At returns the i-th entry, which must be an F64.
func (r Reader) F64At(i int) (float64, error) {
	e, err := r.entryAt(i)
	return typed(r, e, err, TypeF64, Reader.decodeF64)
}

// ContainerAt returns the i-th entry, which must be an Array or a Hash.
func (r Reader) ContainerAt(i int) (Reader, error) {
	e, err := r.entryAt(i)
	if err == nil && !e.typ.IsContainer() {
		return Reader{}, fmt.Errorf("%w: %s stored, container requested", aflerr.ErrTypeMismatch, e.typ)
	}
	return typed(r, e, err, e.typ, Reader.decodeContainer)
}

// StringByKey returns the String stored under key.
func (r Reader) StringByKey(key string) (string, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeString, Reader.decodeString)
}

// BoolByKey returns the Bool stored under key.
func (r Reader) BoolByKey(key string) (bool, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeBool, Reader.decodeBool)
}

// S32ByKey returns the S32 stored under key.
func (r Reader) S32ByKey(key string) (int32, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeS32, Reader.decodeS32)
}

// U32ByKey returns the U32 stored under key.
func (r Reader) U32ByKey(key string) (uint32, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeU32, Reader.decodeU32)
}

// F32ByKey returns the F32 stored under key.
func (r Reader) F32ByKey(key string) (float32, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeF32, Reader.decodeF32)
}

// S64ByKey returns the S64 stored under key.
func (r Reader) S64ByKey(key string) (int64, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeS64, Reader.decodeS64)
}

// U64ByKey returns the U64 stored under key.
func (r Reader) U64ByKey(key string) (uint64, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeU64, Reader.decodeU64)
}

// F64ByKey returns the F64 stored under key.
func (r Reader) F64ByKey(key string) (float64, error) {
	e, err := r.entryByKey(key)
	return typed(r, e, err, TypeF64, Reader.decodeF64)
}

// ContainerByKey returns the entry under key, which must be an Array or a
// Hash.
func (r Reader) ContainerByKey(key string) (Reader, error) {
	e, err := r.entryByKey(key)
	if err == nil && !e.typ.IsContainer() {
		return Reader{}, fmt.Errorf("%w: %q holds %s, container requested", aflerr.ErrTypeMismatch, key, e.typ)
	}
	return typed(r, e, err, e.typ, Reader.decodeContainer)
}

// The Try variants report absence and type mismatches as ok == false.

// TryStringByKey is StringByKey with ok == false in place of an error.
func (r Reader) TryStringByKey(key string) (string, bool) {
	v, err := r.StringByKey(key)
	return v, err == nil
}

// TryBoolByKey is BoolByKey with ok == false in place of an error.
func (r Reader) TryBoolByKey(key string) (bool, bool) {
	v, err := r.BoolByKey(key)
	return v, err == nil
}

// TryS32ByKey is S32ByKey with ok == false in place of an error.
func (r Reader) TryS32ByKey(key string) (int32, bool) {
	v, err := r.S32ByKey(key)
	return v, err == nil
}

// TryU32ByKey is U32ByKey with ok == false in place of an error.
func (r Reader) TryU32ByKey(key string) (uint32, bool) {
	v, err := r.U32ByKey(key)
	return v, err == nil
}

// TryF32ByKey is F32ByKey with ok == false in place of an error.
func (r Reader) TryF32ByKey(key string) (float32, bool) {
	v, err := r.F32ByKey(key)
	return v, err == nil
}

// TryS64ByKey is S64ByKey with ok == false in place of an error.
func (r Reader) TryS64ByKey(key string) (int64, bool) {
	v, err := r.S64ByKey(key)
	return v, err == nil
}

// TryU64ByKey is U64ByKey with ok == false in place of an error.
func (r Reader) TryU64ByKey(key string) (uint64, bool) {
	v, err := r.U64ByKey(key)
	return v, err == nil
}

// TryF64ByKey is F64ByKey with ok == false in place of an error.
func (r Reader) TryF64ByKey(key string) (float64, bool) {
	v, err := r.F64ByKey(key)
	return v, err == nil
}

// TryContainerByKey is ContainerByKey with ok == false in place of an error.
func (r Reader) TryContainerByKey(key string) (Reader, bool) {
	v, err := r.ContainerByKey(key)
	return v, err == nil
}

// ValueAt returns the i-th entry as a Value. Containers are materialized.
func (r Reader) ValueAt(i int) (Value, error) {
	e, err := r.entryAt(i)
	if err != nil {
		return nil, err
	}
	return r.value(e, 0)
}

// ValueByKey returns the entry under key as a Value. Containers are
// materialized.
func (r Reader) ValueByKey(key string) (Value, error) {
	e, err := r.entryByKey(key)
	if err != nil {
		return nil, err
	}
	return r.value(e, 0)
}

// ScalarByKey is ValueByKey for scalars only: containers are reported as
// Null instead of being materialized.
func (r Reader) ScalarByKey(key string) (Value, error) {
	e, err := r.entryByKey(key)
	if err != nil {
		return nil, err
	}
	if e.typ.IsContainer() {
		return Null{}, nil
	}
	return r.value(e, 0)
}

// Decode materializes the whole container.
func (r Reader) Decode() (Value, error) {
	return r.decode(0)
}

func (r Reader) decode(depth int) (Value, error) {
	if depth > maxDecodeDepth {
		return nil, aflerr.Formatf("containers nested deeper than %d", maxDecodeDepth)
	}
	switch r.typ {
	case TypeNull:
		return Null{}, nil
	case TypeArray:
		out := make(Array, r.count)
		for i := range out {
			e, err := r.entryAt(i)
			if err != nil {
				return nil, err
			}
			v, err := r.value(e, depth)
			if err != nil {
				return nil, fmt.Errorf("array index %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		out := make(Hash, r.count)
		for i := 0; i < r.count; i++ {
			key, err := r.KeyAt(i)
			if err != nil {
				return nil, err
			}
			e, err := r.entryAt(i)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			v, err := r.value(e, depth)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = v
		}
		return out, nil
	}
}

func (r Reader) value(e entry, depth int) (Value, error) {
	switch e.typ {
	case TypeString:
		s, err := r.decodeString(e)
		return String(s), err
	case TypeBool:
		return Bool(e.raw != 0), nil
	case TypeS32:
		return S32(int32(e.raw)), nil
	case TypeU32:
		return U32(e.raw), nil
	case TypeF32:
		return F32(math.Float32frombits(e.raw)), nil
	case TypeS64:
		v, err := r.decodeS64(e)
		return S64(v), err
	case TypeU64:
		v, err := r.decodeU64(e)
		return U64(v), err
	case TypeF64:
		v, err := r.decodeF64(e)
		return F64(v), err
	case TypeNull:
		return Null{}, nil
	case TypeArray, TypeHash:
		child, err := r.decodeContainer(e)
		if err != nil {
			return nil, err
		}
		return child.decode(depth + 1)
	default:
		return nil, aflerr.Formatf("unknown node type %s", e.typ)
	}
}

// HasStringValue reports whether needle is one of the document's string
// values. It scans the string table only and never walks the tree.
func (r Reader) HasStringValue(needle string) bool {
	return r.HasStringValueFunc(func(s string) bool { return s == needle })
}

// HasStringValueFunc reports whether any string value satisfies match.
func (r Reader) HasStringValueFunc(match func(string) bool) bool {
	if r.doc == nil {
		return false
	}
	for i := 0; i < r.doc.strings.count; i++ {
		b, err := r.doc.strings.get(i)
		if err == nil && match(string(b)) {
			return true
		}
	}
	return false
}
