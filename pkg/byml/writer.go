package byml

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/user/aflgo/pkg/aflerr"
)

// DefaultVersion is the format version written when Writer.Version is zero.
const DefaultVersion = 2

type node struct {
	typ      NodeType
	value    Value // scalars only
	children []child
	keys     map[string]bool
}

type child struct {
	key  string
	node *node
}

// Writer builds a document with a stack of open containers. The first
// container pushed becomes the root. Errors are sticky: once a call fails
// every later call is ignored and Bytes reports the first error.
type Writer struct {
	Version uint16

	root  *node
	stack []*node
	err   error
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{Version: DefaultVersion}
}

// Err returns the first error recorded by the writer.
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf("%w: %s", aflerr.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}
}

// attach adds n to the innermost open container under key. key is ignored
// for the root and must be empty inside arrays. Inside a hash any key,
// including the empty string, is accepted once.
func (w *Writer) attach(key string, n *node) bool {
	if w.err != nil {
		return false
	}
	if len(w.stack) == 0 {
		if w.root != nil {
			w.fail("document already has a root")
			return false
		}
		if !n.typ.IsContainer() {
			w.fail("root must be an Array or a Hash, not %s", n.typ)
			return false
		}
		w.root = n
		return true
	}

	parent := w.stack[len(w.stack)-1]
	switch parent.typ {
	case TypeHash:
		if parent.keys[key] {
			w.fail("duplicate hash key %q", key)
			return false
		}
		parent.keys[key] = true
	case TypeArray:
		if key != "" {
			w.fail("array element given key %q", key)
			return false
		}
	}
	if len(parent.children) >= 1<<24 {
		w.fail("%s exceeds %d entries", parent.typ, 1<<24-1)
		return false
	}
	parent.children = append(parent.children, child{key: key, node: n})
	return true
}

func (w *Writer) push(key string, typ NodeType) {
	n := &node{typ: typ}
	if typ == TypeHash {
		n.keys = make(map[string]bool)
	}
	if w.attach(key, n) {
		w.stack = append(w.stack, n)
	}
}

// PushHash opens a Hash. key names it inside an enclosing Hash and must be
// empty otherwise.
func (w *Writer) PushHash(key string) { w.push(key, TypeHash) }

// PushArray opens an Array. key names it inside an enclosing Hash and must
// be empty otherwise.
func (w *Writer) PushArray(key string) { w.push(key, TypeArray) }

// Pop closes the innermost open container.
func (w *Writer) Pop() {
	if w.err != nil {
		return
	}
	if len(w.stack) == 0 {
		w.fail("pop with no open container")
		return
	}
	w.stack = w.stack[:len(w.stack)-1]
}

func (w *Writer) addScalar(key string, v Value) {
	w.attach(key, &node{typ: v.Type(), value: v})
}

// AddString appends a String to the innermost open container. key names it
// inside a Hash and must be empty inside an Array.
func (w *Writer) AddString(key, v string) { w.addScalar(key, String(v)) }

// AddBool appends a Bool; key follows the AddString rules.
func (w *Writer) AddBool(key string, v bool) { w.addScalar(key, Bool(v)) }

// AddS32 appends an S32; key follows the AddString rules.
func (w *Writer) AddS32(key string, v int32) { w.addScalar(key, S32(v)) }

// AddU32 appends a U32; key follows the AddString rules.
func (w *Writer) AddU32(key string, v uint32) { w.addScalar(key, U32(v)) }

// AddF32 appends an F32; key follows the AddString rules.
func (w *Writer) AddF32(key string, v float32) { w.addScalar(key, F32(v)) }

// AddS64 appends an S64; key follows the AddString rules.
func (w *Writer) AddS64(key string, v int64) { w.addScalar(key, S64(v)) }

// AddU64 appends a U64; key follows the AddString rules.
func (w *Writer) AddU64(key string, v uint64) { w.addScalar(key, U64(v)) }

// AddF64 appends an F64; key follows the AddString rules.
func (w *Writer) AddF64(key string, v float64) { w.addScalar(key, F64(v)) }

// AddNull appends a Null; key follows the AddString rules.
func (w *Writer) AddNull(key string) { w.addScalar(key, Null{}) }

// AddValue adds v under key, recursing into containers. Hash members are
// added in sorted key order.
func (w *Writer) AddValue(key string, v Value) {
	switch v := v.(type) {
	case nil:
		w.fail("nil value for key %q", key)
	case Array:
		w.PushArray(key)
		for _, elem := range v {
			w.AddValue("", elem)
		}
		w.Pop()
	case Hash:
		w.PushHash(key)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.AddValue(k, v[k])
		}
		w.Pop()
	default:
		w.addScalar(key, v)
	}
}

// encoder holds the output buffer and the sorted string tables.
type encoder struct {
	order    binary.ByteOrder
	buf      []byte
	keyIndex map[string]int
	strIndex map[string]int
}

func (e *encoder) putU32(at int, v uint32) {
	e.order.PutUint32(e.buf[at:at+4], v)
}

// putU24 stores a 24-bit value in document byte order.
func (e *encoder) putU24(at int, v uint32) {
	b := e.buf[at : at+3]
	if e.order == binary.BigEndian {
		b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
	} else {
		b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
	}
}

func (e *encoder) grow(n int) int {
	at := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return at
}

func (e *encoder) pad4() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

func collectStrings(n *node, keys, values map[string]bool) {
	if n.typ == TypeString {
		values[string(n.value.(String))] = true
	}
	for _, c := range n.children {
		if n.typ == TypeHash {
			keys[c.key] = true
		}
		collectStrings(c.node, keys, values)
	}
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// writeStringTable appends a StringTable node and returns its offset, or 0
// when strs is empty.
func (e *encoder) writeStringTable(strs []string) (int, map[string]int) {
	index := make(map[string]int, len(strs))
	if len(strs) == 0 {
		return 0, index
	}
	e.pad4()
	start := e.grow(4 + 4*(len(strs)+1))
	e.buf[start] = byte(TypeStringTable)
	e.putU24(start+1, uint32(len(strs)))
	for i, s := range strs {
		index[s] = i
		e.putU32(start+4+4*i, uint32(len(e.buf)-start))
		e.buf = append(e.buf, s...)
		e.buf = append(e.buf, 0)
	}
	e.putU32(start+4+4*len(strs), uint32(len(e.buf)-start))
	return start, index
}

// writeContainer appends n and everything below it, returning n's offset.
// The entries come first, then out-of-line 64-bit values, then child
// containers in entry order.
func (e *encoder) writeContainer(n *node) int {
	e.pad4()
	children := n.children
	if n.typ == TypeHash {
		children = append([]child(nil), children...)
		sort.Slice(children, func(i, j int) bool { return children[i].key < children[j].key })
	}

	count := len(children)
	start := e.grow(4)
	e.buf[start] = byte(n.typ)
	e.putU24(start+1, uint32(count))

	slots := make([]int, count)
	if n.typ == TypeArray {
		types := e.grow(alignUp(count, 4))
		values := e.grow(4 * count)
		for i, c := range children {
			e.buf[types+i] = byte(c.node.typ)
			slots[i] = values + 4*i
		}
	} else {
		entries := e.grow(8 * count)
		for i, c := range children {
			at := entries + 8*i
			e.putU24(at, uint32(e.keyIndex[c.key]))
			e.buf[at+3] = byte(c.node.typ)
			slots[i] = at + 4
		}
	}

	for i, c := range children {
		if c.node.typ.IsContainer() {
			continue
		}
		e.putU32(slots[i], e.inlineValue(c.node.value))
	}
	for i, c := range children {
		if !c.node.typ.isWide() {
			continue
		}
		at := e.grow(8)
		e.order.PutUint64(e.buf[at:at+8], wideBits(c.node.value))
		e.putU32(slots[i], uint32(at))
	}
	for i, c := range children {
		if c.node.typ.IsContainer() {
			e.putU32(slots[i], uint32(e.writeContainer(c.node)))
		}
	}
	return start
}

func (e *encoder) inlineValue(v Value) uint32 {
	switch v := v.(type) {
	case String:
		return uint32(e.strIndex[string(v)])
	case Bool:
		if v {
			return 1
		}
		return 0
	case S32:
		return uint32(v)
	case U32:
		return uint32(v)
	case F32:
		return math.Float32bits(float32(v))
	}
	// Null and wide values (patched later).
	return 0
}

func wideBits(v Value) uint64 {
	switch v := v.(type) {
	case S64:
		return uint64(v)
	case U64:
		return uint64(v)
	case F64:
		return math.Float64bits(float64(v))
	}
	return 0
}

// Bytes serializes the document in the given byte order.
func (w *Writer) Bytes(order binary.ByteOrder) ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.root == nil {
		return nil, fmt.Errorf("%w: byml document has no root", aflerr.ErrInvalidArgument)
	}
	if len(w.stack) != 0 {
		return nil, fmt.Errorf("%w: %d containers still open", aflerr.ErrInvalidArgument, len(w.stack))
	}
	version := w.Version
	if version == 0 {
		version = DefaultVersion
	}
	if version < minVersion || version > maxVersion {
		return nil, fmt.Errorf("%w: unsupported byml version %d", aflerr.ErrInvalidArgument, version)
	}

	keySet, valueSet := make(map[string]bool), make(map[string]bool)
	collectStrings(w.root, keySet, valueSet)

	e := &encoder{order: order, buf: make([]byte, headerSize, 1024)}
	e.buf[0], e.buf[1] = 'B', 'Y'
	if order == binary.LittleEndian {
		e.buf[0], e.buf[1] = 'Y', 'B'
	}
	order.PutUint16(e.buf[2:4], version)

	var keyTable, strTable int
	keyTable, e.keyIndex = e.writeStringTable(sortedSet(keySet))
	strTable, e.strIndex = e.writeStringTable(sortedSet(valueSet))
	root := e.writeContainer(w.root)

	e.putU32(4, uint32(keyTable))
	e.putU32(8, uint32(strTable))
	e.putU32(12, uint32(root))
	e.pad4()
	return e.buf, nil
}

// Save writes the document to path.
func (w *Writer) Save(path string, order binary.ByteOrder) error {
	data, err := w.Bytes(order)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return aflerr.IO("write", path, err)
	}
	return nil
}

// Marshal encodes v, which must be an Array or a Hash, as a document.
func Marshal(v Value, order binary.ByteOrder) ([]byte, error) {
	w := NewWriter()
	w.AddValue("", v)
	return w.Bytes(order)
}
