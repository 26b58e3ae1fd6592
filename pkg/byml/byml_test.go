package byml

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/user/aflgo/pkg/aflerr"
)

func sampleDocument() Hash {
	return Hash{
		"UnitConfigName": String("Kuribo"),
		"Id":             String("obj42"),
		"IsLinkDest":     Bool(true),
		"Priority":       S32(-3),
		"Flags":          U32(0xDEADBEEF),
		"Scale":          F32(1.5),
		"Big":            S64(math.MinInt64),
		"Huge":           U64(math.MaxUint64),
		"Precise":        F64(math.Pi),
		"Nothing":        Null{},
		"Translate":      Hash{"X": F32(1), "Y": F32(-2.25), "Z": F32(1000)},
		"Links": Hash{
			"Rail": Array{
				Hash{"UnitConfigName": String("RailPoint"), "Id": String("r0")},
				Hash{"UnitConfigName": String("RailPoint"), "Id": String("r1")},
			},
		},
		"Mixed": Array{String("a"), S32(1), Null{}, Array{}, Hash{}, F64(-0.5), String("a")},
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		t.Run(order.String(), func(t *testing.T) {
			want := sampleDocument()
			data, err := Marshal(want, order)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			r, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if r.ByteOrder() != order {
				t.Errorf("expected byte order %v, got %v", order, r.ByteOrder())
			}
			if r.Version() != DefaultVersion {
				t.Errorf("expected version %d, got %d", DefaultVersion, r.Version())
			}
			got, err := r.Decode()
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, Value(want)) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, want)
			}
		})
	}
}

func TestReader_TypedAccess(t *testing.T) {
	data, err := Marshal(sampleDocument(), binary.LittleEndian)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if r.Type() != TypeHash {
		t.Fatalf("expected root Hash, got %s", r.Type())
	}
	if name, err := r.StringByKey("UnitConfigName"); err != nil || name != "Kuribo" {
		t.Errorf("StringByKey = %q, %v", name, err)
	}
	if v, err := r.U32ByKey("Flags"); err != nil || v != 0xDEADBEEF {
		t.Errorf("U32ByKey = %#x, %v", v, err)
	}
	if v, err := r.S64ByKey("Big"); err != nil || v != math.MinInt64 {
		t.Errorf("S64ByKey = %d, %v", v, err)
	}
	if v, err := r.F64ByKey("Precise"); err != nil || v != math.Pi {
		t.Errorf("F64ByKey = %v, %v", v, err)
	}

	translate, err := r.ContainerByKey("Translate")
	if err != nil {
		t.Fatalf("ContainerByKey failed: %v", err)
	}
	if y, ok := translate.TryF32ByKey("Y"); !ok || y != -2.25 {
		t.Errorf("TryF32ByKey(Y) = %v, %v", y, ok)
	}
	if _, ok := translate.TryF32ByKey("W"); ok {
		t.Error("TryF32ByKey found an absent key")
	}

	links, _ := r.ContainerByKey("Links")
	rail, err := links.ContainerByKey("Rail")
	if err != nil {
		t.Fatalf("ContainerByKey(Rail) failed: %v", err)
	}
	if rail.Type() != TypeArray || rail.Len() != 2 {
		t.Fatalf("expected Array of 2, got %s of %d", rail.Type(), rail.Len())
	}
	second, err := rail.ContainerAt(1)
	if err != nil {
		t.Fatalf("ContainerAt failed: %v", err)
	}
	if id, _ := second.StringByKey("Id"); id != "r1" {
		t.Errorf("expected r1, got %q", id)
	}

	// Hash entries are stored sorted by key.
	var keys []string
	for i := 0; i < r.Len(); i++ {
		k, err := r.KeyAt(i)
		if err != nil {
			t.Fatalf("KeyAt(%d) failed: %v", i, err)
		}
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("keys out of order: %q before %q", keys[i-1], keys[i])
		}
	}
}

func TestReader_Errors(t *testing.T) {
	data, _ := Marshal(sampleDocument(), binary.BigEndian)
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := r.StringByKey("Missing"); !errors.Is(err, aflerr.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	// A key present in the key table but not in this hash.
	translate, _ := r.ContainerByKey("Translate")
	if _, err := translate.StringByKey("Id"); !errors.Is(err, aflerr.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for key absent from hash, got %v", err)
	}
	if _, err := r.S32ByKey("UnitConfigName"); !errors.Is(err, aflerr.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := r.ContainerByKey("Priority"); !errors.Is(err, aflerr.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch for scalar as container, got %v", err)
	}
	mixed, _ := r.ContainerByKey("Mixed")
	if _, err := mixed.StringByKey("x"); !errors.Is(err, aflerr.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch for key lookup in array, got %v", err)
	}
	if _, err := mixed.StringAt(99); !errors.Is(err, aflerr.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for index out of range, got %v", err)
	}
	if typ, err := mixed.TypeAt(2); err != nil || typ != TypeNull {
		t.Errorf("TypeAt(2) = %s, %v", typ, err)
	}
}

func TestReader_TryByKey(t *testing.T) {
	data, err := Marshal(sampleDocument(), binary.BigEndian)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if v, ok := r.TryU32ByKey("Flags"); !ok || v != 0xDEADBEEF {
		t.Errorf("TryU32ByKey = %#x, %v", v, ok)
	}
	if v, ok := r.TryS64ByKey("Big"); !ok || v != math.MinInt64 {
		t.Errorf("TryS64ByKey = %d, %v", v, ok)
	}
	if v, ok := r.TryU64ByKey("Huge"); !ok || v != math.MaxUint64 {
		t.Errorf("TryU64ByKey = %d, %v", v, ok)
	}
	if v, ok := r.TryF64ByKey("Precise"); !ok || v != math.Pi {
		t.Errorf("TryF64ByKey = %v, %v", v, ok)
	}

	absent := map[string]func(string) bool{
		"U32": func(k string) bool { _, ok := r.TryU32ByKey(k); return ok },
		"S64": func(k string) bool { _, ok := r.TryS64ByKey(k); return ok },
		"U64": func(k string) bool { _, ok := r.TryU64ByKey(k); return ok },
		"F64": func(k string) bool { _, ok := r.TryF64ByKey(k); return ok },
	}
	for name, try := range absent {
		if try("Missing") {
			t.Errorf("Try%sByKey found an absent key", name)
		}
		// Priority is an S32, which none of these accept.
		if try("Priority") {
			t.Errorf("Try%sByKey accepted an S32", name)
		}
	}
}

func TestReader_UnknownNodeType(t *testing.T) {
	data, err := Marshal(Hash{"a": S32(1)}, binary.BigEndian)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	root := binary.BigEndian.Uint32(data[12:16])
	data[root+4+3] = 0xFF

	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := r.TypeAt(0); !errors.Is(err, aflerr.ErrFormat) {
		t.Errorf("TypeAt: expected ErrFormat, got %v", err)
	}
	if _, err := r.S32ByKey("a"); !errors.Is(err, aflerr.ErrFormat) {
		t.Errorf("S32ByKey: expected ErrFormat, got %v", err)
	}
	if _, err := r.Decode(); !errors.Is(err, aflerr.ErrFormat) {
		t.Errorf("Decode: expected ErrFormat, got %v", err)
	}
}

func TestHasStringValue(t *testing.T) {
	data, _ := Marshal(sampleDocument(), binary.LittleEndian)
	r, _ := Parse(data)

	if !r.HasStringValue("RailPoint") {
		t.Error("expected RailPoint among string values")
	}
	// Keys live in the key table, not the string table.
	if r.HasStringValue("UnitConfigName") {
		t.Error("key name reported as a string value")
	}
	if !r.HasStringValueFunc(func(s string) bool { return strings.EqualFold(s, "KURIBO") }) {
		t.Error("HasStringValueFunc missed a case-folded match")
	}
}

func TestParse_Malformed(t *testing.T) {
	valid, _ := Marshal(Hash{"a": Array{String("x")}}, binary.BigEndian)

	badVersion := append([]byte(nil), valid...)
	badVersion[3] = 99
	badRoot := append([]byte(nil), valid...)
	badRoot[12], badRoot[13], badRoot[14], badRoot[15] = 0, 0, 0xFF, 0xF0

	tests := map[string][]byte{
		"short":       valid[:1],
		"bad magic":   append([]byte("XX"), valid[2:]...),
		"bad version": badVersion,
		"bad root":    badRoot,
		"truncated":   valid[:headerSize+2],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(data); !errors.Is(err, aflerr.ErrFormat) {
				t.Errorf("expected ErrFormat, got %v", err)
			}
		})
	}

	if _, err := ParseOrder(valid, binary.LittleEndian); !errors.Is(err, aflerr.ErrFormat) {
		t.Errorf("expected ErrFormat for wrong byte order, got %v", err)
	}
}

func TestWriter_Errors(t *testing.T) {
	tests := map[string]func(w *Writer){
		"pop empty":       func(w *Writer) { w.Pop() },
		"scalar root":     func(w *Writer) { w.AddS32("", 1) },
		"two roots":       func(w *Writer) { w.PushHash(""); w.Pop(); w.PushArray("") },
		"array with key":  func(w *Writer) { w.PushArray(""); w.AddS32("k", 1) },
		"duplicate key":   func(w *Writer) { w.PushHash(""); w.AddS32("k", 1); w.AddBool("k", true) },
		"duplicate empty": func(w *Writer) { w.PushHash(""); w.AddS32("", 1); w.AddNull("") },
		"unclosed":        func(w *Writer) { w.PushHash(""); w.PushArray("list") },
		"no root":         func(w *Writer) {},
	}
	for name, build := range tests {
		t.Run(name, func(t *testing.T) {
			w := NewWriter()
			build(w)
			if _, err := w.Bytes(binary.BigEndian); !errors.Is(err, aflerr.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestWriter_Builder(t *testing.T) {
	w := NewWriter()
	w.PushHash("")
	w.AddString("Name", "Stage")
	w.PushArray("Objs")
	w.PushHash("")
	w.AddF32("X", 2)
	w.Pop()
	w.Pop()
	w.Pop()
	data, err := w.Bytes(binary.LittleEndian)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	got, err := decodeBytes(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := Hash{"Name": String("Stage"), "Objs": Array{Hash{"X": F32(2)}}}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestWriter_EmptyKey(t *testing.T) {
	want := Hash{"": S32(1), "Objs": Array{Hash{"": String("x"), "Id": String("a")}}}
	data, err := Marshal(want, binary.BigEndian)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, err := r.S32ByKey(""); err != nil || v != 1 {
		t.Errorf("S32ByKey(\"\") = %d, %v", v, err)
	}
	if k, err := r.KeyAt(0); err != nil || k != "" {
		t.Errorf("KeyAt(0) = %q, %v", k, err)
	}
	got, err := r.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("got %#v, want %#v", got, want)
	}

	w := NewWriter()
	w.PushHash("")
	w.PushArray("")
	w.AddBool("", true)
	w.Pop()
	w.Pop()
	data, err = w.Bytes(binary.LittleEndian)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if got, err := decodeBytes(data); err != nil || !reflect.DeepEqual(got, Value(Hash{"": Array{Bool(true)}})) {
		t.Errorf("builder round trip = %#v, %v", got, err)
	}
}

func decodeBytes(data []byte) (Value, error) {
	r, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return r.Decode()
}

func TestYAML_RoundTrip(t *testing.T) {
	want := sampleDocument()
	// NaN never compares equal; keep the special floats to the infinities.
	want["Inf"] = F32(float32(math.Inf(1)))
	want["NegInf"] = F64(math.Inf(-1))
	want["Numeric"] = String("123")

	text, err := ToYAML(want)
	if err != nil {
		t.Fatalf("ToYAML failed: %v", err)
	}
	got, err := FromYAML(text)
	if err != nil {
		t.Fatalf("FromYAML failed: %v\n%s", err, text)
	}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("yaml round trip mismatch:\n%s", text)
	}
}

func TestYAML_NonUTF8Strings(t *testing.T) {
	want := Hash{
		"Name":    String("s\xe9"),
		"Key\xff": Array{String("\xe9"), String("plain")},
	}
	data, err := Marshal(want, binary.BigEndian)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	root, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := root.Decode()
	if err != nil {
		t.Fatal(err)
	}

	text, err := ToYAML(decoded)
	if err != nil {
		t.Fatalf("ToYAML failed: %v", err)
	}
	if !strings.Contains(string(text), "!!binary") || !strings.Contains(string(text), "plain") {
		t.Errorf("expected binary-tagged strings beside plain ones:\n%s", text)
	}
	got, err := FromYAML(text)
	if err != nil {
		t.Fatalf("FromYAML failed: %v\n%s", err, text)
	}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestFromYAML_Tags(t *testing.T) {
	got, err := FromYAML([]byte("a: 1\nb: !u 2\nc: !l 3\nd: !ul 4\ne: 1.0\nf: !f64 2.5\ng: 3000000000\nh: ~\n"))
	if err != nil {
		t.Fatalf("FromYAML failed: %v", err)
	}
	want := Hash{
		"a": S32(1), "b": U32(2), "c": S64(3), "d": U64(4),
		"e": F32(1), "f": F64(2.5), "g": S64(3000000000), "h": Null{},
	}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("got %#v, want %#v", got, want)
	}

	if _, err := FromYAML([]byte("a: !bogus 1\n")); !errors.Is(err, aflerr.ErrFormat) {
		t.Errorf("expected ErrFormat for unknown tag, got %v", err)
	}
}

func TestFromJSON(t *testing.T) {
	got, err := FromJSON([]byte(`{
		// stage object
		"Name": "Kuribo",
		"Count": 3,
		"Wide": 5000000000,
		"Ratio": 0.5,
		"On": true,
		"Off": null,
		"List": [1, "two",],
	}`))
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	want := Hash{
		"Name": String("Kuribo"), "Count": S32(3), "Wide": S64(5000000000),
		"Ratio": F32(0.5), "On": Bool(true), "Off": Null{},
		"List": Array{S32(1), String("two")},
	}
	if !reflect.DeepEqual(got, Value(want)) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestFormatScalar(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{String("Kuribo"), `"Kuribo"`},
		{Bool(false), "false"},
		{S32(-7), "-7"},
		{F32(1.5), "1.5"},
		{Null{}, "null"},
		{Array{}, "null"},
	}
	for _, tc := range tests {
		if got := FormatScalar(tc.v); got != tc.want {
			t.Errorf("FormatScalar(%#v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
