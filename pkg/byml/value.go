package byml

import "fmt"

// NodeType is the one-byte tag stored for every BYML node.
type NodeType uint8

const (
	TypeString      NodeType = 0xA0
	TypeArray       NodeType = 0xC0
	TypeHash        NodeType = 0xC1
	TypeStringTable NodeType = 0xC2
	TypeBool        NodeType = 0xD0
	TypeS32         NodeType = 0xD1
	TypeF32         NodeType = 0xD2
	TypeU32         NodeType = 0xD3
	TypeS64         NodeType = 0xD4
	TypeU64         NodeType = 0xD5
	TypeF64         NodeType = 0xD6
	TypeNull        NodeType = 0xFF
)

func (t NodeType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeArray:
		return "Array"
	case TypeHash:
		return "Hash"
	case TypeStringTable:
		return "StringTable"
	case TypeBool:
		return "Bool"
	case TypeS32:
		return "S32"
	case TypeF32:
		return "F32"
	case TypeU32:
		return "U32"
	case TypeS64:
		return "S64"
	case TypeU64:
		return "U64"
	case TypeF64:
		return "F64"
	case TypeNull:
		return "Null"
	default:
		return fmt.Sprintf("NodeType(%#02x)", uint8(t))
	}
}

// IsContainer reports whether t is an Array or a Hash.
func (t NodeType) IsContainer() bool {
	return t == TypeArray || t == TypeHash
}

// isWide reports whether values of t are stored out of line.
func (t NodeType) isWide() bool {
	return t == TypeS64 || t == TypeU64 || t == TypeF64
}

func (t NodeType) valid() bool {
	switch t {
	case TypeString, TypeArray, TypeHash, TypeBool, TypeS32, TypeF32,
		TypeU32, TypeS64, TypeU64, TypeF64, TypeNull:
		return true
	}
	return false
}

// Value is a decoded BYML value. The concrete types below form a closed
// set; switch on them with a type switch.
type Value interface {
	Type() NodeType
	isValue()
}

type (
	String string
	Bool   bool
	S32    int32
	U32    uint32
	F32    float32
	S64    int64
	U64    uint64
	F64    float64
	Null   struct{}

	// Array holds its elements in stored order.
	Array []Value
	// Hash maps keys to values. Iteration order is not meaningful; the
	// stored order is always sorted by key.
	Hash map[string]Value
)

func (String) Type() NodeType { return TypeString }
func (Bool) Type() NodeType   { return TypeBool }
func (S32) Type() NodeType    { return TypeS32 }
func (U32) Type() NodeType    { return TypeU32 }
func (F32) Type() NodeType    { return TypeF32 }
func (S64) Type() NodeType    { return TypeS64 }
func (U64) Type() NodeType    { return TypeU64 }
func (F64) Type() NodeType    { return TypeF64 }
func (Null) Type() NodeType   { return TypeNull }
func (Array) Type() NodeType  { return TypeArray }
func (Hash) Type() NodeType   { return TypeHash }

func (String) isValue() {}
func (Bool) isValue()   {}
func (S32) isValue()    {}
func (U32) isValue()    {}
func (F32) isValue()    {}
func (S64) isValue()    {}
func (U64) isValue()    {}
func (F64) isValue()    {}
func (Null) isValue()   {}
func (Array) isValue()  {}
func (Hash) isValue()   {}

// FormatScalar renders a scalar the way the search report prints query
// values: strings quoted, containers and null as "null".
func FormatScalar(v Value) string {
	switch v := v.(type) {
	case String:
		return `"` + string(v) + `"`
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case S32:
		return fmt.Sprint(int32(v))
	case U32:
		return fmt.Sprint(uint32(v))
	case F32:
		return fmt.Sprint(float32(v))
	case S64:
		return fmt.Sprint(int64(v))
	case U64:
		return fmt.Sprint(uint64(v))
	case F64:
		return fmt.Sprint(float64(v))
	default:
		return "null"
	}
}
