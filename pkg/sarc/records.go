package sarc

// Header is the SARC file header (0x14 bytes).
type Header struct {
	Magic      [4]byte // "SARC"
	HeaderSize uint16  // 0x14
	BOM        uint16  // 0xFEFF in the file's byte order
	FileSize   uint32
	DataOffset uint32 // start of the data region
	Version    uint16 // 0x0100
	Reserved   uint16
}

// FATHeader precedes the node table (0x0C bytes).
type FATHeader struct {
	Magic      [4]byte // "SFAT"
	HeaderSize uint16  // 0x0C
	NodeCount  uint16
	HashKey    uint32 // multiplier used by NameHash, always 0x65 in practice
}

// Node is one entry of the node table, sorted by NameHash.
type Node struct {
	NameHash   uint32
	Attributes uint32 // 0x01000000 | nameOffset/4, or 0 for an unnamed entry
	DataBegin  uint32 // relative to Header.DataOffset
	DataEnd    uint32
}

// FNTHeader precedes the name table (0x08 bytes).
type FNTHeader struct {
	Magic      [4]byte // "SFNT"
	HeaderSize uint16  // 0x08
	Reserved   uint16
}

const (
	HeaderSize    = 0x14
	FATHeaderSize = 0x0C
	NodeSize      = 0x10
	FNTHeaderSize = 0x08

	DefaultHashKey   = 0x65
	DefaultAlignment = 8
	Version          = 0x0100

	hasNameFlag = 0x01000000
)

var (
	sarcMagic = [4]byte{'S', 'A', 'R', 'C'}
	sfatMagic = [4]byte{'S', 'F', 'A', 'T'}
	sfntMagic = [4]byte{'S', 'F', 'N', 'T'}
)

func (n Node) hasName() bool { return n.Attributes&hasNameFlag != 0 }

func (n Node) nameOffset() int { return int(n.Attributes&0xFFFF) * 4 }

// NameHash is the SARC entry name hash. It must match the console tools bit
// for bit: each byte is sign-extended before being added.
func NameHash(name string, key uint32) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*key + uint32(int8(name[i]))
	}
	return h
}
