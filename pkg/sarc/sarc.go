// Package sarc reads and writes SARC archives: flat containers of named
// files indexed by a sorted table of name hashes.
package sarc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/user/aflgo/pkg/aflerr"
)

// Archive is an opened SARC archive. File data is sliced from the buffer
// passed to Open without copying.
type Archive struct {
	Header    Header
	FAT       FATHeader
	Nodes     []Node
	ByteOrder binary.ByteOrder

	data      []byte
	nameTable []byte
}

// byteOrderOf reads the BOM at offset 6 of a SARC header.
func byteOrderOf(data []byte) (binary.ByteOrder, error) {
	switch {
	case data[6] == 0xFE && data[7] == 0xFF:
		return binary.BigEndian, nil
	case data[6] == 0xFF && data[7] == 0xFE:
		return binary.LittleEndian, nil
	default:
		return nil, aflerr.Formatf("invalid sarc byte order mark %02X%02X", data[6], data[7])
	}
}

// Open parses the headers and tables of a SARC archive held in data.
func Open(data []byte) (*Archive, error) {
	if len(data) < HeaderSize {
		return nil, aflerr.Formatf("sarc header truncated (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], sarcMagic[:]) {
		return nil, aflerr.Formatf("bad sarc magic %q", data[:4])
	}
	order, err := byteOrderOf(data)
	if err != nil {
		return nil, err
	}

	a := &Archive{ByteOrder: order, data: data}
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, order, &a.Header); err != nil {
		return nil, fmt.Errorf("failed to parse sarc header: %w", err)
	}
	if a.Header.HeaderSize < HeaderSize {
		return nil, aflerr.Formatf("sarc header size %#x too small", a.Header.HeaderSize)
	}
	if int(a.Header.DataOffset) > len(data) {
		return nil, aflerr.Formatf("sarc data offset %#x beyond end of file (%#x)", a.Header.DataOffset, len(data))
	}

	fatOffset := int(a.Header.HeaderSize)
	if fatOffset+FATHeaderSize > len(data) {
		return nil, aflerr.Formatf("sfat header truncated")
	}
	reader.Reset(data[fatOffset:])
	if err := binary.Read(reader, order, &a.FAT); err != nil {
		return nil, fmt.Errorf("failed to parse sfat header: %w", err)
	}
	if a.FAT.Magic != sfatMagic {
		return nil, aflerr.Formatf("bad sfat magic %q", a.FAT.Magic[:])
	}

	nodesOffset := fatOffset + int(a.FAT.HeaderSize)
	nodesEnd := nodesOffset + int(a.FAT.NodeCount)*NodeSize
	if nodesEnd+FNTHeaderSize > len(data) {
		return nil, aflerr.Formatf("sfat node table truncated (%d nodes)", a.FAT.NodeCount)
	}
	a.Nodes = make([]Node, a.FAT.NodeCount)
	reader.Reset(data[nodesOffset:nodesEnd])
	if err := binary.Read(reader, order, a.Nodes); err != nil {
		return nil, fmt.Errorf("failed to read sfat nodes: %w", err)
	}

	var fnt FNTHeader
	reader.Reset(data[nodesEnd:])
	if err := binary.Read(reader, order, &fnt); err != nil {
		return nil, fmt.Errorf("failed to parse sfnt header: %w", err)
	}
	if fnt.Magic != sfntMagic {
		return nil, aflerr.Formatf("bad sfnt magic %q", fnt.Magic[:])
	}
	namesOffset := nodesEnd + int(fnt.HeaderSize)
	if namesOffset > int(a.Header.DataOffset) {
		return nil, aflerr.Formatf("sfnt name table overlaps data region")
	}
	a.nameTable = data[namesOffset:a.Header.DataOffset]

	dataSize := uint32(len(data)) - a.Header.DataOffset
	for i, n := range a.Nodes {
		if n.DataBegin > n.DataEnd || n.DataEnd > dataSize {
			return nil, aflerr.Formatf("node %d data range [%#x, %#x) outside data region (%#x bytes)", i, n.DataBegin, n.DataEnd, dataSize)
		}
		if n.hasName() && n.nameOffset() >= len(a.nameTable) {
			return nil, aflerr.Formatf("node %d name offset %#x outside name table", i, n.nameOffset())
		}
	}

	return a, nil
}

// OpenFile reads and opens the archive at path.
func OpenFile(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aflerr.IO("read", path, err)
	}
	return Open(data)
}

// nodeName returns the NUL-terminated name of n.
func (a *Archive) nodeName(n Node) string {
	if !n.hasName() {
		return ""
	}
	name := a.nameTable[n.nameOffset():]
	if end := bytes.IndexByte(name, 0); end >= 0 {
		name = name[:end]
	}
	return string(name)
}

// nodeIndex finds the node for name, or -1.
func (a *Archive) nodeIndex(name string) int {
	hash := NameHash(name, a.FAT.HashKey)
	i := sort.Search(len(a.Nodes), func(i int) bool { return a.Nodes[i].NameHash >= hash })
	for ; i < len(a.Nodes) && a.Nodes[i].NameHash == hash; i++ {
		if a.nodeName(a.Nodes[i]) == name {
			return i
		}
	}
	return -1
}

// Contains reports whether the archive has an entry called name.
func (a *Archive) Contains(name string) bool {
	return a.nodeIndex(name) >= 0
}

// FileData returns the bytes of the entry called name. The slice aliases
// the archive buffer.
func (a *Archive) FileData(name string) ([]byte, error) {
	i := a.nodeIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", aflerr.ErrNotFound, name)
	}
	n := a.Nodes[i]
	start := a.Header.DataOffset + n.DataBegin
	end := a.Header.DataOffset + n.DataEnd
	return a.data[start:end:end], nil
}

// Names returns every entry name in table order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.Nodes))
	for _, n := range a.Nodes {
		names = append(names, a.nodeName(n))
	}
	return names
}

// ExtractAll writes every entry below dir, recreating the directory
// structure encoded in the entry names.
func (a *Archive) ExtractAll(dir string) error {
	for _, n := range a.Nodes {
		name := a.nodeName(n)
		if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
			return aflerr.Formatf("refusing to extract entry with unsafe name %q", name)
		}
		outPath := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return aflerr.IO("create directory", filepath.Dir(outPath), err)
		}
		start := a.Header.DataOffset + n.DataBegin
		end := a.Header.DataOffset + n.DataEnd
		if err := os.WriteFile(outPath, a.data[start:end], 0644); err != nil {
			return aflerr.IO("write", outPath, err)
		}
	}
	return nil
}
