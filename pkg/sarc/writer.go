package sarc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/user/aflgo/pkg/aflerr"
)

// Writer collects named files and serializes them as a SARC archive.
type Writer struct {
	ByteOrder binary.ByteOrder
	Alignment int // data block alignment, at least 4
	HashKey   uint32

	files map[string][]byte
}

// NewWriter returns an empty writer using the given byte order.
func NewWriter(order binary.ByteOrder) *Writer {
	return &Writer{
		ByteOrder: order,
		Alignment: DefaultAlignment,
		HashKey:   DefaultHashKey,
		files:     make(map[string][]byte),
	}
}

// WriterFromDir adds every regular file below dir, named by its slash
// separated path relative to dir.
func WriterFromDir(dir string, order binary.ByteOrder) (*Writer, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", aflerr.ErrDirNotFound, dir)
	}

	w := NewWriter(order)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return aflerr.IO("walk", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to compute archive name for %s: %w", path, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return aflerr.IO("read", path, err)
		}
		w.AddFile(filepath.ToSlash(rel), data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// AddFile adds or replaces the entry called name.
func (w *Writer) AddFile(name string, data []byte) {
	w.files[name] = data
}

// Len returns the number of entries added so far.
func (w *Writer) Len() int { return len(w.files) }

type pendingEntry struct {
	name string
	hash uint32
	data []byte
}

func alignUp(n, alignment int) int {
	return (n + alignment - 1) / alignment * alignment
}

// Bytes serializes the archive. Entries are ordered by (hash, name) so that
// the reader's binary search and collision scan find them.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.files) > 0xFFFF {
		return nil, fmt.Errorf("%w: sarc cannot hold %d files", aflerr.ErrInvalidArgument, len(w.files))
	}
	alignment := w.Alignment
	if alignment < 4 {
		alignment = 4
	}

	entries := make([]pendingEntry, 0, len(w.files))
	for name, data := range w.files {
		entries = append(entries, pendingEntry{name: name, hash: NameHash(name, w.HashKey), data: data})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		return entries[i].name < entries[j].name
	})

	var names bytes.Buffer
	nodes := make([]Node, len(entries))
	dataSize := 0
	for i, e := range entries {
		nameOffset := names.Len()
		if nameOffset/4 > 0xFFFF {
			return nil, fmt.Errorf("%w: sarc name table too large", aflerr.ErrInvalidArgument)
		}
		names.WriteString(e.name)
		names.WriteByte(0)
		for names.Len()%4 != 0 {
			names.WriteByte(0)
		}

		dataSize = alignUp(dataSize, alignment)
		nodes[i] = Node{
			NameHash:   e.hash,
			Attributes: hasNameFlag | uint32(nameOffset/4),
			DataBegin:  uint32(dataSize),
			DataEnd:    uint32(dataSize + len(e.data)),
		}
		dataSize += len(e.data)
	}

	tablesEnd := HeaderSize + FATHeaderSize + len(nodes)*NodeSize + FNTHeaderSize + names.Len()
	dataOffset := alignUp(tablesEnd, alignment)
	fileSize := dataOffset + dataSize

	header := Header{
		Magic:      sarcMagic,
		HeaderSize: HeaderSize,
		BOM:        0xFEFF,
		FileSize:   uint32(fileSize),
		DataOffset: uint32(dataOffset),
		Version:    Version,
	}
	fat := FATHeader{
		Magic:      sfatMagic,
		HeaderSize: FATHeaderSize,
		NodeCount:  uint16(len(nodes)),
		HashKey:    w.HashKey,
	}
	fnt := FNTHeader{Magic: sfntMagic, HeaderSize: FNTHeaderSize}

	var tables bytes.Buffer
	for _, v := range []any{&header, &fat, nodes, &fnt} {
		if err := binary.Write(&tables, w.ByteOrder, v); err != nil {
			return nil, fmt.Errorf("failed to serialize sarc tables: %w", err)
		}
	}
	tables.Write(names.Bytes())

	buf := make([]byte, fileSize)
	copy(buf, tables.Bytes())
	for i, e := range entries {
		copy(buf[dataOffset+int(nodes[i].DataBegin):], e.data)
	}
	return buf, nil
}

// Save writes the archive to path.
func (w *Writer) Save(path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return aflerr.IO("write", path, err)
	}
	return nil
}
