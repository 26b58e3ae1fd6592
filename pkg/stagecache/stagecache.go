// Package stagecache keeps decompressed stage archives on disk so repeated
// searches skip Yaz0 decompression. Entries are addressed by a keyed
// BLAKE3 digest of the compressed file, so an edited stage never hits a
// stale entry.
package stagecache

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/user/aflgo/pkg/aflerr"
)

// Entry layout: magic, codec tag, little-endian uncompressed size, payload.
const entryHeaderSize = 9

var entryMagic = [4]byte{'A', 'F', 'L', 'C'}

// keyDomain separates cache keys from any other BLAKE3 use of the same
// bytes. NewKeyed needs exactly 32 bytes.
var keyDomain = [32]byte{
	'a', 'f', 'l', 'g', 'o', '.', 's', 't', 'a', 'g', 'e', 'c', 'a', 'c', 'h', 'e',
}

// Cache is a directory of entries.
type Cache struct {
	Dir    string
	Codec  Codec
	Logger *slog.Logger
}

// Open creates dir if needed and returns a cache writing new entries with
// codec.
func Open(dir string, codec Codec) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, aflerr.IO("create cache directory", dir, err)
	}
	return &Cache{Dir: dir, Codec: codec, Logger: slog.Default()}, nil
}

// Key returns the hex digest that names the entry for raw.
func Key(raw []byte) string {
	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		panic("stagecache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(raw)
	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.Dir, key[:2], key+".aflc")
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Get returns the cached bytes for raw. A missing entry is (nil, false,
// nil); a damaged one is an ErrFormat.
func (c *Cache) Get(raw []byte) ([]byte, bool, error) {
	path := c.path(Key(raw))
	entry, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, aflerr.IO("read", path, err)
	}
	data, err := decodeEntry(entry)
	if err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", path, err)
	}
	return data, true, nil
}

// Put stores data as the entry for raw. The entry is written to a temporary
// file and renamed into place.
func (c *Cache) Put(raw, data []byte) error {
	entry, err := encodeEntry(data, c.Codec)
	if err != nil {
		return err
	}
	path := c.path(Key(raw))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return aflerr.IO("create directory", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return aflerr.IO("create", filepath.Dir(path), err)
	}
	if _, err := tmp.Write(entry); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return aflerr.IO("write", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return aflerr.IO("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return aflerr.IO("rename", path, err)
	}
	return nil
}

// Load returns the cached bytes for raw, or computes them with decode and
// stores the result. Damaged entries and failed stores are logged and
// otherwise ignored; only decode errors are returned.
func (c *Cache) Load(raw []byte, decode func([]byte) ([]byte, error)) ([]byte, error) {
	data, ok, err := c.Get(raw)
	if err != nil {
		c.logger().Warn("ignoring unreadable cache entry", "error", err)
	}
	if ok {
		return data, nil
	}

	data, err = decode(raw)
	if err != nil {
		return nil, err
	}
	if err := c.Put(raw, data); err != nil {
		c.logger().Warn("failed to store cache entry", "error", err)
	}
	return data, nil
}

func encodeEntry(data []byte, codec Codec) ([]byte, error) {
	payload, used, err := compress(data, codec)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(entryHeaderSize + len(payload))
	buf.Write(entryMagic[:])
	buf.WriteByte(byte(used))
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeEntry(entry []byte) ([]byte, error) {
	if len(entry) < entryHeaderSize {
		return nil, aflerr.Formatf("entry truncated (%d bytes)", len(entry))
	}
	if !bytes.Equal(entry[:4], entryMagic[:]) {
		return nil, aflerr.Formatf("bad entry magic %q", entry[:4])
	}
	codec := Codec(entry[4])
	size := binary.LittleEndian.Uint32(entry[5:9])
	if size > maxEntrySize {
		return nil, aflerr.Formatf("entry claims %d bytes, limit is %d", size, maxEntrySize)
	}
	return decompress(entry[entryHeaderSize:], codec, int(size))
}
