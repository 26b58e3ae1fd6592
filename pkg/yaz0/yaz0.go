// Package yaz0 implements the Yaz0 compression envelope: a 16-byte header
// followed by a byte-oriented LZ77 stream.
package yaz0

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/user/aflgo/pkg/aflerr"
)

// Magic is the 4-byte tag at the start of every Yaz0 stream.
var Magic = [4]byte{'Y', 'a', 'z', '0'}

// HeaderSize is the size of the fixed Yaz0 header.
const HeaderSize = 16

// DefaultAlignment is the alignment hint written by the front ends when the
// caller does not provide one.
const DefaultAlignment = 0x80

const (
	windowSize = 0x1000
	minMatch   = 3
	maxMatch   = 0xFF + 0x12
)

// Header is the fixed Yaz0 header. All fields are big-endian.
type Header struct {
	Magic            [4]byte
	UncompressedSize uint32
	Alignment        uint32 // hint for the archive packer, not used by the codec
	Reserved         uint32
}

// ReadHeader parses the header at the start of src.
func ReadHeader(src []byte) (Header, error) {
	var h Header
	if len(src) < HeaderSize {
		return h, aflerr.Formatf("yaz0 header truncated (%d bytes)", len(src))
	}
	if err := binary.Read(bytes.NewReader(src[:HeaderSize]), binary.BigEndian, &h); err != nil {
		return h, fmt.Errorf("failed to parse yaz0 header: %w", err)
	}
	if h.Magic != Magic {
		return h, aflerr.Formatf("bad yaz0 magic %q", h.Magic[:])
	}
	return h, nil
}

// IsCompressed reports whether src starts with the Yaz0 magic.
func IsCompressed(src []byte) bool {
	return len(src) >= 4 && bytes.Equal(src[:4], Magic[:])
}

// maxExpansion bounds the output of a body of n bytes. The densest group is
// one control byte followed by eight 3-byte references of 0x111 bytes each.
func maxExpansion(n int) int {
	groups := (n + 24) / 25
	return groups * 8 * maxMatch
}

// Decompress expands a Yaz0 stream.
func Decompress(src []byte) ([]byte, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	size := int(h.UncompressedSize)
	if limit := maxExpansion(len(src) - HeaderSize); size > limit {
		return nil, aflerr.Formatf("yaz0 header claims %d bytes, a %d byte body expands to at most %d", size, len(src)-HeaderSize, limit)
	}
	dst := make([]byte, 0, size)
	pos := HeaderSize

	for len(dst) < size {
		if pos >= len(src) {
			return nil, aflerr.Formatf("yaz0 stream truncated at control byte (output %d/%d)", len(dst), size)
		}
		control := src[pos]
		pos++

		for bit := 7; bit >= 0 && len(dst) < size; bit-- {
			if control&(1<<bit) != 0 {
				if pos >= len(src) {
					return nil, aflerr.Formatf("yaz0 stream truncated in literal (output %d/%d)", len(dst), size)
				}
				dst = append(dst, src[pos])
				pos++
				continue
			}

			if pos+2 > len(src) {
				return nil, aflerr.Formatf("yaz0 stream truncated in back-reference (output %d/%d)", len(dst), size)
			}
			b1, b2 := src[pos], src[pos+1]
			pos += 2

			distance := (int(b1&0x0F)<<8 | int(b2)) + 1
			length := int(b1 >> 4)
			if length == 0 {
				if pos >= len(src) {
					return nil, aflerr.Formatf("yaz0 stream truncated in extended length (output %d/%d)", len(dst), size)
				}
				length = int(src[pos]) + 0x12
				pos++
			} else {
				length += 2
			}

			if distance > len(dst) {
				return nil, aflerr.Formatf("yaz0 back-reference distance %d exceeds output %d", distance, len(dst))
			}
			// Overlapping runs must replicate one byte at a time.
			from := len(dst) - distance
			for i := 0; i < length && len(dst) < size; i++ {
				dst = append(dst, dst[from+i])
			}
		}
	}

	return dst, nil
}

// Compress encodes src as a Yaz0 stream. alignment is stored in the header
// for the benefit of archive packers.
func Compress(src []byte, alignment uint32) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(src)+len(src)/8+16)
	copy(out, Magic[:])
	binary.BigEndian.PutUint32(out[4:], uint32(len(src)))
	binary.BigEndian.PutUint32(out[8:], alignment)

	m := newMatcher(src)
	pos := 0
	for pos < len(src) {
		controlPos := len(out)
		out = append(out, 0)
		var control byte

		for bit := 7; bit >= 0 && pos < len(src); bit-- {
			matchPos, length := m.find(pos)
			if length < minMatch {
				control |= 1 << bit
				out = append(out, src[pos])
				m.insert(pos)
				pos++
				continue
			}

			distance := pos - matchPos - 1
			if length >= 0x12 {
				out = append(out, byte(distance>>8), byte(distance), byte(length-0x12))
			} else {
				out = append(out, byte((length-2)<<4|distance>>8), byte(distance))
			}
			for i := 0; i < length; i++ {
				m.insert(pos + i)
			}
			pos += length
		}
		out[controlPos] = control
	}

	return out
}

const (
	hashBits = 15
	hashSize = 1 << hashBits
	maxChain = 256
	noMatch  = -1
)

// matcher is a hash-chain index over 3-byte prefixes inside the window.
type matcher struct {
	src  []byte
	head []int32
	prev []int32
}

func newMatcher(src []byte) *matcher {
	m := &matcher{
		src:  src,
		head: make([]int32, hashSize),
		prev: make([]int32, len(src)),
	}
	for i := range m.head {
		m.head[i] = noMatch
	}
	return m
}

func (m *matcher) hash(pos int) int {
	v := uint32(m.src[pos])<<16 | uint32(m.src[pos+1])<<8 | uint32(m.src[pos+2])
	return int((v * 2654435761) >> (32 - hashBits))
}

func (m *matcher) insert(pos int) {
	if pos+minMatch > len(m.src) {
		return
	}
	h := m.hash(pos)
	m.prev[pos] = m.head[h]
	m.head[h] = int32(pos)
}

// find returns the longest earlier match for the bytes at pos.
func (m *matcher) find(pos int) (int, int) {
	if pos+minMatch > len(m.src) {
		return 0, 0
	}
	limit := len(m.src) - pos
	if limit > maxMatch {
		limit = maxMatch
	}

	bestPos, bestLen := 0, 0
	candidate := m.head[m.hash(pos)]
	for chain := 0; candidate != noMatch && chain < maxChain; chain++ {
		c := int(candidate)
		if pos-c > windowSize {
			break
		}
		n := 0
		for n < limit && m.src[c+n] == m.src[pos+n] {
			n++
		}
		if n > bestLen {
			bestPos, bestLen = c, n
			if n == limit {
				break
			}
		}
		candidate = m.prev[c]
	}
	return bestPos, bestLen
}
