package stagecache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/user/aflgo/pkg/aflerr"
)

// Codec identifies how a cache entry's payload is compressed. The value is
// stored in every entry header.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name as written in the config file. The empty
// string selects lz4.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: unknown cache codec %q", aflerr.ErrInvalidArgument, name)
	}
}

// maxEntrySize caps the decoded size of one cache entry.
const maxEntrySize = 1 << 30

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("stagecache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxEntrySize))
	if err != nil {
		panic("stagecache: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the payload and the codec actually used. Data the codec
// cannot shrink is stored as CodecNone.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	var out []byte
	var err error
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecLZ4:
		out, err = compressLZ4(data)
	case CodecZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("%w: unsupported cache codec %s", aflerr.ErrInvalidArgument, codec)
	}
	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, codec, nil
}

// lz4MaxRatio bounds how far one lz4 block byte can expand.
const lz4MaxRatio = 255

func decompress(payload []byte, codec Codec, size int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(payload) != size {
			return nil, aflerr.Formatf("stored entry has %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CodecLZ4:
		return decompressLZ4(payload, size)
	case CodecZstd:
		return decompressZstd(payload, size)
	default:
		return nil, aflerr.Formatf("unknown cache codec %s", codec)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	if size > len(compressed)*lz4MaxRatio {
		return nil, aflerr.Formatf("lz4 entry claims %d bytes from a %d byte block", size, len(compressed))
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, aflerr.Formatf("lz4 decompress: %v", err)
	}
	if read != size {
		return nil, aflerr.Formatf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	// The frame header carries its own size, so the entry header is only
	// compared afterwards.
	result, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, aflerr.Formatf("zstd decompress: %v", err)
	}
	if len(result) != size {
		return nil, aflerr.Formatf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
