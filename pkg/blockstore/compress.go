package blockstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression tags stored in the first byte of every wrapped block.
const (
	tagNone byte = 0
	tagLZ4  byte = 1
	tagZstd byte = 2
)

var errIncompressible = errors.New("incompressible block")

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blockstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blockstore: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressed wraps a store so block bytes are compressed at rest.
//
// Ids are always computed over the uncompressed bytes, so a volume can
// switch algorithms without rewriting its metadata. Blocks that do not
// shrink are stored raw.
type Compressed struct {
	Store
	tag byte
}

// NewCompressed wraps inner with the named algorithm: "lz4", "zstd", or
// "" / "none" to store raw (still framed).
func NewCompressed(inner Store, algorithm string) (*Compressed, error) {
	var tag byte
	switch algorithm {
	case "", "none":
		tag = tagNone
	case "lz4":
		tag = tagLZ4
	case "zstd":
		tag = tagZstd
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
	return &Compressed{Store: inner, tag: tag}, nil
}

// Unwrap returns the wrapped store.
func (c *Compressed) Unwrap() Store { return c.Store }

func (c *Compressed) Put(ctx context.Context, id ID, data []byte) error {
	return c.Store.Put(ctx, id, encodeFrame(c.tag, data))
}

func (c *Compressed) Get(ctx context.Context, id ID) ([]byte, error) {
	frame, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := decodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", id, err)
	}
	return data, nil
}

// Frame layout: [tag:1][uncompressed size:uvarint][payload].
func encodeFrame(tag byte, data []byte) []byte {
	payload, err := compress(tag, data)
	if err != nil {
		tag, payload = tagNone, data
	}

	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	frame[0] = tag
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...)
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("truncated block frame (%d bytes)", len(frame))
	}
	tag := frame[0]
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, fmt.Errorf("corrupt block frame header")
	}
	payload := frame[1+n:]

	switch tag {
	case tagNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("raw block: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil

	case tagLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil

	case tagZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

func compress(tag byte, data []byte) ([]byte, error) {
	switch tag {
	case tagLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil

	case tagZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil

	default:
		return data, nil
	}
}
