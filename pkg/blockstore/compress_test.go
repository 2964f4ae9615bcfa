package blockstore

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("fsal "), 4096)
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	tests := []struct {
		name    string
		tag     byte
		data    []byte
		wantTag byte
	}{
		{"none", tagNone, compressible, tagNone},
		{"lz4", tagLZ4, compressible, tagLZ4},
		{"zstd", tagZstd, compressible, tagZstd},
		{"lz4 incompressible", tagLZ4, random, tagNone},
		{"zstd incompressible", tagZstd, random, tagNone},
		{"empty", tagZstd, []byte{}, tagNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeFrame(tt.tag, tt.data)
			assert.Equal(t, tt.wantTag, frame[0])
			if tt.wantTag != tagNone {
				assert.Less(t, len(frame), len(tt.data))
			}

			got, err := decodeFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1024)

	_, err := decodeFrame([]byte{tagNone})
	assert.Error(t, err, "truncated")

	_, err = decodeFrame([]byte{9, 0})
	assert.Error(t, err, "unknown tag")

	raw := encodeFrame(tagNone, data)
	_, err = decodeFrame(raw[:len(raw)-1])
	assert.Error(t, err, "short raw payload")

	lz := encodeFrame(tagLZ4, data)
	lz[len(lz)-1] ^= 0xff
	lz = lz[:len(lz)-2]
	_, err = decodeFrame(lz)
	assert.Error(t, err, "damaged lz4 payload")
}

func TestNewCompressedUnknownAlgorithm(t *testing.T) {
	_, err := NewCompressed(nil, "brotli")
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id := Sum([]byte("block"))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.False(t, parsed.IsZero())
	assert.True(t, ID{}.IsZero())

	_, err = ParseID("zz")
	assert.Error(t, err)
	_, err = ParseID("abcd")
	assert.Error(t, err)
}
