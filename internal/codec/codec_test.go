package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMagic = Magic{'T', 'E', 'S', 'T', 0, 0}

type doc struct {
	Name  string    `json:"name"`
	Items []float32 `json:"items"`
}

func acceptV1(v byte) bool { return v == 1 }

func TestRoundTrip(t *testing.T) {
	in := doc{Name: "camels", Items: []float32{0.5, 1, -2}}

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		data, err := Encode(testMagic, 1, c, in)
		require.NoError(t, err)

		magic, ok := Peek(data)
		require.True(t, ok)
		assert.Equal(t, testMagic, magic)

		var out doc
		version, err := Decode(data, testMagic, acceptV1, &out)
		require.NoError(t, err, "compression %d", c)
		assert.Equal(t, byte(1), version)
		assert.Equal(t, in, out)
	}
}

func TestDecodeRejects(t *testing.T) {
	good, err := Encode(testMagic, 1, CompressionZstd, doc{Name: "x"})
	require.NoError(t, err)

	wrongVersion, err := Encode(testMagic, 9, CompressionZstd, doc{Name: "x"})
	require.NoError(t, err)

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF
	corrupt[headerSize] ^= 0xFF

	unknownCompression := append([]byte(nil), good...)
	unknownCompression[len(testMagic)+1] = 77

	tests := map[string][]byte{
		"empty":               nil,
		"short":               []byte("TES"),
		"wrong magic":         append([]byte("OTHER!"), good[len(testMagic):]...),
		"unsupported version": wrongVersion,
		"corrupt payload":     corrupt,
		"unknown compression": unknownCompression,
		"not json":            append(append([]byte(nil), good[:headerSize-1]...), byte(CompressionNone), 'x'),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var out doc
			_, err := Decode(data, testMagic, acceptV1, &out)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"":     CompressionZstd,
		"zstd": CompressionZstd,
		"LZ4":  CompressionLZ4,
		"none": CompressionNone,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
	assert.Equal(t, "lz4", CompressionLZ4.String())
}

func TestDecodeEnforcesSizeLimit(t *testing.T) {
	in := doc{Name: strings.Repeat("camel ", 200)}

	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			data, err := Encode(testMagic, 1, c, in)
			require.NoError(t, err)

			var out doc
			_, err = Decode(data, testMagic, acceptV1, &out)
			require.NoError(t, err)

			prev := maxDecodedSize
			maxDecodedSize = 256
			t.Cleanup(func() { maxDecodedSize = prev })

			_, err = Decode(data, testMagic, acceptV1, &out)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
