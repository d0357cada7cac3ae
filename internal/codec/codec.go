// Package codec frames JSON documents as self-describing compressed blobs:
//
//	[magic 6 bytes][format version 1 byte][compression 1 byte][payload]
//
// Containers and profile snapshots share this framing.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrMalformed is returned for any blob that cannot be decoded.
var ErrMalformed = errors.New("malformed encoded data")

// Magic identifies the kind of document in a blob.
type Magic [6]byte

// Compression selects the payload compression.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// ParseCompression maps a configuration name to a Compression. The empty
// string selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q (supported: zstd, lz4, none)", name)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("compression(%d)", byte(c))
}

const headerSize = len(Magic{}) + 2

// MaxDecodedSize bounds the decompressed payload of a single blob.
const MaxDecodedSize = 256 << 20

// maxDecodedSize is the limit Decode enforces; tests lower it.
var maxDecodedSize int64 = MaxDecodedSize

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
}

// Encode marshals v to JSON and frames it.
func Encode(magic Magic, version byte, c Compression, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	payload, err := compress(c, raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, magic[:]...)
	out = append(out, version, byte(c))
	return append(out, payload...), nil
}

// Decode checks the frame header against magic and the accepted versions,
// then unmarshals the payload into v. It returns the version found.
func Decode(data []byte, magic Magic, accept func(version byte) bool, v any) (byte, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return 0, fmt.Errorf("%w: unexpected magic %q", ErrMalformed, data[:len(magic)])
	}
	version := data[len(magic)]
	if accept != nil && !accept(version) {
		return version, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}
	raw, err := decompress(Compression(data[len(magic)+1]), data[headerSize:])
	if err != nil {
		return version, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return version, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return version, nil
}

// Peek returns the magic of a blob without decoding it.
func Peek(data []byte) (Magic, bool) {
	var m Magic
	if len(data) < headerSize {
		return m, false
	}
	copy(m[:], data)
	return m, true
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

func decompress(c Compression, payload []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		var h zstd.Header
		if err := h.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		if h.HasFCS && h.FrameContentSize > uint64(maxDecodedSize) {
			return nil, fmt.Errorf("%w: zstd: frame declares %d bytes, limit is %d", ErrMalformed, h.FrameContentSize, maxDecodedSize)
		}
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		if int64(len(raw)) > maxDecodedSize {
			return nil, fmt.Errorf("%w: zstd: payload exceeds %d bytes", ErrMalformed, maxDecodedSize)
		}
		return raw, nil
	case CompressionLZ4:
		r := io.LimitReader(lz4.NewReader(bytes.NewReader(payload)), maxDecodedSize+1)
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrMalformed, err)
		}
		if int64(len(raw)) > maxDecodedSize {
			return nil, fmt.Errorf("%w: lz4: payload exceeds %d bytes", ErrMalformed, maxDecodedSize)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %d", ErrMalformed, c)
}
