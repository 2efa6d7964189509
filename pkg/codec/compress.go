package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressed payloads carry a one-byte tag naming their encoding.
const (
	tagRaw  byte = 0x00
	tagZstd byte = 0x01
)

// ErrUnknownCompression is returned for payloads with an unrecognized tag
var ErrUnknownCompression = errors.New("unknown compression tag")

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress tags data and compresses it with zstd when that makes it
// smaller. Output is deterministic for a given input.
func Compress(data []byte) []byte {
	compressed := zstdEncoder.EncodeAll(data, []byte{tagZstd})
	if len(compressed) < len(data)+1 {
		return compressed
	}
	return append([]byte{tagRaw}, data...)
}

// Decompress reverses Compress
func Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownCompression)
	}
	switch payload[0] {
	case tagRaw:
		return payload[1:], nil
	case tagZstd:
		data, err := zstdDecoder.DecodeAll(payload[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCompression, payload[0])
	}
}
