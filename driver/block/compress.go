package block

import (
	"fmt"
	"sync"

	"github.com/hupe1980/casefs/driver"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a record value is stored.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func parseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("%w: compression=%q", driver.ErrInvalidConfig, s)
	}
}

// Values whose compressed form is not at least this much smaller are stored raw.
const minCompressionRatio = 0.9

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compress returns the stored form of value and the codec that produced it.
func compress(c Codec, value []byte) ([]byte, Codec, error) {
	if c == CodecNone || len(value) == 0 {
		return value, CodecNone, nil
	}

	var out []byte
	switch c {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(value)))
		n, err := lz4.CompressBlock(value, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		// n == 0 means incompressible.
		out = buf[:n]
	case CodecZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(value, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("unsupported codec %v", c)
	}

	if len(out) == 0 || float64(len(out)) > float64(len(value))*minCompressionRatio {
		return value, CodecNone, nil
	}
	return out, c, nil
}

// decompress restores a value of rawLen bytes.
func decompress(c Codec, stored []byte, rawLen uint32) ([]byte, error) {
	switch c {
	case CodecNone:
		return stored, nil
	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", driver.ErrCorrupt, err)
		}
		if n != int(rawLen) {
			return nil, fmt.Errorf("%w: lz4 size %d, want %d", driver.ErrCorrupt, n, rawLen)
		}
		return out, nil
	case CodecZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", driver.ErrCorrupt, err)
		}
		if len(out) != int(rawLen) {
			return nil, fmt.Errorf("%w: zstd size %d, want %d", driver.ErrCorrupt, len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", driver.ErrCorrupt, c)
	}
}
