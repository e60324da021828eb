package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
)

// Payload codecs stored in packets.codec.
const (
	CodecRaw = "raw"
	CodecLZ4 = "lz4"
)

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sqlite: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sqlite: zstd decoder initialization failed: " + err.Error())
	}
}

func int8ToBytes(s []int8) []byte {
	out := make([]byte, len(s))
	for i, v := range s {
		out[i] = byte(v)
	}
	return out
}

// encodePayload block-compresses raw samples with LZ4, storing them raw when
// they do not shrink (receiver noise usually does not).
func encodePayload(samples []int8) (string, []byte, error) {
	data := int8ToBytes(samples)
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return "", nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return CodecRaw, data, nil
	}
	return CodecLZ4, dst[:n], nil
}

func decodePayload(codec string, data []byte, samples int) ([]int8, error) {
	dst := data
	switch codec {
	case CodecRaw:
		if len(data) != samples {
			return nil, fmt.Errorf("raw payload: %d bytes, want %d", len(data), samples)
		}
	case CodecLZ4:
		dst = make([]byte, samples)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != samples {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, samples)
		}
	default:
		return nil, fmt.Errorf("unknown payload codec %q", codec)
	}
	out := make([]int8, samples)
	for i, b := range dst {
		out[i] = int8(b)
	}
	return out, nil
}

// encodeProducts serialises a triangle as little-endian float64 (re, im)
// pairs in product-major order and compresses it with zstd.
func encodeProducts(t l3correlate.Triangle) []byte {
	buf := make([]byte, 0, t.Products()*t.Bins()*16)
	for _, row := range t {
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(real(v)))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(imag(v)))
		}
	}
	return zstdEncoder.EncodeAll(buf, nil)
}

func decodeProducts(blob []byte, products, bins int) (l3correlate.Triangle, error) {
	size := products * bins * 16
	raw, err := zstdDecoder.DecodeAll(blob, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(raw), size)
	}
	t := l3correlate.NewTriangleShape(products, bins)
	off := 0
	for _, row := range t {
		for b := range row {
			re := math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
			im := math.Float64frombits(binary.LittleEndian.Uint64(raw[off+8:]))
			row[b] = complex(re, im)
			off += 16
		}
	}
	return t, nil
}
