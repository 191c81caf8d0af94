package geotiff

import (
	"bytes"
	"encoding/binary"
	"io"

	tifflzw "github.com/hhrutter/lzw"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff/lzw"
)

// decompress inflates one strip or tile. At most want bytes are produced.
func decompress(c Compression, raw []byte, want int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return readUpTo(rc, want)
	case CompressionDeflate, CompressionAdobeDeflate:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "deflate header")
		}
		defer rc.Close()
		return readUpTo(rc, want)
	case CompressionPackBits:
		return unpackBits(raw, want)
	}
	return nil, unsupportedError("compression scheme %d", uint16(c))
}

func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// compress deflates one strip or tile of rowBytes-wide rows.
func compress(c Compression, data []byte, rowBytes int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZW:
		return encodeLZW(data)
	case CompressionDeflate, CompressionAdobeDeflate:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionPackBits:
		out := make([]byte, 0, len(data)+len(data)/128+1)
		for start := 0; start < len(data); start += rowBytes {
			out = packBits(out, data[start:start+rowBytes])
		}
		return out, nil
	}
	return nil, unsupportedError("compression scheme %d", uint16(c))
}

// encodeLZW compresses with MSB-first codes and TIFF's early code width
// change, the variant golang.org/x/image/tiff/lzw reads back.
func encodeLZW(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := tifflzw.NewWriter(&buf, true)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Wrap(err, "lzw encode")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "lzw encode")
	}
	return buf.Bytes(), nil
}

func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	for len(src) > 0 && len(dst) < want {
		n := int8(src[0])
		src = src[1:]
		switch {
		case n >= 0:
			count := int(n) + 1
			if len(src) < count {
				return nil, formatError("truncated packbits literal")
			}
			dst = append(dst, src[:count]...)
			src = src[count:]
		case n != -128:
			if len(src) < 1 {
				return nil, formatError("truncated packbits run")
			}
			for i := 0; i < 1-int(n); i++ {
				dst = append(dst, src[0])
			}
			src = src[1:]
		}
	}
	return dst, nil
}

// packBits appends the PackBits encoding of a single row to dst. Runs never
// cross row boundaries.
func packBits(dst, row []byte) []byte {
	i := 0
	for i < len(row) {
		j := i + 1
		for j < len(row) && row[j] == row[i] && j-i < 128 {
			j++
		}
		if j-i >= 3 {
			dst = append(dst, byte(int8(1-(j-i))), row[i])
			i = j
			continue
		}

		start := i
		for i < len(row) && i-start < 128 {
			if i+2 < len(row) && row[i] == row[i+1] && row[i] == row[i+2] {
				break
			}
			i++
		}
		dst = append(dst, byte(i-start-1))
		dst = append(dst, row[start:i]...)
	}
	return dst
}

func undoPredictor(buf []byte, p Predictor, bo binary.ByteOrder, bps, samples, rowBytes int) error {
	switch p {
	case PredictorNone:
		return nil
	case PredictorHorizontal:
		for start := 0; start+rowBytes <= len(buf); start += rowBytes {
			undoHorizontal(buf[start:start+rowBytes], bo, bps, samples)
		}
		return nil
	case PredictorFloatingPoint:
		tmp := make([]byte, rowBytes)
		for start := 0; start+rowBytes <= len(buf); start += rowBytes {
			undoFloatingPoint(buf[start:start+rowBytes], tmp, bo, bps, samples)
		}
		return nil
	}
	return unsupportedError("predictor %d", uint16(p))
}

func undoHorizontal(row []byte, bo binary.ByteOrder, bps, samples int) {
	switch bps {
	case 1:
		for i := samples; i < len(row); i++ {
			row[i] += row[i-samples]
		}
	case 2:
		for i := samples * 2; i < len(row); i += 2 {
			bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-samples*2:]))
		}
	case 4:
		for i := samples * 4; i < len(row); i += 4 {
			bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-samples*4:]))
		}
	case 8:
		for i := samples * 8; i < len(row); i += 8 {
			bo.PutUint64(row[i:], bo.Uint64(row[i:])+bo.Uint64(row[i-samples*8:]))
		}
	}
}

// undoFloatingPoint reverses predictor 3: byte differencing followed by
// splitting each sample into most-significant-first byte planes.
func undoFloatingPoint(row, tmp []byte, bo binary.ByteOrder, bps, samples int) {
	for i := samples; i < len(row); i++ {
		row[i] += row[i-samples]
	}
	copy(tmp, row)
	words := len(row) / bps
	for w := 0; w < words; w++ {
		for b := 0; b < bps; b++ {
			row[w*bps+planeIndex(bo, b, bps)] = tmp[b*words+w]
		}
	}
}

// applyFloatingPoint is the inverse of undoFloatingPoint.
func applyFloatingPoint(row, tmp []byte, bo binary.ByteOrder, bps, samples int) {
	words := len(row) / bps
	for w := 0; w < words; w++ {
		for b := 0; b < bps; b++ {
			tmp[b*words+w] = row[w*bps+planeIndex(bo, b, bps)]
		}
	}
	for i := len(tmp) - 1; i >= samples; i-- {
		tmp[i] -= tmp[i-samples]
	}
	copy(row, tmp)
}

// planeIndex maps byte plane b (0 = most significant) to its offset within
// a sample stored in byte order bo.
func planeIndex(bo binary.ByteOrder, b, bps int) int {
	if bo == binary.ByteOrder(binary.BigEndian) {
		return b
	}
	return bps - 1 - b
}
