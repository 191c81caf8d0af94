package geotiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// EncodeOptions tunes Encode.
type EncodeOptions struct {
	// BigTIFF forces 64-bit offsets. Outputs past 4 GiB switch automatically.
	BigTIFF bool
	// BigEndian writes an "MM" file instead of the default "II".
	BigEndian bool
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// WriteFile encodes a float32 band to path.
func WriteFile(path string, p Profile, data []float32, opts EncodeOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating GeoTIFF file")
	}
	if err := Encode(f, p, data, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeBytes encodes a float32 band into an in-memory GeoTIFF.
func EncodeBytes(p Profile, data []float32, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p, data, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes data as a single float32 band using the layout, compression
// and georeferencing of p. The profile's DType and Count are ignored; the
// output is always one float32 band. A horizontal predictor is written as
// the floating point predictor.
func Encode(w io.Writer, p Profile, data []float32, opts EncodeOptions) error {
	l, err := planLayout(p, len(data))
	if err != nil {
		return err
	}
	var bo byteOrder = binary.LittleEndian
	if opts.BigEndian {
		bo = binary.BigEndian
	}

	chunks, err := l.encodeChunks(data, bo)
	if err != nil {
		return err
	}

	big := opts.BigTIFF
	f, err := buildFile(l, p, chunks, bo, big)
	if err != nil {
		return err
	}
	if !big && f.end > math.MaxUint32 {
		if f, err = buildFile(l, p, chunks, bo, true); err != nil {
			return err
		}
	}
	return f.writeTo(w, chunks)
}

type layout struct {
	width, height int
	tiled         bool
	blockW        int
	blockH        int
	compression   Compression
	predictor     Predictor
}

func planLayout(p Profile, n int) (layout, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return layout{}, errors.Errorf("geotiff: invalid raster size %dx%d", p.Width, p.Height)
	}
	if n != p.Width*p.Height {
		return layout{}, errors.Errorf("geotiff: %d samples for a %dx%d raster", n, p.Width, p.Height)
	}
	l := layout{width: p.Width, height: p.Height}

	switch p.Compression {
	case 0:
		l.compression = CompressionNone
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionAdobeDeflate, CompressionPackBits:
		l.compression = p.Compression
	default:
		return layout{}, unsupportedError("writing compression scheme %d", uint16(p.Compression))
	}

	l.predictor = PredictorNone
	if l.compression != CompressionNone && (p.Predictor == PredictorHorizontal || p.Predictor == PredictorFloatingPoint) {
		l.predictor = PredictorFloatingPoint
	}

	if p.Tiled && p.BlockXSize > 0 && p.BlockYSize > 0 && p.BlockXSize%16 == 0 && p.BlockYSize%16 == 0 {
		l.tiled = true
		l.blockW, l.blockH = p.BlockXSize, p.BlockYSize
		return l, nil
	}

	l.blockW = p.Width
	rows := p.BlockYSize
	if p.Tiled || rows <= 0 {
		rows = 8192 / (p.Width * 4)
	}
	if rows < 1 {
		rows = 1
	}
	if rows > p.Height {
		rows = p.Height
	}
	l.blockH = rows
	return l, nil
}

func (l layout) encodeChunks(data []float32, bo binary.ByteOrder) ([][]byte, error) {
	across := ceilDiv(l.width, l.blockW)
	down := ceilDiv(l.height, l.blockH)
	rowBytes := l.blockW * 4
	tmp := make([]byte, rowBytes)

	chunks := make([][]byte, 0, across*down)
	for by := 0; by < down; by++ {
		y0 := by * l.blockH
		rows := l.blockH
		if !l.tiled && l.height-y0 < rows {
			rows = l.height - y0
		}
		for bx := 0; bx < across; bx++ {
			x0 := bx * l.blockW
			buf := make([]byte, rows*rowBytes)
			for r := 0; r < rows && y0+r < l.height; r++ {
				src := data[(y0+r)*l.width : (y0+r+1)*l.width]
				dst := buf[r*rowBytes : (r+1)*rowBytes]
				for c := 0; c < l.blockW && x0+c < l.width; c++ {
					bo.PutUint32(dst[c*4:], math.Float32bits(src[x0+c]))
				}
			}
			if l.predictor == PredictorFloatingPoint {
				for r := 0; r < rows; r++ {
					applyFloatingPoint(buf[r*rowBytes:(r+1)*rowBytes], tmp, bo, 4, 1)
				}
			}
			chunk, err := compress(l.compression, buf, rowBytes)
			if err != nil {
				return nil, errors.Wrapf(err, "compressing chunk %d", len(chunks))
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	value []byte
}

type tiffFile struct {
	bo      byteOrder
	big     bool
	header  []byte
	ifd     []byte
	extra   []byte
	padding []bool
	end     uint64
}

func buildFile(l layout, p Profile, chunks [][]byte, bo byteOrder, big bool) (*tiffFile, error) {
	f := &tiffFile{bo: bo, big: big}

	headerLen := uint64(8)
	if big {
		headerLen = 16
	}
	pos := headerLen
	offsets := make([]uint64, len(chunks))
	counts := make([]uint64, len(chunks))
	f.padding = make([]bool, len(chunks))
	for i, c := range chunks {
		offsets[i] = pos
		counts[i] = uint64(len(c))
		pos += counts[i]
		if pos&1 == 1 {
			f.padding[i] = true
			pos++
		}
	}
	ifdOffset := pos

	entries := f.entries(l, p, offsets, counts)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	countSize, entrySize, nextSize, inline := uint64(2), uint64(12), uint64(4), 4
	if big {
		countSize, entrySize, nextSize, inline = 8, 20, 8, 8
	}
	ifdLen := countSize + uint64(len(entries))*entrySize + nextSize
	extraPos := ifdOffset + ifdLen

	ifd := make([]byte, 0, ifdLen)
	var extra []byte
	if big {
		ifd = bo.AppendUint64(ifd, uint64(len(entries)))
	} else {
		ifd = bo.AppendUint16(ifd, uint16(len(entries)))
	}
	for _, e := range entries {
		ifd = bo.AppendUint16(ifd, e.tag)
		ifd = bo.AppendUint16(ifd, e.typ)
		if big {
			ifd = bo.AppendUint64(ifd, e.count)
		} else {
			ifd = bo.AppendUint32(ifd, uint32(e.count))
		}
		if len(e.value) <= inline {
			field := make([]byte, inline)
			copy(field, e.value)
			ifd = append(ifd, field...)
			continue
		}
		off := extraPos + uint64(len(extra))
		if big {
			ifd = bo.AppendUint64(ifd, off)
		} else {
			ifd = bo.AppendUint32(ifd, uint32(off))
		}
		extra = append(extra, e.value...)
		if len(extra)&1 == 1 {
			extra = append(extra, 0)
		}
	}
	if big {
		ifd = bo.AppendUint64(ifd, 0)
	} else {
		ifd = bo.AppendUint32(ifd, 0)
	}

	header := make([]byte, 0, headerLen)
	if bo == byteOrder(binary.BigEndian) {
		header = append(header, 'M', 'M')
	} else {
		header = append(header, 'I', 'I')
	}
	if big {
		header = bo.AppendUint16(header, 43)
		header = bo.AppendUint16(header, 8)
		header = bo.AppendUint16(header, 0)
		header = bo.AppendUint64(header, ifdOffset)
	} else {
		header = bo.AppendUint16(header, 42)
		header = bo.AppendUint32(header, uint32(ifdOffset))
	}

	f.header, f.ifd, f.extra = header, ifd, extra
	f.end = extraPos + uint64(len(extra))
	return f, nil
}

func (f *tiffFile) writeTo(w io.Writer, chunks [][]byte) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(f.header); err != nil {
		return errors.Wrap(err, "writing TIFF header")
	}
	for i, c := range chunks {
		if _, err := bw.Write(c); err != nil {
			return errors.Wrapf(err, "writing chunk %d", i)
		}
		if f.padding[i] {
			if err := bw.WriteByte(0); err != nil {
				return errors.Wrapf(err, "writing chunk %d", i)
			}
		}
	}
	if _, err := bw.Write(f.ifd); err != nil {
		return errors.Wrap(err, "writing IFD")
	}
	if _, err := bw.Write(f.extra); err != nil {
		return errors.Wrap(err, "writing tag values")
	}
	return errors.Wrap(bw.Flush(), "flushing GeoTIFF")
}

func (f *tiffFile) entries(l layout, p Profile, offsets, counts []uint64) []tiffEntry {
	entries := []tiffEntry{
		f.longs(tagImageWidth, uint64(l.width)),
		f.longs(tagImageLength, uint64(l.height)),
		f.shorts(tagBitsPerSample, 32),
		f.shorts(tagCompression, uint16(l.compression)),
		f.shorts(tagPhotometricInterpretation, photometricMinIsBlack),
		f.shorts(tagSamplesPerPixel, 1),
		f.shorts(tagPlanarConfiguration, uint16(InterleavePixel)),
		f.shorts(tagSampleFormat, sampleFormatFloat),
	}
	if l.predictor != PredictorNone {
		entries = append(entries, f.shorts(tagPredictor, uint16(l.predictor)))
	}

	if l.tiled {
		entries = append(entries,
			f.longs(tagTileWidth, uint64(l.blockW)),
			f.longs(tagTileLength, uint64(l.blockH)),
			f.offsets(tagTileOffsets, offsets),
			f.offsets(tagTileByteCounts, counts),
		)
	} else {
		entries = append(entries,
			f.longs(tagRowsPerStrip, uint64(l.blockH)),
			f.offsets(tagStripOffsets, offsets),
			f.offsets(tagStripByteCounts, counts),
		)
	}

	t := p.Transform
	switch {
	case t.IsIdentity() || t == (Affine{}):
	case t.Rectilinear():
		entries = append(entries,
			f.doubles(tagModelPixelScale, t.A, -t.E, 0),
			f.doubles(tagModelTiepoint, 0, 0, 0, t.C, t.F, 0),
		)
	default:
		entries = append(entries, f.doubles(tagModelTransformation,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	keys := p.GeoKeyDirectory
	if len(keys) == 0 {
		keys = geoKeysForCRS(p.CRS)
	}
	if len(keys) > 0 {
		entries = append(entries, f.shorts(tagGeoKeyDirectory, keys...))
	}
	if len(p.GeoDoubleParams) > 0 {
		entries = append(entries, f.doubles(tagGeoDoubleParams, p.GeoDoubleParams...))
	}
	if p.GeoASCIIParams != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, p.GeoASCIIParams))
	}
	if p.Metadata != "" {
		entries = append(entries, asciiEntry(tagGDALMetadata, p.Metadata))
	}
	if p.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, formatNoData(p.NoData)))
	}
	return entries
}

func (f *tiffFile) shorts(tag uint16, vals ...uint16) tiffEntry {
	b := make([]byte, 0, 2*len(vals))
	for _, v := range vals {
		b = f.bo.AppendUint16(b, v)
	}
	return tiffEntry{tag: tag, typ: dtShort, count: uint64(len(vals)), value: b}
}

func (f *tiffFile) longs(tag uint16, vals ...uint64) tiffEntry {
	b := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		b = f.bo.AppendUint32(b, uint32(v))
	}
	return tiffEntry{tag: tag, typ: dtLong, count: uint64(len(vals)), value: b}
}

// offsets writes LONG8 in BigTIFF files and LONG otherwise.
func (f *tiffFile) offsets(tag uint16, vals []uint64) tiffEntry {
	if !f.big {
		return f.longs(tag, vals...)
	}
	b := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		b = f.bo.AppendUint64(b, v)
	}
	return tiffEntry{tag: tag, typ: dtLong8, count: uint64(len(vals)), value: b}
}

func (f *tiffFile) doubles(tag uint16, vals ...float64) tiffEntry {
	b := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		b = f.bo.AppendUint64(b, math.Float64bits(v))
	}
	return tiffEntry{tag: tag, typ: dtDouble, count: uint64(len(vals)), value: b}
}

func asciiEntry(tag uint16, s string) tiffEntry {
	b := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: dtASCII, count: uint64(len(b)), value: b}
}

// formatNoData renders a nodata value the way GDAL writes it.
func formatNoData(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
