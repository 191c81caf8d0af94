package geotiff

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxPixels bounds width*height when DecodeOptions.MaxPixels is zero.
	DefaultMaxPixels = 1 << 30

	// maxTileSide bounds TileWidth and TileLength.
	maxTileSide = 1 << 16

	// maxChunkBytes bounds the decoded size of a single strip or tile.
	maxChunkBytes = 1 << 30
)

// DecodeOptions limits what a decoder will allocate for a declared raster.
type DecodeOptions struct {
	// MaxPixels caps width*height. Zero means DefaultMaxPixels.
	MaxPixels int64
}

func (o DecodeOptions) maxPixels() uint64 {
	if o.MaxPixels <= 0 || o.MaxPixels > DefaultMaxPixels {
		return DefaultMaxPixels
	}
	return uint64(o.MaxPixels)
}

// chunkLimit is the largest decoded strip or tile accepted: sixteen bytes per
// allowed pixel, at most maxChunkBytes.
func (o DecodeOptions) chunkLimit() uint64 {
	limit := 16 * o.maxPixels()
	if limit > maxChunkBytes {
		limit = maxChunkBytes
	}
	return limit
}

// ReadFile decodes the first band and profile of a GeoTIFF file.
func ReadFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening GeoTIFF file")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat GeoTIFF file")
	}
	return Decode(f, st.Size())
}

// ReadProfileFile reads only the profile of a GeoTIFF file without loading pixel data.
func ReadProfileFile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "opening GeoTIFF file")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Profile{}, errors.Wrap(err, "stat GeoTIFF file")
	}
	return ReadProfile(f, st.Size())
}

// DecodeBytes decodes the first band and profile from an in-memory GeoTIFF.
func DecodeBytes(data []byte) (*Raster, error) {
	return Decode(bytes.NewReader(data), int64(len(data)))
}

// Decode reads the first image of a TIFF stream and returns band 1 as float32
// samples along with its profile. Further bands are not decoded.
func Decode(r io.ReaderAt, size int64) (*Raster, error) {
	return DecodeWithOptions(r, size, DecodeOptions{})
}

// DecodeWithOptions is Decode with explicit allocation limits. Headers that
// declare a raster or chunk beyond the limits fail with ErrUnsupported before
// any pixel buffer is allocated.
func DecodeWithOptions(r io.ReaderAt, size int64, opts DecodeOptions) (*Raster, error) {
	d, err := newDecoder(r, size, opts)
	if err != nil {
		return nil, err
	}
	p, err := d.profile()
	if err != nil {
		return nil, err
	}
	data, err := d.readBand()
	if err != nil {
		return nil, err
	}
	return &Raster{Profile: p, Data: data}, nil
}

// ReadProfile reads the profile of the first image of a TIFF stream.
func ReadProfile(r io.ReaderAt, size int64) (Profile, error) {
	d, err := newDecoder(r, size, DecodeOptions{})
	if err != nil {
		return Profile{}, err
	}
	return d.profile()
}

type ifdEntry struct {
	typ   uint16
	count uint64
	value []byte
}

type decoder struct {
	r    io.ReaderAt
	size int64
	opts DecodeOptions
	bo   binary.ByteOrder
	big  bool
	tags map[uint16]ifdEntry

	width, height int
	spp           int
	bits          int
	dtype         DataType
	planar        Interleave
	compression   Compression
	predictor     Predictor
	tiled         bool
	blockW        int
	blockH        int
	offsets       []uint64
	counts        []uint64
}

func newDecoder(r io.ReaderAt, size int64, opts DecodeOptions) (*decoder, error) {
	if size < 8 {
		return nil, formatError("file too short (%d bytes)", size)
	}
	d := &decoder{r: r, size: size, opts: opts}

	header, err := d.readAt(0, 8)
	if err != nil {
		return nil, err
	}
	switch string(header[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, formatError("bad byte order mark %q", header[:2])
	}

	var ifdOffset uint64
	switch magic := d.bo.Uint16(header[2:4]); magic {
	case 42:
		ifdOffset = uint64(d.bo.Uint32(header[4:8]))
	case 43:
		if d.bo.Uint16(header[4:6]) != 8 {
			return nil, formatError("BigTIFF offset size %d", d.bo.Uint16(header[4:6]))
		}
		ext, err := d.readAt(8, 8)
		if err != nil {
			return nil, err
		}
		d.big = true
		ifdOffset = d.bo.Uint64(ext)
	default:
		return nil, formatError("bad magic number %d", magic)
	}

	if err := d.readIFD(ifdOffset); err != nil {
		return nil, err
	}
	if err := d.layout(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decoder) readAt(off, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if off > uint64(d.size) || n > uint64(d.size)-off {
		return nil, formatError("range [%d, %d) exceeds file size %d", off, off+n, d.size)
	}
	buf := make([]byte, n)
	k, err := d.r.ReadAt(buf, int64(off))
	if k < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "reading TIFF data")
	}
	return buf, nil
}

func (d *decoder) readIFD(off uint64) error {
	if off == 0 {
		return formatError("no image file directory")
	}
	countSize, entrySize, inline := uint64(2), uint64(12), uint64(4)
	if d.big {
		countSize, entrySize, inline = 8, 20, 8
	}

	raw, err := d.readAt(off, countSize)
	if err != nil {
		return err
	}
	var n uint64
	if d.big {
		n = d.bo.Uint64(raw)
	} else {
		n = uint64(d.bo.Uint16(raw))
	}
	if n == 0 || n > 4096 {
		return formatError("implausible IFD entry count %d", n)
	}

	entries, err := d.readAt(off+countSize, n*entrySize)
	if err != nil {
		return err
	}

	d.tags = make(map[uint16]ifdEntry, n)
	for i := uint64(0); i < n; i++ {
		e := entries[i*entrySize : (i+1)*entrySize]
		tag := d.bo.Uint16(e[0:2])
		typ := d.bo.Uint16(e[2:4])

		var count uint64
		var field []byte
		if d.big {
			count = d.bo.Uint64(e[4:12])
			field = e[12:20]
		} else {
			count = uint64(d.bo.Uint32(e[4:8]))
			field = e[8:12]
		}

		size, ok := fieldTypeSize[typ]
		if !ok {
			// Readers must skip fields of unknown type.
			continue
		}
		if count > uint64(d.size) {
			return formatError("tag %d count %d exceeds file size", tag, count)
		}

		total := size * count
		var value []byte
		if total <= inline {
			value = field[:total]
		} else {
			var valueOff uint64
			if d.big {
				valueOff = d.bo.Uint64(field)
			} else {
				valueOff = uint64(d.bo.Uint32(field))
			}
			value, err = d.readAt(valueOff, total)
			if err != nil {
				return errors.Wrapf(err, "reading tag %d", tag)
			}
		}
		d.tags[tag] = ifdEntry{typ: typ, count: count, value: value}
	}
	return nil
}

func (d *decoder) uints(tag uint16) ([]uint64, bool, error) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, false, nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.value[i])
		case dtShort:
			out[i] = uint64(d.bo.Uint16(e.value[2*i:]))
		case dtLong:
			out[i] = uint64(d.bo.Uint32(e.value[4*i:]))
		case dtLong8, dtIFD8:
			out[i] = d.bo.Uint64(e.value[8*i:])
		default:
			return nil, true, formatError("tag %d has non-integer field type %d", tag, e.typ)
		}
	}
	return out, true, nil
}

func (d *decoder) firstUint(tag uint16, def uint64) (uint64, error) {
	v, ok, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if !ok || len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

func (d *decoder) floats(tag uint16) ([]float64, error) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.bo.Uint64(e.value[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(e.value[4*i:])))
		case dtRational:
			num := d.bo.Uint32(e.value[8*i:])
			den := d.bo.Uint32(e.value[8*i+4:])
			if den == 0 {
				return nil, formatError("tag %d has zero rational denominator", tag)
			}
			out[i] = float64(num) / float64(den)
		case dtShort:
			out[i] = float64(d.bo.Uint16(e.value[2*i:]))
		case dtLong:
			out[i] = float64(d.bo.Uint32(e.value[4*i:]))
		default:
			return nil, formatError("tag %d has non-numeric field type %d", tag, e.typ)
		}
	}
	return out, nil
}

func (d *decoder) ascii(tag uint16) string {
	e, ok := d.tags[tag]
	if !ok || e.typ != dtASCII {
		return ""
	}
	return strings.TrimRight(string(e.value), "\x00")
}

func (d *decoder) layout() error {
	w, err := d.firstUint(tagImageWidth, 0)
	if err != nil {
		return err
	}
	h, err := d.firstUint(tagImageLength, 0)
	if err != nil {
		return err
	}
	if w == 0 || h == 0 {
		return formatError("missing image dimensions")
	}
	if w > math.MaxInt32 || h > math.MaxInt32 || w*h > d.opts.maxPixels() {
		return unsupportedError("%dx%d image is too large", w, h)
	}
	d.width, d.height = int(w), int(h)

	spp, err := d.firstUint(tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	if spp == 0 || spp > 0xffff {
		return formatError("invalid samples per pixel %d", spp)
	}
	d.spp = int(spp)

	bits, ok, err := d.uints(tagBitsPerSample)
	if err != nil {
		return err
	}
	d.bits = 1
	if ok && len(bits) > 0 {
		d.bits = int(bits[0])
		for _, b := range bits[1:] {
			if int(b) != d.bits {
				return unsupportedError("mixed bits per sample %v", bits)
			}
		}
	}
	format, err := d.firstUint(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return err
	}
	if d.dtype, err = dataTypeFor(d.bits, uint16(format)); err != nil {
		return err
	}

	photometric, err := d.firstUint(tagPhotometricInterpretation, photometricMinIsBlack)
	if err != nil {
		return err
	}
	if photometric == photometricPalette {
		return unsupportedError("palette-colour images")
	}

	planar, err := d.firstUint(tagPlanarConfiguration, uint64(InterleavePixel))
	if err != nil {
		return err
	}
	switch Interleave(planar) {
	case InterleavePixel, InterleaveBand:
		d.planar = Interleave(planar)
	default:
		return formatError("invalid planar configuration %d", planar)
	}

	compression, err := d.firstUint(tagCompression, uint64(CompressionNone))
	if err != nil {
		return err
	}
	switch c := Compression(compression); c {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionAdobeDeflate, CompressionPackBits:
		d.compression = c
	default:
		return unsupportedError("compression scheme %d", compression)
	}

	predictor, err := d.firstUint(tagPredictor, uint64(PredictorNone))
	if err != nil {
		return err
	}
	switch p := Predictor(predictor); p {
	case PredictorNone:
		d.predictor = p
	case PredictorHorizontal:
		if d.dtype == Float32 || d.dtype == Float64 {
			return unsupportedError("horizontal predictor on floating point samples")
		}
		d.predictor = p
	case PredictorFloatingPoint:
		if d.dtype != Float32 && d.dtype != Float64 {
			return formatError("floating point predictor on %s samples", d.dtype)
		}
		d.predictor = p
	default:
		return unsupportedError("predictor %d", predictor)
	}

	var offsetTag, countTag uint16
	if _, d.tiled = d.tags[tagTileWidth]; d.tiled {
		tw, err := d.firstUint(tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := d.firstUint(tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 || tw > maxTileSide || th > maxTileSide ||
			tw > roundUp16(w) || th > roundUp16(h) {
			return formatError("invalid tile size %dx%d for %dx%d image", tw, th, w, h)
		}
		d.blockW, d.blockH = int(tw), int(th)
		offsetTag, countTag = tagTileOffsets, tagTileByteCounts
	} else {
		rps, err := d.firstUint(tagRowsPerStrip, h)
		if err != nil {
			return err
		}
		if rps == 0 || rps > h {
			rps = h
		}
		d.blockW, d.blockH = d.width, int(rps)
		offsetTag, countTag = tagStripOffsets, tagStripByteCounts
	}

	if d.offsets, _, err = d.uints(offsetTag); err != nil {
		return err
	}
	if d.counts, _, err = d.uints(countTag); err != nil {
		return err
	}
	planes, samples := 1, uint64(d.spp)
	if d.planar == InterleaveBand {
		planes, samples = d.spp, 1
	}
	chunk := uint64(d.blockW) * uint64(d.blockH) * samples * uint64(d.bits/8)
	if chunk > d.opts.chunkLimit() {
		return unsupportedError("%dx%d block of %d samples needs %d bytes", d.blockW, d.blockH, samples, chunk)
	}
	need := ceilDiv(d.width, d.blockW) * ceilDiv(d.height, d.blockH) * planes
	if len(d.offsets) < need || len(d.counts) < need {
		return formatError("have %d offsets and %d byte counts, want %d", len(d.offsets), len(d.counts), need)
	}
	return nil
}

func (d *decoder) profile() (Profile, error) {
	p := Profile{
		Width:       d.width,
		Height:      d.height,
		Count:       d.spp,
		DType:       d.dtype,
		Tiled:       d.tiled,
		BlockXSize:  d.blockW,
		BlockYSize:  d.blockH,
		Compression: d.compression,
		Predictor:   d.predictor,
		Interleave:  d.planar,
	}

	transform, err := d.transform()
	if err != nil {
		return Profile{}, err
	}
	p.Transform = transform

	keys, _, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return Profile{}, err
	}
	if len(keys) > 0 {
		p.GeoKeyDirectory = make([]uint16, len(keys))
		for i, k := range keys {
			p.GeoKeyDirectory[i] = uint16(k)
		}
	}
	if p.GeoDoubleParams, err = d.floats(tagGeoDoubleParams); err != nil {
		return Profile{}, err
	}
	p.GeoASCIIParams = d.ascii(tagGeoASCIIParams)
	p.CRS = crsFromGeoKeys(p.GeoKeyDirectory)
	p.Metadata = d.ascii(tagGDALMetadata)

	if s := strings.TrimSpace(d.ascii(tagGDALNoData)); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			p.NoData = v
			p.HasNoData = true
		}
	}
	return p, nil
}

func (d *decoder) transform() (Affine, error) {
	m, err := d.floats(tagModelTransformation)
	if err != nil {
		return Affine{}, err
	}
	if len(m) >= 8 {
		return Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}, nil
	}

	scale, err := d.floats(tagModelPixelScale)
	if err != nil {
		return Affine{}, err
	}
	ties, err := d.floats(tagModelTiepoint)
	if err != nil {
		return Affine{}, err
	}
	if len(scale) >= 2 && len(ties) >= 6 {
		return Affine{
			A: scale[0],
			C: ties[3] - ties[0]*scale[0],
			E: -scale[1],
			F: ties[4] + ties[1]*scale[1],
		}, nil
	}
	return IdentityAffine, nil
}

func (d *decoder) readBand() ([]float32, error) {
	out := make([]float32, d.width*d.height)

	samples := d.spp
	if d.planar == InterleaveBand {
		samples = 1
	}
	bps := d.bits / 8
	read := sampleReader(d.dtype, d.bo)
	across := ceilDiv(d.width, d.blockW)
	down := ceilDiv(d.height, d.blockH)

	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			rows := d.blockH
			if !d.tiled && d.height-by*d.blockH < rows {
				rows = d.height - by*d.blockH
			}
			rowBytes := d.blockW * samples * bps
			want := rows * rowBytes

			idx := by*across + bx
			chunk, err := d.readChunk(idx, want)
			if err != nil {
				return nil, err
			}
			if err := undoPredictor(chunk[:want], d.predictor, d.bo, bps, samples, rowBytes); err != nil {
				return nil, err
			}

			x0, y0 := bx*d.blockW, by*d.blockH
			stride := samples * bps
			for r := 0; r < rows && y0+r < d.height; r++ {
				src := chunk[r*rowBytes : (r+1)*rowBytes]
				dst := out[(y0+r)*d.width : (y0+r+1)*d.width]
				for c := 0; c < d.blockW && x0+c < d.width; c++ {
					dst[x0+c] = read(src[c*stride:])
				}
			}
		}
	}
	return out, nil
}

func (d *decoder) readChunk(idx, want int) ([]byte, error) {
	off, n := d.offsets[idx], d.counts[idx]
	if n == 0 {
		// Sparse chunk: GDAL leaves unwritten blocks without data.
		return make([]byte, want), nil
	}
	if d.compression == CompressionNone && n < uint64(want) {
		return nil, formatError("uncompressed chunk %d has %d bytes, want %d", idx, n, want)
	}
	raw, err := d.readAt(off, n)
	if err != nil {
		return nil, errors.Wrapf(err, "reading chunk %d", idx)
	}
	data, err := decompress(d.compression, raw, want)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing chunk %d", idx)
	}
	if len(data) < want {
		return nil, formatError("chunk %d decoded to %d bytes, want %d", idx, len(data), want)
	}
	return data, nil
}

func sampleReader(t DataType, bo binary.ByteOrder) func([]byte) float32 {
	switch t {
	case Uint8:
		return func(b []byte) float32 { return float32(b[0]) }
	case Int8:
		return func(b []byte) float32 { return float32(int8(b[0])) }
	case Uint16:
		return func(b []byte) float32 { return float32(bo.Uint16(b)) }
	case Int16:
		return func(b []byte) float32 { return float32(int16(bo.Uint16(b))) }
	case Uint32:
		return func(b []byte) float32 { return float32(bo.Uint32(b)) }
	case Int32:
		return func(b []byte) float32 { return float32(int32(bo.Uint32(b))) }
	case Uint64:
		return func(b []byte) float32 { return float32(bo.Uint64(b)) }
	case Int64:
		return func(b []byte) float32 { return float32(int64(bo.Uint64(b))) }
	case Float32:
		return func(b []byte) float32 { return math.Float32frombits(bo.Uint32(b)) }
	case Float64:
		return func(b []byte) float32 { return float32(math.Float64frombits(bo.Uint64(b))) }
	}
	return nil
}

func roundUp16(v uint64) uint64 {
	return (v + 15) &^ 15
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
