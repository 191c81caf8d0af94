// Package geotiff reads and writes single-band georeferenced TIFF rasters.
//
// Decoding always yields the first band as float32 samples together with a
// Profile describing the source layout and georeferencing. Encoding writes a
// float32 band back out with the same georeferencing.
package geotiff

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrFormat reports a malformed or truncated TIFF stream.
	ErrFormat = errors.New("geotiff: invalid format")
	// ErrUnsupported reports a well-formed TIFF using a feature this package does not handle.
	ErrUnsupported = errors.New("geotiff: unsupported feature")
)

func formatError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}

func unsupportedError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}

// DataType is the declared sample type of a raster band.
type DataType int

const (
	DTUnknown DataType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Uint64:  "uint64",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseDataType maps a name such as "float32" to a DataType.
func ParseDataType(name string) (DataType, error) {
	for t, n := range dataTypeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return DTUnknown, fmt.Errorf("unknown data type %q", name)
}

// BitsPerSample returns the storage width of one sample.
func (t DataType) BitsPerSample() int {
	switch t {
	case Uint8, Int8:
		return 8
	case Uint16, Int16:
		return 16
	case Uint32, Int32, Float32:
		return 32
	case Uint64, Int64, Float64:
		return 64
	}
	return 0
}

func (t DataType) sampleFormat() uint16 {
	switch t {
	case Int8, Int16, Int32, Int64:
		return sampleFormatInt
	case Float32, Float64:
		return sampleFormatFloat
	}
	return sampleFormatUint
}

func dataTypeFor(bits int, format uint16) (DataType, error) {
	switch format {
	case sampleFormatUint, sampleFormatVoid:
		switch bits {
		case 8:
			return Uint8, nil
		case 16:
			return Uint16, nil
		case 32:
			return Uint32, nil
		case 64:
			return Uint64, nil
		}
	case sampleFormatInt:
		switch bits {
		case 8:
			return Int8, nil
		case 16:
			return Int16, nil
		case 32:
			return Int32, nil
		case 64:
			return Int64, nil
		}
	case sampleFormatFloat:
		switch bits {
		case 32:
			return Float32, nil
		case 64:
			return Float64, nil
		}
	}
	return DTUnknown, unsupportedError("%d-bit samples with sample format %d", bits, format)
}

// Compression identifies a TIFF compression scheme by its tag value.
type Compression uint16

const (
	CompressionNone         Compression = 1
	CompressionLZW          Compression = 5
	CompressionDeflate      Compression = 8
	CompressionPackBits     Compression = 32773
	CompressionAdobeDeflate Compression = 32946
)

func (c Compression) String() string {
	switch c {
	case CompressionNone, 0:
		return "none"
	case CompressionLZW:
		return "lzw"
	case CompressionDeflate, CompressionAdobeDeflate:
		return "deflate"
	case CompressionPackBits:
		return "packbits"
	}
	return fmt.Sprintf("compression(%d)", uint16(c))
}

// ParseCompression maps "none", "lzw", "deflate" or "packbits" to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "raw":
		return CompressionNone, nil
	case "lzw":
		return CompressionLZW, nil
	case "deflate", "zip", "zlib":
		return CompressionDeflate, nil
	case "packbits":
		return CompressionPackBits, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// Predictor is the TIFF differencing predictor applied before compression.
type Predictor uint16

const (
	PredictorNone          Predictor = 1
	PredictorHorizontal    Predictor = 2
	PredictorFloatingPoint Predictor = 3
)

// Interleave describes how multiple samples per pixel are stored.
type Interleave uint16

const (
	InterleavePixel Interleave = 1
	InterleaveBand  Interleave = 2
)

func (i Interleave) String() string {
	if i == InterleaveBand {
		return "band"
	}
	return "pixel"
}

// Affine maps pixel (col, row) to model coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// IdentityAffine is the transform of a raster without georeferencing.
var IdentityAffine = Affine{A: 1, E: 1}

// Apply maps a pixel position to model space.
func (a Affine) Apply(col, row float64) (float64, float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// IsIdentity reports whether a is the identity transform.
func (a Affine) IsIdentity() bool {
	return a == IdentityAffine
}

// Rectilinear reports whether a has no rotation or shear terms.
func (a Affine) Rectilinear() bool {
	return a.B == 0 && a.D == 0
}

func (a Affine) String() string {
	return fmt.Sprintf("|%g, %g, %g|\n|%g, %g, %g|", a.A, a.B, a.C, a.D, a.E, a.F)
}

// Profile is the layout and georeferencing metadata of a raster.
type Profile struct {
	Width  int
	Height int
	Count  int
	DType  DataType

	NoData    float64
	HasNoData bool

	CRS       string
	Transform Affine

	Tiled      bool
	BlockXSize int
	BlockYSize int

	Compression Compression
	Predictor   Predictor
	Interleave  Interleave

	GeoKeyDirectory []uint16
	GeoDoubleParams []float64
	GeoASCIIParams  string
	Metadata        string
}

// IsNoData reports whether v equals the profile nodata value. A NaN nodata
// value matches any NaN sample.
func (p Profile) IsNoData(v float64) bool {
	if !p.HasNoData {
		return false
	}
	if math.IsNaN(p.NoData) {
		return math.IsNaN(v)
	}
	return v == p.NoData
}

// Georeferenced reports whether the profile carries any spatial reference.
func (p Profile) Georeferenced() bool {
	return !p.Transform.IsIdentity() || len(p.GeoKeyDirectory) > 0 || p.CRS != ""
}

// Raster is a decoded band plus its profile. Data is row-major with
// len(Data) == Width*Height.
type Raster struct {
	Profile Profile
	Data    []float32
}
