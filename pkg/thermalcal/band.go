package thermalcal

import (
	"bytes"
	"fmt"
	"io"

	"thermalcal/pkg/geotiff"
)

// Band is band 1 of a raster as a float32 Mat (rows = height) plus the
// source profile.
type Band struct {
	Mat     Mat
	Profile geotiff.Profile
}

// NewBand copies row-major samples into a Band. The profile must describe a
// non-empty raster of exactly len(data) pixels.
func NewBand(data []float32, profile geotiff.Profile) (*Band, error) {
	if profile.Width <= 0 || profile.Height <= 0 {
		return nil, invalidInput("empty %dx%d band", profile.Width, profile.Height)
	}
	if len(data) != profile.Width*profile.Height {
		return nil, invalidInput("%d samples for a %dx%d band", len(data), profile.Width, profile.Height)
	}
	m := NewMatWithSize(profile.Height, profile.Width)
	copy(m.DataFloat32(), data)
	return &Band{Mat: m, Profile: profile}, nil
}

// NewBandFromRows builds an ungeoreferenced float32 band from a 2D array.
// Ragged or empty input is rejected.
func NewBandFromRows(rows [][]float32) (*Band, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, invalidInput("empty band")
	}
	width := len(rows[0])
	data := make([]float32, 0, width*len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, invalidInput("row %d has %d samples, want %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return NewBand(data, geotiff.Profile{
		Width:     width,
		Height:    len(rows),
		Count:     1,
		DType:     geotiff.Float32,
		Transform: geotiff.IdentityAffine,
	})
}

// DecodeBand decodes band 1 of an uploaded GeoTIFF. Codec failures are
// reported as ErrInvalidInput while keeping the codec error in the chain.
func DecodeBand(data []byte) (*Band, error) {
	return DecodeBandAt(bytes.NewReader(data), int64(len(data)))
}

// ReadBand decodes band 1 of a GeoTIFF file.
func ReadBand(path string) (*Band, error) {
	r, err := geotiff.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return NewBand(r.Data, r.Profile)
}

// DecodeBandAt decodes band 1 of a GeoTIFF of size bytes read from r.
func DecodeBandAt(r io.ReaderAt, size int64) (*Band, error) {
	return DecodeBandAtWithOptions(r, size, geotiff.DecodeOptions{})
}

// DecodeBandAtWithOptions is DecodeBandAt with decoder allocation limits, for
// untrusted uploads.
func DecodeBandAtWithOptions(r io.ReaderAt, size int64, opts geotiff.DecodeOptions) (*Band, error) {
	raster, err := geotiff.DecodeWithOptions(r, size, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return NewBand(raster.Data, raster.Profile)
}

func (b *Band) Width() int  { return b.Mat.Cols() }
func (b *Band) Height() int { return b.Mat.Rows() }

// Data returns the row-major samples backing the band's Mat.
func (b *Band) Data() []float32 {
	return b.Mat.DataFloat32()[:b.Mat.Rows()*b.Mat.Cols()]
}

// At returns the sample at (row, col).
func (b *Band) At(row, col int) float32 {
	return b.Data()[row*b.Mat.Cols()+col]
}

// DisplayRange is the 2nd/98th percentile range of finite, non-nodata samples.
func (b *Band) DisplayRange() (lo, hi float64, ok bool) {
	return displayRange(b.Data(), b.Profile.IsNoData)
}

// Statistics summarises the band, excluding nodata samples.
func (b *Band) Statistics() Statistics {
	return computeStatistics(b.Data(), b.Profile.IsNoData)
}

// Close releases the band's pixel memory.
func (b *Band) Close() {
	b.Mat.Close()
}
