package thermalcal

import (
	"bytes"
	"io"
	"runtime"
	"sync"

	"thermalcal/pkg/geotiff"
)

// parallelThreshold is the pixel count above which Calibrate fans out over
// row partitions by default.
const parallelThreshold = 1 << 18

// CalibrateOptions tunes Calibrate.
type CalibrateOptions struct {
	// Workers is the number of row partitions processed concurrently.
	// Zero picks GOMAXPROCS for large bands and 1 otherwise.
	Workers int
	// PreserveNoData writes nodata samples through unchanged instead of
	// transforming them.
	PreserveNoData bool
}

// CalibratedRaster is the transformed band plus its output profile.
type CalibratedRaster struct {
	Mat          Mat
	Profile      geotiff.Profile
	Coefficients Coefficients

	// noData is set when nodata samples were written through unchanged.
	noData func(float64) bool
}

// Calibrate computes A*x + B for every sample of band.
func Calibrate(band *Band, c Coefficients) (*CalibratedRaster, error) {
	return CalibrateWithOptions(band, c, CalibrateOptions{})
}

// CalibrateWithOptions is Calibrate with explicit options. Each sample is
// computed in float64 and rounded once to float32, so the result does not
// depend on the number of workers. Non-finite results are kept as they are.
func CalibrateWithOptions(band *Band, c Coefficients, opts CalibrateOptions) (*CalibratedRaster, error) {
	if band == nil || band.Mat.Empty() {
		return nil, invalidInput("empty band")
	}
	rows, cols := band.Mat.Rows(), band.Mat.Cols()
	if band.Profile.Width != cols || band.Profile.Height != rows {
		return nil, invalidInput("profile is %dx%d but band is %dx%d", band.Profile.Width, band.Profile.Height, cols, rows)
	}

	out := NewMatWithSize(rows, cols)
	src := band.Data()
	dst := out.DataFloat32()[:rows*cols]

	var isNoData func(float64) bool
	if opts.PreserveNoData && band.Profile.HasNoData {
		isNoData = band.Profile.IsNoData
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
		if rows*cols >= parallelThreshold {
			workers = runtime.GOMAXPROCS(0)
		}
	}
	if workers > rows {
		workers = rows
	}

	if workers == 1 {
		applyAffine(dst, src, c, isNoData)
	} else {
		var wg sync.WaitGroup
		per := (rows + workers - 1) / workers
		for r0 := 0; r0 < rows; r0 += per {
			r1 := r0 + per
			if r1 > rows {
				r1 = rows
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				applyAffine(dst[lo:hi], src[lo:hi], c, isNoData)
			}(r0*cols, r1*cols)
		}
		wg.Wait()
	}

	profile := band.Profile
	profile.DType = geotiff.Float32
	profile.Count = 1
	// GDAL metadata describes the source values (statistics, scale and offset).
	profile.Metadata = ""
	return &CalibratedRaster{Mat: out, Profile: profile, Coefficients: c, noData: isNoData}, nil
}

func applyAffine(dst, src []float32, c Coefficients, isNoData func(float64) bool) {
	a, b := c.A, c.B
	if isNoData == nil {
		for i, v := range src {
			// The float64 conversion stops the compiler fusing the multiply and add.
			dst[i] = float32(float64(a*float64(v)) + b)
		}
		return
	}
	for i, v := range src {
		x := float64(v)
		if isNoData(x) {
			dst[i] = v
			continue
		}
		dst[i] = float32(float64(a*x) + b)
	}
}

func (r *CalibratedRaster) Width() int  { return r.Mat.Cols() }
func (r *CalibratedRaster) Height() int { return r.Mat.Rows() }

// Data returns the row-major calibrated samples.
func (r *CalibratedRaster) Data() []float32 {
	return r.Mat.DataFloat32()[:r.Mat.Rows()*r.Mat.Cols()]
}

// DisplayRange is the 2nd/98th percentile range of the finite calibrated
// samples. Preserved nodata samples are skipped.
func (r *CalibratedRaster) DisplayRange() (lo, hi float64, ok bool) {
	return displayRange(r.Data(), r.noData)
}

// Statistics summarises the calibrated samples, excluding preserved nodata.
func (r *CalibratedRaster) Statistics() Statistics {
	return computeStatistics(r.Data(), r.noData)
}

// Encode writes the calibrated band as a float32 GeoTIFF.
func (r *CalibratedRaster) Encode(w io.Writer) error {
	return geotiff.Encode(w, r.Profile, r.Data(), geotiff.EncodeOptions{})
}

// Bytes encodes the calibrated band into memory for download.
func (r *CalibratedRaster) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the calibrated GeoTIFF to path.
func (r *CalibratedRaster) WriteFile(path string) error {
	return geotiff.WriteFile(path, r.Profile, r.Data(), geotiff.EncodeOptions{})
}

// Close releases the calibrated pixel memory.
func (r *CalibratedRaster) Close() {
	r.Mat.Close()
}
