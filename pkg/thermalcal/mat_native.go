//go:build !purego && !js

package thermalcal

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// OpenCV's COLORMAP_INFERNO; older gocv releases do not export a constant for it.
const colormapInferno gocv.ColormapTypes = 14

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat                       { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat { return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)} }
func (mat Mat) Rows() int               { return mat.m.Rows() }
func (mat Mat) Cols() int               { return mat.m.Cols() }
func (mat Mat) Empty() bool             { return mat.m.Empty() }
func (mat Mat) Clone() Mat              { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()                 { mat.m.Close() }

func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

// --- CV operations ---

// resizeArea downsamples with pixel area relation. Any NaN inside a source
// block makes the destination pixel NaN.
func resizeArea(src Mat, rows, cols int) Mat {
	dst := gocv.NewMat()
	gocv.Resize(src.m, &dst, image.Pt(cols, rows), 0, 0, gocv.InterpolationArea)
	return Mat{m: dst}
}

// colorize maps [lo, hi] onto the inferno colour map.
func colorize(src Mat, lo, hi float64) (*image.RGBA, error) {
	alpha, beta := byteScale(lo, hi)

	gray := gocv.NewMat()
	defer gray.Close()
	src.m.ConvertToWithParams(&gray, gocv.MatTypeCV8U, float32(alpha), float32(beta))

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, colormapInferno)

	img, err := colored.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting colour map: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}
