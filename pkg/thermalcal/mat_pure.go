//go:build purego || js

package thermalcal

import (
	"image"
	"image/color"
	"math"
)

// Mat is a pure Go 2D float32 matrix.
type Mat struct {
	data []float32
	rows int
	cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{
		data: make([]float32, rows*cols),
		rows: rows,
		cols: cols,
	}
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

func (m Mat) Clone() Mat {
	newData := make([]float32, len(m.data))
	copy(newData, m.data)
	return Mat{data: newData, rows: m.rows, cols: m.cols}
}

func (m *Mat) Close() {
	m.data = nil
	m.rows = 0
	m.cols = 0
}

// DataFloat32 returns the backing float32 slice.
func (m Mat) DataFloat32() []float32 {
	return m.data
}

// --- Pure Go CV operations ---

// resizeArea downsamples by averaging the source pixels covered by each
// destination pixel. Any NaN inside a block makes the destination pixel NaN.
func resizeArea(src Mat, rows, cols int) Mat {
	dst := NewMatWithSize(rows, cols)
	sx := float64(src.cols) / float64(cols)
	sy := float64(src.rows) / float64(rows)
	sd, dd := src.data, dst.data

	for r := 0; r < rows; r++ {
		y0 := int(math.Floor(float64(r) * sy))
		y1 := int(math.Ceil(float64(r+1) * sy))
		if y1 > src.rows {
			y1 = src.rows
		}
		for c := 0; c < cols; c++ {
			x0 := int(math.Floor(float64(c) * sx))
			x1 := int(math.Ceil(float64(c+1) * sx))
			if x1 > src.cols {
				x1 = src.cols
			}
			var sum float64
			n := 0
			for y := y0; y < y1; y++ {
				row := sd[y*src.cols : (y+1)*src.cols]
				for x := x0; x < x1; x++ {
					sum += float64(row[x])
					n++
				}
			}
			if n > 0 {
				dd[r*cols+c] = float32(sum / float64(n))
			}
		}
	}
	return dst
}

// colorize maps [lo, hi] onto the inferno colour map.
func colorize(src Mat, lo, hi float64) (*image.RGBA, error) {
	alpha, beta := byteScale(lo, hi)
	img := image.NewRGBA(image.Rect(0, 0, src.cols, src.rows))
	for i, v := range src.data {
		c := infernoLUT[saturateByte(float64(v)*alpha+beta)]
		img.Pix[4*i+0] = c.R
		img.Pix[4*i+1] = c.G
		img.Pix[4*i+2] = c.B
		img.Pix[4*i+3] = 255
	}
	return img, nil
}

// saturateByte rounds to the nearest byte the way OpenCV's saturate_cast
// does; NaN becomes 0.
func saturateByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.RoundToEven(v))
}

// infernoLUT approximates matplotlib's inferno map with a degree-6 polynomial
// per channel.
var infernoLUT = func() [256]color.RGBA {
	coeffs := [3][7]float64{
		{0.0002189403691192265, 0.1065134194856116, 11.60249308247187, -41.70399613139459, 77.162935699427, -71.31942824499214, 25.13112622477341},
		{0.001651004631001012, 0.5639564367884091, -3.972853965665698, 17.43639888205313, -33.40235894210092, 32.62606426397723, -12.24266895238567},
		{-0.01948089843709184, 3.932712388889277, -15.9423941062914, 44.35414519872813, -81.80730925738993, 73.20951985803202, -23.07032500287172},
	}
	var lut [256]color.RGBA
	for i := range lut {
		t := float64(i) / 255
		var ch [3]uint8
		for k, c := range coeffs {
			v := c[6]
			for j := 5; j >= 0; j-- {
				v = v*t + c[j]
			}
			ch[k] = saturateByte(v * 255)
		}
		lut[i] = color.RGBA{ch[0], ch[1], ch[2], 255}
	}
	return lut
}()
