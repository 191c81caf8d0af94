package thermalcal

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Preview layout, in pixels.
const (
	previewWidth   = 800
	previewMargin  = 16
	previewTitleH  = 28
	previewFooterH = 24
	colorBarGap    = 14
	colorBarWidth  = 18
	colorBarLabelW = 96
	maxPlotWidth   = previewWidth - 2*previewMargin - colorBarGap - colorBarWidth - colorBarLabelW
	maxPlotHeight  = 600
)

var (
	previewBackground = color.RGBA{255, 255, 255, 255}
	noDataColor       = color.RGBA{200, 200, 200, 255}
	textColor         = color.RGBA{20, 20, 20, 255}
)

// PreviewOptions controls preview rendering.
type PreviewOptions struct {
	Title string
	// Label is drawn above the colour bar, e.g. "Temperature".
	Label string
	// Low and High override the display range when RangeSet is true.
	Low, High float64
	RangeSet  bool
	// NoData, when set, marks samples drawn like non-finite ones.
	NoData func(float64) bool
}

// PreviewOptionsFor returns the defaults used for the source and calibrated
// previews.
func PreviewOptionsFor(calibrated bool) PreviewOptions {
	if calibrated {
		return PreviewOptions{Title: "Calibrated Image", Label: "Calibrated Temperature"}
	}
	return PreviewOptions{Title: "Original Image", Label: "Temperature"}
}

// PreviewOptions returns the source preview defaults, masking nodata samples.
func (b *Band) PreviewOptions() PreviewOptions {
	opts := PreviewOptionsFor(false)
	if b.Profile.HasNoData {
		opts.NoData = b.Profile.IsNoData
	}
	return opts
}

// PreviewOptions returns the calibrated preview defaults. Nodata samples are
// masked only when they were preserved by calibration.
func (r *CalibratedRaster) PreviewOptions() PreviewOptions {
	opts := PreviewOptionsFor(true)
	opts.NoData = r.noData
	return opts
}

// RenderPreview draws the band with the inferno colour map scaled to its
// display range, with a colour bar and labels. Non-finite and nodata pixels
// are drawn grey. The image is at most 800 pixels wide.
func RenderPreview(m Mat, opts PreviewOptions) (*image.RGBA, error) {
	if m.Empty() {
		return nil, invalidInput("empty band")
	}
	rows, cols := m.Rows(), m.Cols()
	data := m.DataFloat32()[:rows*cols]

	lo, hi, ok := opts.Low, opts.High, true
	if !opts.RangeSet {
		lo, hi, ok = displayRange(data, opts.NoData)
	}
	if !ok || math.IsNaN(lo) || math.IsNaN(hi) {
		lo, hi, ok = 0, 1, false
	}

	plotW, plotH := fitPlot(cols, rows)
	src := m
	if cols > 2*plotW || rows > 2*plotH {
		src = resizeArea(m, plotH, plotW)
		defer src.Close()
	}

	colored, err := colorize(src, lo, hi)
	if err != nil {
		return nil, err
	}
	maskInvalid(colored, src.DataFloat32()[:src.Rows()*src.Cols()], opts.NoData, !ok)

	totalW := previewMargin + plotW + colorBarGap + colorBarWidth + colorBarLabelW + previewMargin
	totalH := previewTitleH + plotH + previewFooterH
	img := image.NewRGBA(image.Rect(0, 0, totalW, totalH))
	draw.Draw(img, img.Bounds(), image.NewUniform(previewBackground), image.Point{}, draw.Src)

	plot := image.Rect(previewMargin, previewTitleH, previewMargin+plotW, previewTitleH+plotH)
	scaler := draw.Interpolator(draw.NearestNeighbor)
	if colored.Bounds().Dx() > plotW {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(img, plot, colored, colored.Bounds(), draw.Src, nil)

	if err := drawColorBar(img, plot, lo, hi, ok, opts.Label); err != nil {
		return nil, err
	}

	face := basicfont.Face7x13
	drawCenteredText(img, face, opts.Title, plot.Min.X+plotW/2, previewTitleH-10, textColor)
	drawText(img, face, fmt.Sprintf("%d x %d px", cols, rows), plot.Min.X, plot.Max.Y+17, textColor)
	return img, nil
}

// fitPlot scales a cols x rows raster into the plot area, keeping aspect ratio.
func fitPlot(cols, rows int) (int, int) {
	scale := math.Min(float64(maxPlotWidth)/float64(cols), float64(maxPlotHeight)/float64(rows))
	w := int(math.Round(float64(cols) * scale))
	h := int(math.Round(float64(rows) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// byteScale returns alpha, beta such that alpha*v+beta maps [lo, hi] to [0, 255].
func byteScale(lo, hi float64) (float64, float64) {
	if !(hi > lo) {
		return 0, 0
	}
	alpha := 255 / (hi - lo)
	return alpha, -lo * alpha
}

func maskInvalid(img *image.RGBA, data []float32, noData func(float64) bool, all bool) {
	for i, v := range data {
		x := float64(v)
		if all || math.IsNaN(x) || math.IsInf(x, 0) || (noData != nil && noData(x)) {
			img.Pix[4*i+0] = noDataColor.R
			img.Pix[4*i+1] = noDataColor.G
			img.Pix[4*i+2] = noDataColor.B
			img.Pix[4*i+3] = noDataColor.A
		}
	}
}

// drawColorBar renders the colour bar to the right of plot, high values at
// the top, with tick labels at both ends.
func drawColorBar(img *image.RGBA, plot image.Rectangle, lo, hi float64, ok bool, label string) error {
	barH := plot.Dy()
	gradient := NewMatWithSize(barH, 1)
	defer gradient.Close()
	g := gradient.DataFloat32()
	for y := 0; y < barH; y++ {
		if barH == 1 {
			g[y] = 255
			continue
		}
		g[y] = float32(255 * float64(barH-1-y) / float64(barH-1))
	}
	bar, err := colorize(gradient, 0, 255)
	if err != nil {
		return err
	}

	x0 := plot.Max.X + colorBarGap
	r := image.Rect(x0, plot.Min.Y, x0+colorBarWidth, plot.Max.Y)
	draw.NearestNeighbor.Scale(img, r, bar, bar.Bounds(), draw.Src, nil)
	drawRect(img, r, textColor)

	face := basicfont.Face7x13
	labelX := r.Max.X + 6
	hiText, loText := "n/a", "n/a"
	if ok {
		hiText, loText = formatTick(hi), formatTick(lo)
	}
	drawText(img, face, hiText, labelX, r.Min.Y+10, textColor)
	drawText(img, face, loText, labelX, r.Max.Y, textColor)
	if label != "" {
		drawText(img, face, label, r.Min.X, r.Min.Y-10, textColor)
	}
	return nil
}

func formatTick(v float64) string {
	if math.Abs(v) >= 1e5 || (v != 0 && math.Abs(v) < 1e-2) {
		return fmt.Sprintf("%.3g", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// RenderPreviewPNG renders a preview and returns it as PNG bytes.
func RenderPreviewPNG(m Mat, opts PreviewOptions) ([]byte, error) {
	img, err := RenderPreview(m, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePreviewPNG renders a preview and writes it to outputPath.
func WritePreviewPNG(m Mat, opts PreviewOptions, outputPath string) error {
	data, err := RenderPreviewPNG(m, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write preview file: %w", err)
	}
	return nil
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCenteredText draws a string centered at (cx, cy).
func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	x := cx - advance.Round()/2
	drawText(img, face, s, x, cy, c)
}

// drawRect outlines r with a 1px border.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X - 1; x <= r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y-1, c)
		img.SetRGBA(x, r.Max.Y, c)
	}
	for y := r.Min.Y - 1; y <= r.Max.Y; y++ {
		img.SetRGBA(r.Min.X-1, y, c)
		img.SetRGBA(r.Max.X, y, c)
	}
}
