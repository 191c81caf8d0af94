package thermalcal

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"thermalcal/pkg/geotiff"
)

func utmProfile(w, h int) geotiff.Profile {
	return geotiff.Profile{
		Width:       w,
		Height:      h,
		Count:       1,
		DType:       geotiff.Float32,
		CRS:         "EPSG:32717",
		Transform:   geotiff.Affine{A: 0.1, C: 630000, E: -0.1, F: 9260000},
		BlockXSize:  w,
		BlockYSize:  h,
		Compression: geotiff.CompressionLZW,
		Predictor:   geotiff.PredictorNone,
		Interleave:  geotiff.InterleavePixel,
	}
}

func mustBand(t *testing.T, data []float32, p geotiff.Profile) *Band {
	t.Helper()
	b, err := NewBand(data, p)
	if err != nil {
		t.Fatalf("NewBand: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestCalibrateRoundTrip(t *testing.T) {
	p := utmProfile(3, 3)
	src, err := geotiff.EncodeBytes(p, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, geotiff.EncodeOptions{})
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}

	band, err := DecodeBand(src)
	if err != nil {
		t.Fatalf("DecodeBand: %v", err)
	}
	defer band.Close()

	out, err := Calibrate(band, Coefficients{A: 2, B: 1})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer out.Close()

	want := []float32{3, 5, 7, 9, 11, 13, 15, 17, 19}
	if diff := cmp.Diff(want, out.Data()); diff != "" {
		t.Fatalf("calibrated (-want +got):\n%s", diff)
	}

	encoded, err := out.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	back, err := geotiff.DecodeBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if diff := cmp.Diff(want, back.Data); diff != "" {
		t.Fatalf("re-decoded (-want +got):\n%s", diff)
	}
	if back.Profile.Transform != p.Transform || back.Profile.CRS != p.CRS {
		t.Fatalf("georeferencing changed: %v %q", back.Profile.Transform, back.Profile.CRS)
	}
	if back.Profile.Width != 3 || back.Profile.Height != 3 || back.Profile.DType != geotiff.Float32 {
		t.Fatalf("decoded profile %dx%d %s", back.Profile.Width, back.Profile.Height, back.Profile.DType)
	}
}

func TestCalibrateMatchesFormula(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const w, h = 31, 17
	data := make([]float32, w*h)
	for i := range data {
		data[i] = float32(rng.NormFloat64()*15 + 30)
	}
	band := mustBand(t, data, utmProfile(w, h))

	coeffs := []Coefficients{
		{A: 0.6341, B: 11.887},
		{A: -1.5, B: -273.15},
		{A: 0, B: 42},
		{A: 1e-3, B: 1e6},
	}
	for _, c := range coeffs {
		out, err := Calibrate(band, c)
		if err != nil {
			t.Fatalf("Calibrate(%v): %v", c, err)
		}
		got := out.Data()
		for i, x := range data {
			want := float32(float64(c.A*float64(x)) + c.B)
			if math.Float32bits(got[i]) != math.Float32bits(want) {
				t.Fatalf("%v: sample %d = %v, want %v", c, i, got[i], want)
			}
		}
		out.Close()
	}
}

func TestCalibrateIdentity(t *testing.T) {
	data := []float32{-12.5, 0, 3.25, 1e-7, 65535, float32(math.Inf(1))}
	band := mustBand(t, data, utmProfile(3, 2))
	out, err := Calibrate(band, Identity)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer out.Close()
	if diff := cmp.Diff(data, out.Data()); diff != "" {
		t.Fatalf("identity changed values (-want +got):\n%s", diff)
	}
}

func TestCalibratePreservesProfileExceptDataTypeAndMetadata(t *testing.T) {
	p := utmProfile(4, 2)
	p.DType = geotiff.Uint16
	p.NoData = 0
	p.HasNoData = true
	p.Metadata = `<GDALMetadata><Item name="STATISTICS_MAXIMUM" sample="0">4</Item><Item name="SCALE" sample="0" role="scale">0.01</Item></GDALMetadata>`
	band := mustBand(t, make([]float32, 8), p)

	out, err := Calibrate(band, Coefficients{A: 0.04, B: -273.15})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer out.Close()

	if out.Width() != 4 || out.Height() != 2 {
		t.Fatalf("shape = %dx%d, want 4x2", out.Width(), out.Height())
	}
	want := p
	want.DType = geotiff.Float32
	want.Metadata = ""
	if diff := cmp.Diff(want, out.Profile); diff != "" {
		t.Fatalf("profile (-want +got):\n%s", diff)
	}
	if band.Profile.DType != geotiff.Uint16 || band.Profile.Metadata != p.Metadata {
		t.Fatalf("source profile was modified")
	}

	enc, err := out.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	written, err := geotiff.DecodeBytes(enc)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if written.Profile.Metadata != "" {
		t.Fatalf("output carries source metadata %q", written.Profile.Metadata)
	}
}

func TestCalibrateParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const w, h = 257, 129
	data := make([]float32, w*h)
	for i := range data {
		data[i] = float32(rng.Float64()*80 - 20)
	}
	data[100] = float32(math.NaN())
	band := mustBand(t, data, utmProfile(w, h))
	c := Coefficients{A: 0.8746, B: 12.76}

	serial, err := CalibrateWithOptions(band, c, CalibrateOptions{Workers: 1})
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	defer serial.Close()

	for _, workers := range []int{2, 3, 8, 1000} {
		par, err := CalibrateWithOptions(band, c, CalibrateOptions{Workers: workers})
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		s, p := serial.Data(), par.Data()
		for i := range s {
			if math.Float32bits(s[i]) != math.Float32bits(p[i]) {
				t.Fatalf("workers=%d: sample %d differs: %v vs %v", workers, i, s[i], p[i])
			}
		}
		par.Close()
	}
}

func TestCalibrateNonFiniteIsNotAnError(t *testing.T) {
	p := utmProfile(2, 2)
	p.NoData = -3.4e38
	p.HasNoData = true
	data := []float32{-3.4e38, float32(math.NaN()), 20, float32(math.Inf(-1))}
	band := mustBand(t, data, p)

	out, err := Calibrate(band, Coefficients{A: 1e10, B: 0})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer out.Close()
	got := out.Data()
	if !math.IsInf(float64(got[0]), -1) || !math.IsNaN(float64(got[1])) || !math.IsInf(float64(got[3]), -1) {
		t.Fatalf("non-finite values not propagated: %v", got)
	}

	encoded, err := out.Bytes()
	if err != nil {
		t.Fatalf("encoding non-finite raster: %v", err)
	}
	back, err := geotiff.DecodeBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if diff := cmp.Diff(got, back.Data, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}

	s := out.Statistics()
	if s.Finite != 1 || s.NonFinite != 3 {
		t.Fatalf("stats = %v", s)
	}
}

func TestCalibratePreserveNoData(t *testing.T) {
	p := utmProfile(3, 1)
	p.NoData = -9999
	p.HasNoData = true
	band := mustBand(t, []float32{-9999, 10, 20}, p)

	out, err := CalibrateWithOptions(band, Coefficients{A: 2, B: 1}, CalibrateOptions{PreserveNoData: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer out.Close()
	if diff := cmp.Diff([]float32{-9999, 21, 41}, out.Data()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	plain, err := Calibrate(band, Coefficients{A: 2, B: 1})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer plain.Close()
	if plain.Data()[0] != -19997 {
		t.Fatalf("nodata should pass through the transform by default, got %v", plain.Data()[0])
	}
}

func TestCalibratePreservedNoDataSkippedInSummaries(t *testing.T) {
	const w, h = 10, 10
	p := utmProfile(w, h)
	p.NoData = -9999
	p.HasNoData = true
	data := make([]float32, w*h)
	for i := range data {
		data[i] = 20 + float32(i/w)
	}
	for i := 0; i < w; i++ {
		data[i] = -9999
	}
	band := mustBand(t, data, p)
	c := Coefficients{A: 2, B: 1}

	kept, err := CalibrateWithOptions(band, c, CalibrateOptions{PreserveNoData: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer kept.Close()

	lo, hi, ok := kept.DisplayRange()
	if !ok || lo < 41 || hi > 59 {
		t.Fatalf("display range = (%v, %v, %v), want within [41, 59]", lo, hi, ok)
	}
	st := kept.Statistics()
	if st.NoData != w || st.Min != 43 || st.Max != 59 {
		t.Fatalf("statistics = %+v", st)
	}
	opts := kept.PreviewOptions()
	if opts.NoData == nil || !opts.NoData(-9999) || opts.NoData(43) {
		t.Fatalf("calibrated preview does not mask preserved nodata")
	}

	// Without preservation the sentinel is transformed and is ordinary data.
	plain, err := Calibrate(band, c)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	defer plain.Close()
	if plain.PreviewOptions().NoData != nil {
		t.Fatalf("plain calibration should not mask samples")
	}
	if st := plain.Statistics(); st.NoData != 0 || st.Min != -19997 {
		t.Fatalf("plain statistics = %+v", st)
	}
}

func TestCalibrateInvalidInput(t *testing.T) {
	if _, err := Calibrate(nil, Identity); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil band: err = %v", err)
	}
	if _, err := Calibrate(&Band{Mat: NewMat()}, Identity); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty band: err = %v", err)
	}
	if _, err := NewBandFromRows(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("no rows: err = %v", err)
	}
	if _, err := NewBandFromRows([][]float32{{1, 2}, {3}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ragged rows: err = %v", err)
	}
	if _, err := NewBand([]float32{1, 2, 3}, utmProfile(2, 2)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short data: err = %v", err)
	}
}

func TestDecodeBandWrapsCodecErrors(t *testing.T) {
	_, err := DecodeBand([]byte("GIF89a definitely not a tiff"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if !errors.Is(err, geotiff.ErrFormat) {
		t.Fatalf("err = %v, want the codec error kept in the chain", err)
	}
	if _, err := ReadBand("testdata/does-not-exist.tif"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing file: err = %v", err)
	}
}

func TestNewBandFromRows(t *testing.T) {
	b, err := NewBandFromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("NewBandFromRows: %v", err)
	}
	defer b.Close()
	if b.Width() != 3 || b.Height() != 2 || b.At(1, 2) != 6 {
		t.Fatalf("band %dx%d, At(1,2)=%v", b.Width(), b.Height(), b.At(1, 2))
	}
}
