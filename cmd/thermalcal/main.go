package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thermalcal/pkg/geotiff"
	tc "thermalcal/pkg/thermalcal"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	mode       tc.Mode
	selection  tc.Selection
	manual     tc.Coefficients
	tablePath  string
	keepNoData bool
	workers    int
	outPath    string
	previewDir string
	input      string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("thermalcal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: thermalcal [flags] <input.tif>")
		fs.PrintDefaults()
	}
	mode := fs.String("mode", "table", "coefficient source: table or manual")
	site := fs.String("site", string(tc.SiteFerrenafe), "study zone (table mode)")
	flight := fs.Int("flight", 1, "flight number (table mode)")
	flightTime := fs.String("time", "", "flight time HH:MM[:SS], used in the output name (default: now)")
	a := fs.Float64("a", tc.Identity.A, "gain A (manual mode)")
	b := fs.Float64("b", tc.Identity.B, "offset B (manual mode)")
	table := fs.String("table", "", "coefficient table file (YAML or JSON)")
	keep := fs.Bool("keep-nodata", false, "write nodata pixels back unchanged")
	workers := fs.Int("workers", 0, "calibration workers (0 = automatic)")
	out := fs.String("out", "", "output GeoTIFF path (default: derived name next to the input)")
	previewDir := fs.String("preview-dir", "", "directory to write original.png and calibrated.png previews")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return options{}, fmt.Errorf("expected exactly one input file, got %d", fs.NArg())
	}

	opts := options{
		selection:  tc.Selection{Site: tc.Site(*site), Flight: *flight, Time: tc.FlightTimeOf(time.Now())},
		manual:     tc.Coefficients{A: *a, B: *b},
		tablePath:  *table,
		keepNoData: *keep,
		workers:    *workers,
		outPath:    *out,
		previewDir: *previewDir,
		input:      fs.Arg(0),
	}
	var err error
	if opts.mode, err = tc.ParseMode(*mode); err != nil {
		return options{}, err
	}
	if *flightTime != "" {
		if opts.selection.Time, err = tc.ParseFlightTime(*flightTime); err != nil {
			return options{}, err
		}
	}
	if opts.outPath == "" {
		opts.outPath = filepath.Join(filepath.Dir(opts.input), tc.OutputFileName(opts.mode, opts.selection))
	}
	return opts, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	var table *tc.CoefficientTable
	if opts.tablePath != "" {
		if table, err = tc.LoadCoefficientTable(opts.tablePath); err != nil {
			return err
		}
	}
	resolver, err := tc.NewResolver(opts.mode, table, opts.manual)
	if err != nil {
		return err
	}
	res := resolver.Resolve(opts.selection)

	fmt.Fprintf(stdout, "Loading: %s\n", opts.input)
	startTime := time.Now()
	band, err := loadBand(opts.input)
	if err != nil {
		return err
	}
	defer band.Close()

	out, err := tc.CalibrateWithOptions(band, res.Coefficients, tc.CalibrateOptions{
		Workers:        opts.workers,
		PreserveNoData: opts.keepNoData,
	})
	if err != nil {
		return fmt.Errorf("calibrating: %w", err)
	}
	defer out.Close()

	if err := out.WriteFile(opts.outPath); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	elapsed := time.Since(startTime)

	if notice := res.Notice(); notice != "" {
		fmt.Fprintln(stdout, notice)
	}

	src, cal := band.Statistics(), out.Statistics()
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "=== Calibration Results (%.1fs) ===\n", elapsed.Seconds())
	fmt.Fprintf(stdout, "  Image size:      %d x %d\n", band.Width(), band.Height())
	if crs := band.Profile.CRS; crs != "" {
		fmt.Fprintf(stdout, "  CRS:             %s\n", crs)
	}
	fmt.Fprintf(stdout, "  Mode:            %s\n", describeMode(res))
	fmt.Fprintf(stdout, "  Coefficients:    %s\n", res.Coefficients)
	printStats(stdout, "Original", src)
	printStats(stdout, "Calibrated", cal)
	fmt.Fprintf(stdout, "  Output:          %s\n", opts.outPath)

	if opts.previewDir != "" {
		if err := os.MkdirAll(opts.previewDir, 0o755); err != nil {
			return fmt.Errorf("creating preview directory: %w", err)
		}
		origPath := filepath.Join(opts.previewDir, "original.png")
		if err := tc.WritePreviewPNG(band.Mat, band.PreviewOptions(), origPath); err != nil {
			return err
		}
		calPath := filepath.Join(opts.previewDir, "calibrated.png")
		if err := tc.WritePreviewPNG(out.Mat, out.PreviewOptions(), calPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "  Previews:        %s, %s\n", origPath, calPath)
	}
	fmt.Fprintln(stdout, "==============================")
	return nil
}

func describeMode(res tc.Resolution) string {
	if res.Mode == tc.ModeManual {
		return "manual"
	}
	s := fmt.Sprintf("table (%s, flight %d)", res.Site, res.Flight)
	if !res.Matched {
		s += " [NO MATCH - IDENTITY]"
	}
	return s
}

func printStats(w io.Writer, label string, s tc.Statistics) {
	if s.Finite == 0 {
		fmt.Fprintf(w, "  %-16s no finite pixels (non-finite=%d, nodata=%d)\n", label+":", s.NonFinite, s.NoData)
		return
	}
	fmt.Fprintf(w, "  %-16s min=%.3f  max=%.3f  mean=%.3f +/- %.3f\n", label+":", s.Min, s.Max, s.Mean, s.StdDev)
	fmt.Fprintf(w, "  %-16s %.3f .. %.3f (P%d-P%d)  non-finite=%d  nodata=%d\n", "", s.Low, s.High,
		tc.DisplayLowPercentile, tc.DisplayHighPercentile, s.NonFinite, s.NoData)
}

// loadBand reads a GeoTIFF, or any other single-channel image the backend
// can decode as an ungeoreferenced band.
func loadBand(path string) (*tc.Band, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff") {
		band, err := tc.ReadBand(path)
		if err != nil {
			return nil, fmt.Errorf("reading GeoTIFF: %w", err)
		}
		return band, nil
	}
	return loadImageBand(path)
}

// plainProfile describes an ungeoreferenced single-band image.
func plainProfile(w, h int, dtype geotiff.DataType) geotiff.Profile {
	return geotiff.Profile{
		Width:       w,
		Height:      h,
		Count:       1,
		DType:       dtype,
		Transform:   geotiff.IdentityAffine,
		Compression: geotiff.CompressionLZW,
		Predictor:   geotiff.PredictorNone,
		Interleave:  geotiff.InterleavePixel,
	}
}
