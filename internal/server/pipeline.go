package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"thermalcal/internal/logging"
	"thermalcal/internal/observability"
	"thermalcal/pkg/geotiff"
	"thermalcal/pkg/thermalcal"
)

// calibration is the outcome of running an upload through the pipeline.
type calibration struct {
	resolution thermalcal.Resolution
	source     *thermalcal.Band
	calibrated *thermalcal.CalibratedRaster
	fileName   string
}

func (c *calibration) Close() {
	if c.source != nil {
		c.source.Close()
	}
	if c.calibrated != nil {
		c.calibrated.Close()
	}
}

// runCalibration decodes the upload, resolves coefficients and applies them.
func (s *Server) runCalibration(ctx context.Context, req *calibrationRequest) (*calibration, error) {
	log := logging.FromContext(ctx)
	s.metrics.ObserveUpload(req.size)

	resolver, err := thermalcal.NewResolver(req.mode, s.table, req.manual)
	if err != nil {
		return nil, makeBadRequestError(err)
	}
	res := resolver.Resolve(req.selection)
	if notice := res.Notice(); notice != "" {
		log.Info(ctx, "no coefficients for selection",
			logging.String("site", string(res.Site)), logging.Int("flight", res.Flight))
	}

	_, span := observability.StartSpan(ctx, "decode", attribute.Int64("upload.bytes", req.size))
	source, err := thermalcal.DecodeBandAtWithOptions(req.file, req.size, s.decodeOptions())
	if err != nil {
		observability.EndSpan(span, err)
		if errors.Is(err, thermalcal.ErrInvalidInput) {
			return nil, makeBadRequestError(err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("raster.width", source.Width()), attribute.Int("raster.height", source.Height()))
	observability.EndSpan(span, nil)

	_, span = observability.StartSpan(ctx, "calibrate",
		attribute.String("calibration.mode", res.Mode.String()),
		attribute.Float64("calibration.a", res.Coefficients.A),
		attribute.Float64("calibration.b", res.Coefficients.B),
		attribute.Bool("calibration.matched", res.Matched),
	)
	out, err := thermalcal.CalibrateWithOptions(source, res.Coefficients, thermalcal.CalibrateOptions{
		Workers:        s.workers,
		PreserveNoData: req.keepNoData,
	})
	if err != nil {
		observability.EndSpan(span, err)
		source.Close()
		return nil, makeBadRequestError(err)
	}
	stats := out.Statistics()
	span.SetAttributes(attribute.Int("raster.nonfinite", stats.NonFinite))
	observability.EndSpan(span, nil)

	s.metrics.ObserveCalibration(res.Mode.String(), source.Width()*source.Height(), stats.NonFinite, res.Matched)
	log.Info(ctx, "calibrated raster",
		logging.String("upload", req.fileName),
		logging.String("mode", res.Mode.String()),
		logging.Float64("a", res.Coefficients.A),
		logging.Float64("b", res.Coefficients.B),
		logging.Int("width", source.Width()),
		logging.Int("height", source.Height()),
		logging.Int("nonfinite", stats.NonFinite),
	)

	return &calibration{
		resolution: res,
		source:     source,
		calibrated: out,
		fileName:   thermalcal.OutputFileName(req.mode, req.selection),
	}, nil
}

// decodeOptions allows one decoded pixel per permitted upload byte, so a small
// crafted header cannot claim more memory than the upload limit implies.
func (s *Server) decodeOptions() geotiff.DecodeOptions {
	return geotiff.DecodeOptions{MaxPixels: s.maxUploadBytes}
}

// encode writes the calibrated raster as GeoTIFF bytes.
func (s *Server) encode(ctx context.Context, c *calibration) (data []byte, err error) {
	_, span := observability.StartSpan(ctx, "encode")
	defer func() { observability.EndSpan(span, err) }()
	if data, err = c.calibrated.Bytes(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("output.bytes", len(data)))
	return data, nil
}

// previews renders the original and calibrated previews as PNG bytes.
func (s *Server) previews(ctx context.Context, c *calibration) (original, calibrated []byte, err error) {
	_, span := observability.StartSpan(ctx, "preview")
	defer func() { observability.EndSpan(span, err) }()

	if original, err = thermalcal.RenderPreviewPNG(c.source.Mat, c.source.PreviewOptions()); err != nil {
		return nil, nil, err
	}
	if calibrated, err = thermalcal.RenderPreviewPNG(c.calibrated.Mat, c.calibrated.PreviewOptions()); err != nil {
		return nil, nil, err
	}
	return original, calibrated, nil
}
