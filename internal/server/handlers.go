package server

import (
	"embed"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"thermalcal/internal/logging"
	"thermalcal/pkg/thermalcal"
)

const (
	headerRequestID    = "X-Request-ID"
	headerNotice       = "X-Thermalcal-Notice"
	headerCoefficients = "X-Thermalcal-Coefficients"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexData struct {
	Sites       []thermalcal.Site
	Flights     []int
	MaxUploadMB int64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) error {
	data := indexData{
		Sites:       s.table.Sites(),
		MaxUploadMB: s.maxUploadBytes >> 20,
	}
	seen := map[int]bool{}
	for _, site := range data.Sites {
		for _, f := range s.table.Flights(site) {
			if !seen[f] {
				seen[f] = true
				data.Flights = append(data.Flights, f)
			}
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return indexTemplate.Execute(w, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCoefficients(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, coefficientsResponse{
		Sites:   s.table.Sites(),
		Entries: s.table.Entries(),
	})
}

// handlePreview calibrates an upload and returns both previews, display
// ranges and statistics as JSON.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) error {
	defer removeForm(r)
	req, err := s.parseCalibrationRequest(w, r)
	if err != nil {
		return err
	}
	defer req.Close()

	ctx := r.Context()
	c, err := s.runCalibration(ctx, req)
	if err != nil {
		return err
	}
	defer c.Close()

	original, calibrated, err := s.previews(ctx, c)
	if err != nil {
		return err
	}

	res := c.resolution
	resp := previewResponse{
		FileName:     c.fileName,
		Mode:         res.Mode.String(),
		Coefficients: toCoefficientsJSON(res.Coefficients),
		Matched:      res.Matched,
		Notice:       res.Notice(),
		Width:        c.source.Width(),
		Height:       c.source.Height(),
		CRS:          c.source.Profile.CRS,
		Original: rasterSummary{
			Range:      toRangeJSON(c.source.DisplayRange()),
			Stats:      toStatsJSON(c.source.Statistics()),
			PreviewPNG: original,
		},
		Calibrated: rasterSummary{
			Range:      toRangeJSON(c.calibrated.DisplayRange()),
			Stats:      toStatsJSON(c.calibrated.Statistics()),
			PreviewPNG: calibrated,
		},
	}
	return writeJSON(w, http.StatusOK, resp)
}

// handleCalibrate returns the calibrated GeoTIFF as a download.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) error {
	defer removeForm(r)
	req, err := s.parseCalibrationRequest(w, r)
	if err != nil {
		return err
	}
	defer req.Close()

	ctx := r.Context()
	c, err := s.runCalibration(ctx, req)
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := s.encode(ctx, c)
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "image/tiff")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": c.fileName}))
	h.Set(headerCoefficients, c.resolution.Coefficients.String())
	if notice := c.resolution.Notice(); notice != "" {
		// Header values are read as Latin-1; site names are not.
		h.Set(headerNotice, url.PathEscape(notice))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(ctx).Warn(ctx, "writing download failed", logging.Err(err))
	}
	return nil
}

// removeForm deletes temporary files left by a parsed multipart form.
func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
