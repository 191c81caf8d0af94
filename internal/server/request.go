package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"thermalcal/pkg/thermalcal"
)

// Multipart form field names.
const (
	fieldFile       = "file"
	fieldMode       = "mode"
	fieldSite       = "site"
	fieldFlight     = "flight"
	fieldTime       = "time"
	fieldA          = "a"
	fieldB          = "b"
	fieldKeepNoData = "keep_nodata"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to a temporary file.
const multipartMemory = 32 << 20

// calibrationRequest is a parsed upload plus the user's selections.
type calibrationRequest struct {
	file     multipart.File
	fileName string
	size     int64

	mode       thermalcal.Mode
	selection  thermalcal.Selection
	manual     thermalcal.Coefficients
	keepNoData bool
}

func (r *calibrationRequest) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// parseCalibrationRequest reads the multipart form. The caller must Close the
// request and remove the form's temporary files.
func (s *Server) parseCalibrationRequest(w http.ResponseWriter, r *http.Request) (*calibrationRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, StatusError{Code: http.StatusRequestEntityTooLarge, Err: err}
		}
		return nil, badRequest("parsing upload: %v", err)
	}

	mode, err := thermalcal.ParseMode(r.FormValue(fieldMode))
	if err != nil {
		return nil, makeBadRequestError(err)
	}

	req := &calibrationRequest{
		mode:   mode,
		manual: thermalcal.Identity,
		selection: thermalcal.Selection{
			Site: thermalcal.Site(strings.TrimSpace(r.FormValue(fieldSite))),
			Time: thermalcal.FlightTimeOf(s.now()),
		},
	}

	if raw := strings.TrimSpace(r.FormValue(fieldFlight)); raw != "" {
		if req.selection.Flight, err = strconv.Atoi(raw); err != nil {
			return nil, badRequest("flight must be an integer, got %q", raw)
		}
	} else if mode == thermalcal.ModeTable {
		return nil, badRequest("flight is required in table mode")
	}

	if raw := r.FormValue(fieldTime); strings.TrimSpace(raw) != "" {
		if req.selection.Time, err = thermalcal.ParseFlightTime(raw); err != nil {
			return nil, makeBadRequestError(err)
		}
	}

	if mode == thermalcal.ModeManual {
		if req.manual.A, err = formFloat(r, fieldA, thermalcal.Identity.A); err != nil {
			return nil, err
		}
		if req.manual.B, err = formFloat(r, fieldB, thermalcal.Identity.B); err != nil {
			return nil, err
		}
	}

	req.keepNoData = s.preserveNoData
	if raw := strings.TrimSpace(r.FormValue(fieldKeepNoData)); raw != "" {
		if req.keepNoData, err = strconv.ParseBool(raw); err != nil {
			return nil, badRequest("%s must be a boolean, got %q", fieldKeepNoData, raw)
		}
	}

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		return nil, badRequest("missing %q upload: %v", fieldFile, err)
	}
	req.file = file
	req.fileName = header.Filename
	req.size = header.Size
	return req, nil
}

func formFloat(r *http.Request, field string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return def, nil
	}
	// NaN and Inf are accepted; they propagate into the calibrated raster.
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, badRequest("%s must be a number, got %q", field, raw)
	}
	return v, nil
}
