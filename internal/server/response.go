package server

import (
	"encoding/json"
	"math"
	"net/http"

	"thermalcal/pkg/thermalcal"
)

type coefficientsResponse struct {
	Sites   []thermalcal.Site       `json:"sites"`
	Entries []thermalcal.TableEntry `json:"entries"`
}

// rangeJSON is a display range; it is omitted (null) when the band has no
// finite samples.
type rangeJSON struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// statsJSON mirrors thermalcal.Statistics with NaN fields as null, since JSON
// cannot carry NaN.
type statsJSON struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Mean      *float64 `json:"mean"`
	StdDev    *float64 `json:"stddev"`
	Finite    int      `json:"finite"`
	NonFinite int      `json:"nonFinite"`
	NoData    int      `json:"noData"`
}

// coefficientsJSON carries manual coefficients, which may be NaN or Inf, as
// null when they are not finite.
type coefficientsJSON struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

type rasterSummary struct {
	Range      *rangeJSON `json:"range"`
	Stats      statsJSON  `json:"stats"`
	PreviewPNG []byte     `json:"previewPng"`
}

type previewResponse struct {
	FileName     string                  `json:"fileName"`
	Mode         string                  `json:"mode"`
	Coefficients coefficientsJSON        `json:"coefficients"`
	Matched      bool                    `json:"matched"`
	Notice       string                  `json:"notice,omitempty"`
	Width        int                     `json:"width"`
	Height       int                     `json:"height"`
	CRS          string                  `json:"crs,omitempty"`
	Original     rasterSummary           `json:"original"`
	Calibrated   rasterSummary           `json:"calibrated"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toCoefficientsJSON(c thermalcal.Coefficients) coefficientsJSON {
	return coefficientsJSON{A: finiteOrNil(c.A), B: finiteOrNil(c.B)}
}

func toStatsJSON(s thermalcal.Statistics) statsJSON {
	return statsJSON{
		Min:       finiteOrNil(s.Min),
		Max:       finiteOrNil(s.Max),
		Mean:      finiteOrNil(s.Mean),
		StdDev:    finiteOrNil(s.StdDev),
		Finite:    s.Finite,
		NonFinite: s.NonFinite,
		NoData:    s.NoData,
	}
}

func toRangeJSON(lo, hi float64, ok bool) *rangeJSON {
	if !ok {
		return nil
	}
	return &rangeJSON{Low: lo, High: hi}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
