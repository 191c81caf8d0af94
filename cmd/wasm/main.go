//go:build js && wasm

package main

import (
	"syscall/js"
	"time"

	tc "thermalcal/pkg/thermalcal"
)

func main() {
	js.Global().Set("calibrateGeoTIFF", js.FuncOf(calibrateGeoTIFF))
	js.Global().Set("coefficientTable", js.FuncOf(coefficientTable))
	select {} // block forever
}

// calibrateGeoTIFF(fileBytes, options) calibrates band 1 of a GeoTIFF.
// options: {mode, site, flight, time, a, b, keepNoData, previews}.
func calibrateGeoTIFF(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: calibrateGeoTIFF(fileBytes, options)")
	}

	jsBytes := args[0]
	length := jsBytes.Get("length").Int()
	fileBytes := make([]byte, length)
	js.CopyBytesToGo(fileBytes, jsBytes)

	var opts js.Value
	if len(args) >= 2 && args[1].Type() == js.TypeObject {
		opts = args[1]
	}

	mode, err := tc.ParseMode(stringOption(opts, "mode", "table"))
	if err != nil {
		return errorResult(err.Error())
	}
	sel := tc.Selection{
		Site:   tc.Site(stringOption(opts, "site", string(tc.SiteFerrenafe))),
		Flight: intOption(opts, "flight", 1),
		Time:   tc.FlightTimeOf(time.Now()),
	}
	if raw := stringOption(opts, "time", ""); raw != "" {
		if sel.Time, err = tc.ParseFlightTime(raw); err != nil {
			return errorResult(err.Error())
		}
	}
	manual := tc.Coefficients{
		A: floatOption(opts, "a", tc.Identity.A),
		B: floatOption(opts, "b", tc.Identity.B),
	}

	resolver, err := tc.NewResolver(mode, nil, manual)
	if err != nil {
		return errorResult(err.Error())
	}
	res := resolver.Resolve(sel)

	band, err := tc.DecodeBand(fileBytes)
	if err != nil {
		return errorResult("GeoTIFF parse error: " + err.Error())
	}
	defer band.Close()

	out, err := tc.CalibrateWithOptions(band, res.Coefficients, tc.CalibrateOptions{
		PreserveNoData: boolOption(opts, "keepNoData", false),
	})
	if err != nil {
		return errorResult("Calibration error: " + err.Error())
	}
	defer out.Close()

	encoded, err := out.Bytes()
	if err != nil {
		return errorResult("Encode error: " + err.Error())
	}

	original := statsResult(band.Statistics())
	calibrated := statsResult(out.Statistics())
	if boolOption(opts, "previews", true) {
		png, err := tc.RenderPreviewPNG(band.Mat, band.PreviewOptions())
		if err != nil {
			return errorResult("Preview error: " + err.Error())
		}
		original["preview"] = toUint8Array(png)

		png, err = tc.RenderPreviewPNG(out.Mat, out.PreviewOptions())
		if err != nil {
			return errorResult("Preview error: " + err.Error())
		}
		calibrated["preview"] = toUint8Array(png)
	}

	return js.ValueOf(map[string]interface{}{
		"fileName": tc.OutputFileName(mode, sel),
		"mode":     res.Mode.String(),
		"coefficients": map[string]interface{}{
			"a": res.Coefficients.A,
			"b": res.Coefficients.B,
		},
		"matched":    res.Matched,
		"notice":     res.Notice(),
		"width":      band.Width(),
		"height":     band.Height(),
		"crs":        band.Profile.CRS,
		"original":   original,
		"calibrated": calibrated,
		"output":     toUint8Array(encoded),
	})
}

// coefficientTable() lists the built-in (site, flight) coefficients.
func coefficientTable(this js.Value, args []js.Value) interface{} {
	entries := tc.DefaultCoefficientTable().Entries()
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{
			"site":   string(e.Site),
			"flight": e.Flight,
			"a":      e.A,
			"b":      e.B,
		}
	}
	return js.ValueOf(out)
}

func statsResult(s tc.Statistics) map[string]interface{} {
	return map[string]interface{}{
		"min":       s.Min,
		"max":       s.Max,
		"mean":      s.Mean,
		"stddev":    s.StdDev,
		"low":       s.Low,
		"high":      s.High,
		"finite":    s.Finite,
		"nonFinite": s.NonFinite,
		"noData":    s.NoData,
	}
}

func toUint8Array(b []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(arr, b)
	return arr
}

func stringOption(opts js.Value, key, def string) string {
	if opts.IsUndefined() || opts.IsNull() {
		return def
	}
	v := opts.Get(key)
	switch v.Type() {
	case js.TypeString:
		return v.String()
	case js.TypeNumber:
		return js.Global().Get("String").Invoke(v).String()
	}
	return def
}

func intOption(opts js.Value, key string, def int) int {
	if opts.IsUndefined() || opts.IsNull() {
		return def
	}
	if v := opts.Get(key); v.Type() == js.TypeNumber {
		return v.Int()
	}
	return def
}

func floatOption(opts js.Value, key string, def float64) float64 {
	if opts.IsUndefined() || opts.IsNull() {
		return def
	}
	if v := opts.Get(key); v.Type() == js.TypeNumber {
		return v.Float()
	}
	return def
}

func boolOption(opts js.Value, key string, def bool) bool {
	if opts.IsUndefined() || opts.IsNull() {
		return def
	}
	if v := opts.Get(key); v.Type() == js.TypeBoolean {
		return v.Bool()
	}
	return def
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
