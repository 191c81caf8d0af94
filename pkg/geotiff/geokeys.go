package geotiff

import (
	"fmt"
	"strconv"
	"strings"
)

// crsFromGeoKeys derives an "EPSG:n" string from a GeoKey directory. The
// projected code wins over the geographic one unless the model type says
// otherwise.
func crsFromGeoKeys(dir []uint16) string {
	if len(dir) < geoKeyDirectoryHeaderLen {
		return ""
	}
	n := int(dir[3])
	var modelType, projected, geographic uint16
	for i := 0; i < n; i++ {
		base := geoKeyDirectoryHeaderLen + i*4
		if base+4 > len(dir) {
			break
		}
		key, loc, value := dir[base], dir[base+1], dir[base+3]
		if loc != 0 {
			// Value lives in GeoDoubleParams or GeoASCIIParams; codes are always inline.
			continue
		}
		switch key {
		case geoKeyModelType:
			modelType = value
		case geoKeyProjectedCSType:
			projected = value
		case geoKeyGeographicType:
			geographic = value
		}
	}

	valid := func(code uint16) bool { return code != 0 && code != geoKeyUserDefined }
	switch {
	case modelType == modelTypeGeographic && valid(geographic):
		return fmt.Sprintf("EPSG:%d", geographic)
	case valid(projected):
		return fmt.Sprintf("EPSG:%d", projected)
	case valid(geographic):
		return fmt.Sprintf("EPSG:%d", geographic)
	}
	return ""
}

// parseEPSG extracts the numeric code from "EPSG:n".
func parseEPSG(crs string) (uint16, bool) {
	s := strings.TrimSpace(crs)
	if len(s) < 6 || !strings.EqualFold(s[:5], "EPSG:") {
		return 0, false
	}
	code, err := strconv.ParseUint(s[5:], 10, 16)
	if err != nil || code == 0 {
		return 0, false
	}
	return uint16(code), true
}

// geoKeysForCRS builds a minimal GeoKey directory for an EPSG code. Codes in
// the 4000 range are treated as geographic systems.
func geoKeysForCRS(crs string) []uint16 {
	code, ok := parseEPSG(crs)
	if !ok {
		return nil
	}
	modelType, codeKey := uint16(modelTypeProjected), uint16(geoKeyProjectedCSType)
	if code >= 4000 && code < 5000 {
		modelType, codeKey = modelTypeGeographic, geoKeyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelType,
		geoKeyRasterType, 0, 1, rasterPixelIsArea,
		codeKey, 0, 1, code,
	}
}
