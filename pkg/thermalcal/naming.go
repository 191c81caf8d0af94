package thermalcal

import (
	"fmt"
	"strings"
	"time"
)

// ManualFileName is the download name used in manual mode.
const ManualFileName = "calibrated_image.tif"

// FlightTime is a 24-hour time of day.
type FlightTime struct {
	Hour, Minute, Second int
}

// ParseFlightTime accepts "HH:MM" or "HH:MM:SS".
func ParseFlightTime(s string) (FlightTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return FlightTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return FlightTime{}, fmt.Errorf("invalid flight time %q (want HH:MM or HH:MM:SS)", s)
}

// FlightTimeOf takes the time of day from t.
func FlightTimeOf(t time.Time) FlightTime {
	return FlightTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (t FlightTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// OutputFileName names the calibrated download: "<site>_V<flight>_<HH:MM:SS>_calibrated.tif"
// in table mode and ManualFileName in manual mode.
func OutputFileName(mode Mode, sel Selection) string {
	if mode == ModeManual {
		return ManualFileName
	}
	return fmt.Sprintf("%s_V%d_%s_calibrated.tif", sel.Site, sel.Flight, sel.Time)
}
