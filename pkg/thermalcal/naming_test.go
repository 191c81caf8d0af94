package thermalcal

import (
	"testing"
	"time"
)

func TestOutputFileName(t *testing.T) {
	ft, err := ParseFlightTime("14:05")
	if err != nil {
		t.Fatalf("ParseFlightTime: %v", err)
	}
	sel := Selection{Site: SiteFerrenafe, Flight: 3, Time: ft}
	if got, want := OutputFileName(ModeTable, sel), "Ferreñafe_V3_14:05:00_calibrated.tif"; got != want {
		t.Fatalf("table name = %q, want %q", got, want)
	}
	if got := OutputFileName(ModeManual, sel); got != ManualFileName {
		t.Fatalf("manual name = %q, want %q", got, ManualFileName)
	}
}

func TestParseFlightTime(t *testing.T) {
	cases := map[string]FlightTime{
		"00:00":    {},
		"9:30":     {Hour: 9, Minute: 30},
		"23:59:58": {Hour: 23, Minute: 59, Second: 58},
		" 12:00 ":  {Hour: 12},
	}
	for in, want := range cases {
		got, err := ParseFlightTime(in)
		if err != nil || got != want {
			t.Errorf("ParseFlightTime(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "25:00", "noon", "12:61"} {
		if _, err := ParseFlightTime(bad); err == nil {
			t.Errorf("ParseFlightTime(%q) succeeded", bad)
		}
	}
	if got := FlightTimeOf(time.Date(2024, 5, 1, 7, 8, 9, 0, time.UTC)).String(); got != "07:08:09" {
		t.Errorf("FlightTimeOf = %q", got)
	}
}
