// Package thermalcal applies linear calibration to single-band thermal rasters.
//
// Coefficients come from a fixed (site, flight) table or are entered by hand;
// the calibrated band keeps the source georeferencing and is written back out
// as a float32 GeoTIFF.
package thermalcal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput reports an upload that cannot be decoded or a band that is
// not a well-formed 2D array.
var ErrInvalidInput = errors.New("invalid input")

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Coefficients are the gain A and offset B of output = A*pixel + B.
type Coefficients struct {
	A float64 `json:"a" yaml:"a"`
	B float64 `json:"b" yaml:"b"`
}

// Identity leaves pixel values unchanged.
var Identity = Coefficients{A: 1, B: 0}

// IsIdentity reports whether c is exactly (1, 0).
func (c Coefficients) IsIdentity() bool {
	return c == Identity
}

func (c Coefficients) String() string {
	return fmt.Sprintf("A=%g, B=%g", c.A, c.B)
}

// Site is a study zone name.
type Site string

const (
	SiteFerrenafe  Site = "Ferreñafe"
	SiteChongoyape Site = "Chongoyape"
)

// Mode selects how coefficients are obtained.
type Mode int

const (
	// ModeTable looks coefficients up by site and flight.
	ModeTable Mode = iota
	// ModeManual uses coefficients entered by the user.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeTable:
		return "table"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseMode accepts "table" or "manual".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return ModeTable, nil
	case "manual":
		return ModeManual, nil
	}
	return 0, fmt.Errorf("unknown calibration mode %q (want table or manual)", s)
}

// Selection holds the user's choices for one calibration request. Time only
// affects the output file name.
type Selection struct {
	Site   Site
	Flight int
	Time   FlightTime
}

// Resolution is the outcome of resolving coefficients for a selection.
type Resolution struct {
	Coefficients Coefficients
	Mode         Mode
	// Matched is false when table mode found no entry and fell back to Identity.
	Matched bool
	Site    Site
	Flight  int
}

// Notice returns an informational message when table mode fell back to the
// identity transform, and "" otherwise.
func (r Resolution) Notice() string {
	if r.Mode != ModeTable || r.Matched {
		return ""
	}
	return fmt.Sprintf("No calibration coefficients for %s flight %d; no calibration applied (A=1, B=0).", r.Site, r.Flight)
}

// Statistics summarises the finite samples of a band.
type Statistics struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	// Low and High are the 2nd and 98th percentiles used for previews.
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Finite    int     `json:"finite"`
	NonFinite int     `json:"nonFinite"`
	NoData    int     `json:"noData"`
}

func (s Statistics) String() string {
	return fmt.Sprintf("{Min=%f, Max=%f, Mean=%f, StdDev=%f, P2=%f, P98=%f, Finite=%d, NonFinite=%d, NoData=%d}",
		s.Min, s.Max, s.Mean, s.StdDev, s.Low, s.High, s.Finite, s.NonFinite, s.NoData)
}
