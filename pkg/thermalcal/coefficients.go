package thermalcal

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// TableEntry is one row of a coefficient table.
type TableEntry struct {
	Site   Site    `json:"site" yaml:"site"`
	Flight int     `json:"flight" yaml:"flight"`
	A      float64 `json:"a" yaml:"a"`
	B      float64 `json:"b" yaml:"b"`
}

type tableKey struct {
	site   Site
	flight int
}

// CoefficientTable maps (site, flight) to coefficients. It is immutable after
// construction and safe for concurrent use.
type CoefficientTable struct {
	entries map[tableKey]Coefficients
	order   []TableEntry
}

// NewCoefficientTable builds a table, rejecting duplicate (site, flight) keys.
// Site names are compared after NFC normalisation.
func NewCoefficientTable(entries []TableEntry) (*CoefficientTable, error) {
	t := &CoefficientTable{
		entries: make(map[tableKey]Coefficients, len(entries)),
		order:   make([]TableEntry, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Site == "" {
			return nil, fmt.Errorf("coefficient table entry for flight %d has no site", e.Flight)
		}
		e.Site = normalizeSite(e.Site)
		k := tableKey{site: e.Site, flight: e.Flight}
		if _, dup := t.entries[k]; dup {
			return nil, fmt.Errorf("duplicate coefficient table entry for %s flight %d", e.Site, e.Flight)
		}
		t.entries[k] = Coefficients{A: e.A, B: e.B}
		t.order = append(t.order, e)
	}
	sort.SliceStable(t.order, func(i, j int) bool {
		if t.order[i].Site != t.order[j].Site {
			return t.order[i].Site < t.order[j].Site
		}
		return t.order[i].Flight < t.order[j].Flight
	})
	return t, nil
}

func normalizeSite(s Site) Site {
	return Site(norm.NFC.String(string(s)))
}

// Lookup returns the coefficients for an exact (site, flight) match.
func (t *CoefficientTable) Lookup(site Site, flight int) (Coefficients, bool) {
	if t == nil {
		return Identity, false
	}
	c, ok := t.entries[tableKey{site: normalizeSite(site), flight: flight}]
	if !ok {
		return Identity, false
	}
	return c, true
}

// Resolve returns the table coefficients for (site, flight), or Identity when
// the combination is unknown. It never fails.
func (t *CoefficientTable) Resolve(site Site, flight int) Coefficients {
	c, _ := t.Lookup(site, flight)
	return c
}

// Len is the number of entries.
func (t *CoefficientTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Entries returns a copy of the table sorted by site then flight.
func (t *CoefficientTable) Entries() []TableEntry {
	if t == nil {
		return nil
	}
	out := make([]TableEntry, len(t.order))
	copy(out, t.order)
	return out
}

// Sites lists the distinct sites in table order.
func (t *CoefficientTable) Sites() []Site {
	var sites []Site
	for _, e := range t.Entries() {
		if len(sites) == 0 || sites[len(sites)-1] != e.Site {
			sites = append(sites, e.Site)
		}
	}
	return sites
}

// Flights lists the flights known for a site in ascending order.
func (t *CoefficientTable) Flights(site Site) []int {
	site = normalizeSite(site)
	var flights []int
	for _, e := range t.Entries() {
		if e.Site == site {
			flights = append(flights, e.Flight)
		}
	}
	return flights
}

var defaultTable = mustTable([]TableEntry{
	{Site: SiteFerrenafe, Flight: 1, A: 0.6341, B: 11.887},
	{Site: SiteFerrenafe, Flight: 2, A: 0.8746, B: 12.76},
	{Site: SiteFerrenafe, Flight: 3, A: 0.7291, B: 10.592},
	{Site: SiteFerrenafe, Flight: 4, A: 0.7134, B: 11.998},
	{Site: SiteFerrenafe, Flight: 5, A: 0.7134, B: 11.998},
	{Site: SiteChongoyape, Flight: 1, A: 1.03, B: 0.4},
	{Site: SiteChongoyape, Flight: 2, A: 0.99, B: 0.8},
	{Site: SiteChongoyape, Flight: 3, A: 1.00, B: 0.0},
	{Site: SiteChongoyape, Flight: 4, A: 1.01, B: -0.3},
	{Site: SiteChongoyape, Flight: 5, A: 0.96, B: 0.9},
})

func mustTable(entries []TableEntry) *CoefficientTable {
	t, err := NewCoefficientTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultCoefficientTable returns the built-in field campaign table.
func DefaultCoefficientTable() *CoefficientTable {
	return defaultTable
}

// Resolve looks (site, flight) up in the default table, returning Identity
// for unknown combinations.
func Resolve(site Site, flight int) Coefficients {
	return defaultTable.Resolve(site, flight)
}

type tableFile struct {
	Entries []TableEntry `yaml:"entries"`
}

// ParseCoefficientTable reads a table from YAML or JSON of the form
// {"entries": [{"site": ..., "flight": ..., "a": ..., "b": ...}]}.
func ParseCoefficientTable(data []byte) (*CoefficientTable, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing coefficient table: %w", err)
	}
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("coefficient table has no entries")
	}
	return NewCoefficientTable(f.Entries)
}

// LoadCoefficientTable reads a YAML or JSON table file.
func LoadCoefficientTable(path string) (*CoefficientTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coefficient table: %w", err)
	}
	return ParseCoefficientTable(data)
}

// Resolver produces coefficients for a selection.
type Resolver interface {
	Resolve(sel Selection) Resolution
}

// TableResolver looks coefficients up in a table and falls back to Identity.
type TableResolver struct {
	Table *CoefficientTable
}

func (r TableResolver) Resolve(sel Selection) Resolution {
	table := r.Table
	if table == nil {
		table = defaultTable
	}
	c, ok := table.Lookup(sel.Site, sel.Flight)
	return Resolution{Coefficients: c, Mode: ModeTable, Matched: ok, Site: sel.Site, Flight: sel.Flight}
}

// ManualResolver returns the user's coefficients verbatim.
type ManualResolver struct {
	Coefficients Coefficients
}

func (r ManualResolver) Resolve(sel Selection) Resolution {
	return Resolution{Coefficients: r.Coefficients, Mode: ModeManual, Matched: true, Site: sel.Site, Flight: sel.Flight}
}

// NewResolver picks the strategy for mode. A nil table means the default one.
func NewResolver(mode Mode, table *CoefficientTable, manual Coefficients) (Resolver, error) {
	switch mode {
	case ModeTable:
		if table == nil {
			table = defaultTable
		}
		return TableResolver{Table: table}, nil
	case ModeManual:
		return ManualResolver{Coefficients: manual}, nil
	}
	return nil, fmt.Errorf("unknown calibration mode %d", int(mode))
}
