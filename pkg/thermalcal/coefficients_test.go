package thermalcal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveDefaultTable(t *testing.T) {
	cases := []struct {
		site   Site
		flight int
		want   Coefficients
	}{
		{SiteFerrenafe, 1, Coefficients{A: 0.6341, B: 11.887}},
		{SiteFerrenafe, 2, Coefficients{A: 0.8746, B: 12.76}},
		{SiteFerrenafe, 5, Coefficients{A: 0.7134, B: 11.998}},
		{SiteChongoyape, 3, Coefficients{A: 1.00, B: 0.0}},
		{SiteChongoyape, 4, Coefficients{A: 1.01, B: -0.3}},
		{SiteFerrenafe, 6, Identity},
		{SiteChongoyape, 0, Identity},
		{"Lambayeque", 1, Identity},
		{"", -3, Identity},
	}
	for _, c := range cases {
		if got := Resolve(c.site, c.flight); got != c.want {
			t.Errorf("Resolve(%q, %d) = %v, want %v", c.site, c.flight, got, c.want)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	first := Resolve(SiteChongoyape, 5)
	for i := 0; i < 100; i++ {
		if got := Resolve(SiteChongoyape, 5); got != first {
			t.Fatalf("Resolve changed between calls: %v then %v", first, got)
		}
	}
}

func TestLookupNormalizesSiteNames(t *testing.T) {
	// "n" followed by a combining tilde instead of the precomposed "ñ".
	decomposed := Site("Ferren\u0303afe")
	c, ok := DefaultCoefficientTable().Lookup(decomposed, 1)
	if !ok || c != (Coefficients{A: 0.6341, B: 11.887}) {
		t.Fatalf("Lookup(decomposed) = %v, %v", c, ok)
	}
	if _, ok := DefaultCoefficientTable().Lookup("ferreñafe", 1); ok {
		t.Fatalf("lookup must be case sensitive")
	}
}

func TestDefaultTableShape(t *testing.T) {
	table := DefaultCoefficientTable()
	if table.Len() != 10 {
		t.Fatalf("Len = %d, want 10", table.Len())
	}
	if diff := cmp.Diff([]Site{SiteChongoyape, SiteFerrenafe}, table.Sites()); diff != "" {
		t.Fatalf("Sites (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, table.Flights(SiteFerrenafe)); diff != "" {
		t.Fatalf("Flights (-want +got):\n%s", diff)
	}

	entries := table.Entries()
	entries[0].A = 99
	if table.Entries()[0].A == 99 {
		t.Fatalf("Entries must return a copy")
	}
}

func TestNewCoefficientTableRejectsDuplicates(t *testing.T) {
	_, err := NewCoefficientTable([]TableEntry{
		{Site: "Ferreñafe", Flight: 1, A: 1, B: 0},
		{Site: "Ferreñafe", Flight: 1, A: 2, B: 0},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate entry error", err)
	}
	if _, err := NewCoefficientTable([]TableEntry{{Flight: 1}}); err == nil {
		t.Fatalf("expected an error for an entry without site")
	}
}

func TestParseCoefficientTable(t *testing.T) {
	yamlDoc := `
entries:
  - site: Ferreñafe
    flight: 7
    a: 0.5
    b: -2.25
  - site: Chongoyape
    flight: 1
    a: 1.5
    b: 0
`
	table, err := ParseCoefficientTable([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("ParseCoefficientTable(yaml): %v", err)
	}
	if got := table.Resolve(SiteFerrenafe, 7); got != (Coefficients{A: 0.5, B: -2.25}) {
		t.Fatalf("Resolve = %v", got)
	}
	if got := table.Resolve(SiteFerrenafe, 1); got != Identity {
		t.Fatalf("custom table must not fall back to defaults, got %v", got)
	}

	jsonDoc := `{"entries": [{"site": "Chongoyape", "flight": 2, "a": 0.9, "b": 1.1}]}`
	table, err = ParseCoefficientTable([]byte(jsonDoc))
	if err != nil {
		t.Fatalf("ParseCoefficientTable(json): %v", err)
	}
	if got := table.Resolve(SiteChongoyape, 2); got != (Coefficients{A: 0.9, B: 1.1}) {
		t.Fatalf("Resolve = %v", got)
	}

	for _, bad := range []string{"entries: [", "entries: []", "{}"} {
		if _, err := ParseCoefficientTable([]byte(bad)); err == nil {
			t.Errorf("ParseCoefficientTable(%q) succeeded", bad)
		}
	}
}

func TestLoadCoefficientTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	doc := "entries:\n  - {site: Chongoyape, flight: 9, a: 2, b: 3}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err := LoadCoefficientTable(path)
	if err != nil {
		t.Fatalf("LoadCoefficientTable: %v", err)
	}
	if got := table.Resolve(SiteChongoyape, 9); got != (Coefficients{A: 2, B: 3}) {
		t.Fatalf("Resolve = %v", got)
	}
	if _, err := LoadCoefficientTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestResolvers(t *testing.T) {
	tableRes, err := NewResolver(ModeTable, nil, Coefficients{})
	if err != nil {
		t.Fatalf("NewResolver(table): %v", err)
	}
	hit := tableRes.Resolve(Selection{Site: SiteFerrenafe, Flight: 3})
	if !hit.Matched || hit.Coefficients != (Coefficients{A: 0.7291, B: 10.592}) || hit.Notice() != "" {
		t.Fatalf("hit = %+v notice %q", hit, hit.Notice())
	}

	miss := tableRes.Resolve(Selection{Site: SiteFerrenafe, Flight: 6})
	if miss.Matched || miss.Coefficients != Identity {
		t.Fatalf("miss = %+v", miss)
	}
	if n := miss.Notice(); !strings.Contains(n, "Ferreñafe flight 6") {
		t.Fatalf("notice = %q", n)
	}

	manual := Coefficients{A: -0.25, B: -40}
	manualRes, err := NewResolver(ModeManual, nil, manual)
	if err != nil {
		t.Fatalf("NewResolver(manual): %v", err)
	}
	got := manualRes.Resolve(Selection{Site: SiteFerrenafe, Flight: 1})
	if got.Coefficients != manual || got.Mode != ModeManual || got.Notice() != "" {
		t.Fatalf("manual = %+v", got)
	}

	if _, err := NewResolver(Mode(9), nil, manual); err == nil {
		t.Fatalf("expected an error for an unknown mode")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"table": ModeTable, "": ModeTable, " Manual ": ModeManual} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("auto"); err == nil {
		t.Errorf("ParseMode(auto) succeeded")
	}
	if ModeManual.String() != "manual" || ModeTable.String() != "table" {
		t.Errorf("unexpected mode names")
	}
}
