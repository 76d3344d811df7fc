package tagmap

import "testing"

func TestNewAppliesEntryDefaults(t *testing.T) {
	mapping, err := New("2026-03", map[string]Entry{
		"PC_Line_Total": {HistorianTag: "PLANT.PC.FT51.TOTAL", Unit: "kL"},
		"CK_Line_Total": {},
		"":              {HistorianTag: "ignored"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if mapping.Len() != 2 {
		t.Fatalf("len %d", mapping.Len())
	}
	entry, ok := mapping.Resolve("CK_Line_Total")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.HistorianTag != "CK_Line_Total" || entry.Unit != "L" {
		t.Fatalf("defaults not applied: %+v", entry)
	}
	if got := mapping.HistorianTag("PC_Line_Total"); got != "PLANT.PC.FT51.TOTAL" {
		t.Fatalf("historian tag %q", got)
	}
	if got := mapping.HistorianTag("Unmapped"); got != "Unmapped" {
		t.Fatalf("unmapped fallback %q", got)
	}
}

func TestNewRejectsEmptyVersion(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("empty version must be rejected")
	}
}

func TestNilMappingIsSafe(t *testing.T) {
	var mapping *Mapping
	if mapping.Version() != "" || mapping.Len() != 0 {
		t.Fatal("nil accessors")
	}
	if _, ok := mapping.Resolve("x"); ok {
		t.Fatal("nil resolve")
	}
	if got := mapping.HistorianTag("x"); got != "x" {
		t.Fatalf("nil historian tag %q", got)
	}
	if mapping.Names() != nil {
		t.Fatal("nil names")
	}
}
