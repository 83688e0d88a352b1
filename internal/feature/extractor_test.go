package feature

import (
	"testing"

	"threatlens/pkg/models"
)

func TestRichVectorMatchesColumnOrder(t *testing.T) {
	x := NewExtractor(nil)

	vec := x.Rich(&models.Event{ProcessName: "chrome.exe"})
	if len(vec) != len(x.RichColumns()) {
		t.Fatalf("rich vector has %d values for %d columns", len(vec), len(x.RichColumns()))
	}

	compact := x.Compact(&models.Event{})
	if len(compact) != len(x.CompactColumns()) {
		t.Fatalf("compact vector has %d values for %d columns", len(compact), len(x.CompactColumns()))
	}
}

func TestRichVectorDeterministic(t *testing.T) {
	x := NewExtractor(nil)
	event := &models.Event{
		ProcessName:     "mimikatz.exe",
		Cmdline:         "mimikatz.exe sekurlsa::logonpasswords",
		CPUUsage:        42.5,
		ConnectionCount: 3,
		HasNetwork:      true,
	}

	first := x.Rich(event)
	for i := 0; i < 5; i++ {
		again := x.Rich(event)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("column %s drifted: %v vs %v", x.RichColumns()[j], first[j], again[j])
			}
		}
	}
}

func TestRichVectorMissingAttributesDefaultToZero(t *testing.T) {
	x := NewExtractor(nil)

	vec := x.Rich(&models.Event{})
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero for column %s on empty event, got %v", x.RichColumns()[i], v)
		}
	}
}

func TestRichVectorIndicatorColumns(t *testing.T) {
	x := NewExtractor(nil)
	cols := x.RichColumns()
	index := func(name string) int {
		for i, c := range cols {
			if c == name {
				return i
			}
		}
		t.Fatalf("column %s not found", name)
		return -1
	}

	vec := x.Rich(&models.Event{
		ProcessName: "mimikatz.exe",
		Cmdline:     "mimikatz.exe -encodedcommand abc sekurlsa::logonpasswords",
	})
	for _, name := range []string{"is_mimikatz", "encoded_cmd", "cred_dump", "known_malware"} {
		if vec[index(name)] != 1 {
			t.Fatalf("expected %s to fire", name)
		}
	}
	if vec[index("has_typo")] != 0 {
		t.Fatalf("has_typo should not fire for mimikatz.exe")
	}

	vec = x.Rich(&models.Event{ProcessName: "svchosts.exe"})
	if vec[index("has_typo")] != 1 {
		t.Fatalf("expected has_typo to fire for svchosts.exe")
	}
}

func TestColumnNamesAreStable(t *testing.T) {
	x := NewExtractor(nil)

	cols := x.RichColumns()
	if cols[0] != "cpu_usage" || cols[len(cols)-1] != "priv_esc" {
		t.Fatalf("unexpected rich column order: %v", cols)
	}

	// Mutating the returned slice must not leak into the extractor.
	cols[0] = "tampered"
	if x.RichColumns()[0] != "cpu_usage" {
		t.Fatalf("RichColumns returned shared backing array")
	}
}
