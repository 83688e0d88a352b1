package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIndicatorSetPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indicators.yml")
	content := `
suspicious_ports:
  - 9999
typosquats:
  - Chrom.exe
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write indicator file: %v", err)
	}

	set, err := LoadIndicatorSet(path)
	if err != nil {
		t.Fatalf("load indicator set: %v", err)
	}

	if !set.IsSuspiciousPort(9999) {
		t.Fatalf("expected 9999 to be suspicious after override")
	}
	if set.IsSuspiciousPort(4444) {
		t.Fatalf("expected default port list to be replaced by override")
	}
	if len(set.Typosquats) != 1 || set.Typosquats[0] != "chrom.exe" {
		t.Fatalf("expected lowercased typosquat override, got %v", set.Typosquats)
	}
	if len(set.SafeProcesses) == 0 {
		t.Fatalf("expected omitted lists to keep compiled-in defaults")
	}
}

func TestLoadIndicatorSetMissingFile(t *testing.T) {
	if _, err := LoadIndicatorSet(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
