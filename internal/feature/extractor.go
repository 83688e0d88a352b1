// Package feature turns raw events into fixed-order numeric vectors.
//
// Two profiles exist: the rich profile feeds the supervised classifier and
// the compact profile feeds the anomaly detector. Column order is part of a
// trained model's identity — persisted models refuse to load against a
// different column set, so any change here forces retraining.
package feature

import (
	"strings"

	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

var richColumns = []string{
	"cpu_usage",
	"memory_usage",
	"name_length",
	"cmd_length",
	"has_args",
	"has_network",
	"connections",
	"is_system_user",
	"encoded_cmd",
	"download_cmd",
	"connect_cmd",
	"encrypt_cmd",
	"cred_dump",
	"is_mimikatz",
	"is_psexec",
	"is_bloodhound",
	"is_cobalt",
	"has_typo",
	"known_malware",
	"lateral_movement",
	"priv_esc",
}

var compactColumns = []string{
	"cpu_usage",
	"memory_usage",
	"thread_count",
	"connection_count",
	"name_length",
}

// Extractor derives feature vectors from events. Extraction is pure and
// total: missing attributes default to zero, so a vector is always fully
// populated. Indicator substrings come from the declarative rule content.
type Extractor struct {
	set *rules.IndicatorSet
}

// NewExtractor creates an extractor over the given indicator content.
func NewExtractor(set *rules.IndicatorSet) *Extractor {
	if set == nil {
		set = rules.DefaultIndicatorSet()
	}
	return &Extractor{set: set}
}

// RichColumns returns the ordered column names of the rich profile.
func (x *Extractor) RichColumns() []string {
	out := make([]string, len(richColumns))
	copy(out, richColumns)
	return out
}

// CompactColumns returns the ordered column names of the compact profile.
func (x *Extractor) CompactColumns() []string {
	out := make([]string, len(compactColumns))
	copy(out, compactColumns)
	return out
}

// Rich extracts the classifier feature vector. Each binary column maps to
// one named heuristic so the vector stays auditable.
func (x *Extractor) Rich(event *models.Event) []float64 {
	name := strings.ToLower(event.ProcessName)
	cmd := strings.ToLower(event.Cmdline)

	hasTypo := 0.0
	for _, typo := range x.set.Typosquats {
		if name == typo {
			hasTypo = 1
			break
		}
	}

	return []float64{
		event.CPUUsage,
		event.MemoryUsage,
		float64(len(name)),
		float64(len(cmd)),
		flag(strings.Contains(cmd, " ")),
		flag(event.HasNetwork),
		float64(event.ConnectionCount),
		flag(event.IsSystemUser),
		flag(rules.ContainsAny(cmd, x.set.EncodedMarkers)),
		flag(rules.ContainsAny(cmd, x.set.DownloadMarkers)),
		flag(rules.ContainsAny(cmd, x.set.ConnectMarkers)),
		flag(rules.ContainsAny(cmd, x.set.EncryptMarkers)),
		flag(rules.ContainsAny(cmd, x.set.CredentialMarkers)),
		flag(strings.Contains(name, "mimikatz") || strings.Contains(cmd, "sekurlsa")),
		flag(strings.Contains(name, "psexec")),
		flag(strings.Contains(name, "bloodhound") || strings.Contains(name, "sharphound")),
		flag(strings.Contains(name, "cobalt") || strings.Contains(name, "beacon")),
		hasTypo,
		flag(rules.ContainsAny(name, x.set.MaliciousTools)),
		flag(rules.ContainsAny(cmd, x.set.LateralMarkers)),
		flag(rules.ContainsAny(name, x.set.PrivEscNames)),
	}
}

// Compact extracts the anomaly detector feature vector: the minimal signal
// needed for outlier scoring without semantic interpretation.
func (x *Extractor) Compact(event *models.Event) []float64 {
	return []float64{
		event.CPUUsage,
		event.MemoryUsage,
		float64(event.ThreadCount),
		float64(event.ConnectionCount),
		float64(len(event.ProcessName)),
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
