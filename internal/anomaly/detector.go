package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"threatlens/internal/classifier"
	"threatlens/internal/feature"
	"threatlens/pkg/models"
)

// MinFitSamples is the smallest training set the detector accepts.
const MinFitSamples = 10

// Thresholds for the statistical checks. These run on every Detect call,
// fitted model or not.
const (
	cpuLimit        = 95.0
	memoryLimit     = 90.0
	connectionLimit = 1000
	zScoreLimit     = 3.0
)

// featureBaseline is the per-column summary of the training data, used by
// the z-score check.
type featureBaseline struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
	Min  []float64 `json:"min"`
	Max  []float64 `json:"max"`
}

// Detector flags unusual events. Statistical checks work from the first
// event; the isolation forest joins in once Fit has seen enough samples.
// Fitted state is immutable; Fit returns a new detector.
type Detector struct {
	extractor *feature.Extractor
	cfg       IsolationConfig

	fitted   bool
	scaler   *classifier.StandardScaler
	forest   *IsolationForest
	baseline *featureBaseline
	columns  []string
	fittedAt time.Time
	samples  int
}

// NewDetector creates an unfitted detector. It already answers Detect calls
// using the statistical checks alone.
func NewDetector(extractor *feature.Extractor, cfg IsolationConfig) *Detector {
	return &Detector{extractor: extractor, cfg: cfg}
}

// IsFitted reports whether an isolation forest backs this detector.
func (d *Detector) IsFitted() bool {
	return d.fitted
}

// Fit trains a new detector on unlabeled events. An empty slice is not an
// error: the caller gets a no_data report and keeps the current detector.
// Fewer than MinFitSamples is an error, since a forest fitted on a handful
// of points flags everything.
func Fit(extractor *feature.Extractor, cfg IsolationConfig, events []*models.Event) (*Detector, *models.FitReport, error) {
	if len(events) == 0 {
		return nil, &models.FitReport{Status: "no_data"}, nil
	}
	if len(events) < MinFitSamples {
		return nil, nil, &models.InsufficientDataError{Required: MinFitSamples, Got: len(events)}
	}

	vectors := make([][]float64, len(events))
	for i, event := range events {
		vectors[i] = extractor.Compact(event)
	}

	scaler := classifier.FitScaler(vectors)
	scaled := scaler.TransformAll(vectors)
	forest := FitIsolationForest(scaled, cfg)

	d := &Detector{
		extractor: extractor,
		cfg:       cfg,
		fitted:    true,
		scaler:    scaler,
		forest:    forest,
		baseline:  fitBaseline(vectors),
		columns:   extractor.CompactColumns(),
		fittedAt:  time.Now().UTC(),
		samples:   len(events),
	}
	report := &models.FitReport{
		Status:         "trained",
		Samples:        len(events),
		FeatureColumns: d.columns,
	}
	return d, report, nil
}

func fitBaseline(vectors [][]float64) *featureBaseline {
	dims := len(vectors[0])
	b := &featureBaseline{
		Mean: make([]float64, dims),
		Std:  make([]float64, dims),
		Min:  make([]float64, dims),
		Max:  make([]float64, dims),
	}
	column := make([]float64, len(vectors))
	for j := 0; j < dims; j++ {
		for i, v := range vectors {
			column[i] = v[j]
		}
		b.Mean[j] = stat.Mean(column, nil)
		b.Std[j] = stat.StdDev(column, nil)
		if math.IsNaN(b.Std[j]) {
			b.Std[j] = 0
		}
		lo, hi := column[0], column[0]
		for _, v := range column[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		b.Min[j], b.Max[j] = lo, hi
	}
	return b
}

// Detect scores one event. The fixed statistical checks always run; a fitted
// forest adds its verdict. Either side flagging makes the event anomalous.
func (d *Detector) Detect(event *models.Event) *models.AnomalyResult {
	findings := d.statisticalFindings(event)

	var score float64
	flagged := false
	if d.fitted {
		scaled := d.scaler.Transform(d.extractor.Compact(event))
		flagged, score = d.forest.IsAnomaly(scaled)
	} else if len(findings) > 0 {
		// No model: rough score from how many checks fired.
		score = math.Min(0.95, 0.6+0.1*float64(len(findings)-1))
	}

	return &models.AnomalyResult{
		IsAnomaly:           flagged || len(findings) > 0,
		AnomalyScore:        score,
		StatisticalFindings: findings,
		Timestamp:           time.Now().UTC(),
	}
}

func (d *Detector) statisticalFindings(event *models.Event) []string {
	var findings []string
	if event.CPUUsage > cpuLimit {
		findings = append(findings, fmt.Sprintf("cpu usage %.1f%% above %.0f%%", event.CPUUsage, cpuLimit))
	}
	if event.MemoryUsage > memoryLimit {
		findings = append(findings, fmt.Sprintf("memory usage %.1f%% above %.0f%%", event.MemoryUsage, memoryLimit))
	}
	if event.ConnectionCount > connectionLimit {
		findings = append(findings, fmt.Sprintf("%d open connections above %d", event.ConnectionCount, connectionLimit))
	}
	if d.fitted && d.baseline != nil {
		vec := d.extractor.Compact(event)
		for j, v := range vec {
			if d.baseline.Std[j] <= 0 {
				continue
			}
			z := (v - d.baseline.Mean[j]) / d.baseline.Std[j]
			if math.Abs(z) > zScoreLimit {
				findings = append(findings, fmt.Sprintf("%s deviates %.1f standard deviations from baseline", d.columns[j], z))
			}
		}
	}
	return findings
}

const (
	detectorFile         = "detector.json"
	detectorMetadataFile = "detector_metadata.json"
)

type detectorBundle struct {
	Scaler         *classifier.StandardScaler `json:"scaler"`
	Forest         *IsolationForest           `json:"isolation_forest"`
	Baseline       *featureBaseline           `json:"baseline"`
	FeatureColumns []string                   `json:"feature_columns"`
}

type detectorMetadata struct {
	FittedAt       time.Time `json:"fitted_at"`
	Samples        int       `json:"samples"`
	FeatureColumns []string  `json:"feature_columns"`
}

// Save persists the fitted forest, scaler, and baselines alongside a
// metadata sidecar.
func (d *Detector) Save(dir string) error {
	if !d.fitted {
		return fmt.Errorf("cannot save unfitted detector")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	b := detectorBundle{
		Scaler:         d.scaler,
		Forest:         d.forest,
		Baseline:       d.baseline,
		FeatureColumns: d.columns,
	}
	if err := writeJSON(filepath.Join(dir, detectorFile), b); err != nil {
		return err
	}
	meta := detectorMetadata{
		FittedAt:       d.fittedAt,
		Samples:        d.samples,
		FeatureColumns: d.columns,
	}
	return writeJSON(filepath.Join(dir, detectorMetadataFile), meta)
}

// Load restores a persisted detector, validating the sidecar's feature
// columns against the extractor's current compact profile first.
func Load(dir string, extractor *feature.Extractor, cfg IsolationConfig) (*Detector, error) {
	var meta detectorMetadata
	if err := readJSON(filepath.Join(dir, detectorMetadataFile), &meta); err != nil {
		return nil, &models.ModelLoadError{Path: dir, Err: err}
	}

	current := extractor.CompactColumns()
	if !sameColumns(current, meta.FeatureColumns) {
		return nil, &models.FeatureSchemaMismatchError{Want: current, Got: meta.FeatureColumns}
	}

	var b detectorBundle
	if err := readJSON(filepath.Join(dir, detectorFile), &b); err != nil {
		return nil, &models.ModelLoadError{Path: dir, Err: err}
	}
	if b.Scaler == nil || b.Forest == nil || b.Baseline == nil {
		return nil, &models.ModelLoadError{Path: dir, Err: fmt.Errorf("bundle is missing fitted components")}
	}
	if !sameColumns(current, b.FeatureColumns) {
		return nil, &models.FeatureSchemaMismatchError{Want: current, Got: b.FeatureColumns}
	}

	return &Detector{
		extractor: extractor,
		cfg:       cfg,
		fitted:    true,
		scaler:    b.Scaler,
		forest:    b.Forest,
		baseline:  b.Baseline,
		columns:   b.FeatureColumns,
		fittedAt:  meta.FittedAt,
		samples:   meta.Samples,
	}, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
