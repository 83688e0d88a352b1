// Package classifier holds the supervised threat classifier: an ensemble of
// two heterogeneous models (random forest + gaussian naive bayes) fused with
// fixed equal weights over a shared scaler and label encoding.
package classifier

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"threatlens/internal/feature"
	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

// Model names used in reports and prediction breakdowns.
const (
	ModelRandomForest = "random_forest"
	ModelNaiveBayes   = "naive_bayes"
)

// Fusion weights. Two models, equal say; changing the model count means
// revisiting these.
const (
	forestWeight = 0.5
	bayesWeight  = 0.5
)

// Config controls ensemble training.
type Config struct {
	MinTrainingSamples int
	Forest             ForestConfig
}

// DefaultConfig returns the training defaults.
func DefaultConfig() Config {
	return Config{
		MinTrainingSamples: 10,
		Forest:             DefaultForestConfig(),
	}
}

// Ensemble is the threat classifier. A fitted ensemble is immutable; a
// retrain builds a fresh one, so callers can swap pointers without readers
// ever observing partial state. An untrained ensemble delegates every
// prediction to the rule-based classifier.
type Ensemble struct {
	extractor *feature.Extractor
	fallback  *rules.Classifier
	cfg       Config

	trained bool
	scaler  *StandardScaler
	encoder *LabelEncoder
	forest  *Forest
	bayes   *GaussianNB
	columns []string
	report  *models.TrainingReport
}

// NewUntrained creates an ensemble that answers via the rule-based fallback
// until a trained one replaces it.
func NewUntrained(extractor *feature.Extractor, fallback *rules.Classifier, cfg Config) *Ensemble {
	return &Ensemble{extractor: extractor, fallback: fallback, cfg: cfg}
}

// Train fits a new ensemble on labeled events. Events without a label are
// skipped. Returns InsufficientDataError when fewer labeled samples remain
// than the configured minimum; the caller keeps its previous ensemble.
func Train(extractor *feature.Extractor, fallback *rules.Classifier, cfg Config, samples []*models.Event) (*Ensemble, error) {
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = 10
	}

	var vectors [][]float64
	var labels []string
	for _, event := range samples {
		if event == nil || event.Label == "" {
			continue
		}
		vectors = append(vectors, extractor.Rich(event))
		labels = append(labels, event.Label)
	}

	if len(vectors) < cfg.MinTrainingSamples {
		return nil, &models.InsufficientDataError{Required: cfg.MinTrainingSamples, Got: len(vectors)}
	}

	encoder := FitEncoder(labels)
	y := make([]int, len(labels))
	for i, label := range labels {
		y[i], _ = encoder.Encode(label)
	}

	scaler := FitScaler(vectors)
	scaled := scaler.TransformAll(vectors)

	// Deterministic 80/20 split; tiny datasets score on the training set.
	rng := rand.New(rand.NewSource(cfg.Forest.Seed))
	perm := rng.Perm(len(scaled))
	testN := len(scaled) / 5
	trainIdx := perm[:len(scaled)-testN]
	testIdx := perm[len(scaled)-testN:]
	if len(testIdx) == 0 {
		testIdx = trainIdx
	}

	trainX := make([][]float64, len(trainIdx))
	trainY := make([]int, len(trainIdx))
	for i, idx := range trainIdx {
		trainX[i] = scaled[idx]
		trainY[i] = y[idx]
	}

	forest := FitForest(trainX, trainY, encoder.NumClasses(), cfg.Forest)
	bayes := FitGaussianNB(trainX, trainY, encoder.NumClasses())

	report := &models.TrainingReport{
		Status:  "trained",
		Samples: len(vectors),
		ModelAccuracy: map[string]float64{
			ModelRandomForest: accuracy(forest.PredictProba, scaled, y, testIdx),
			ModelNaiveBayes:   accuracy(bayes.PredictProba, scaled, y, testIdx),
		},
		Classes:        encoder.Classes,
		FeatureColumns: extractor.RichColumns(),
		TrainedAt:      time.Now().UTC(),
	}

	return &Ensemble{
		extractor: extractor,
		fallback:  fallback,
		cfg:       cfg,
		trained:   true,
		scaler:    scaler,
		encoder:   encoder,
		forest:    forest,
		bayes:     bayes,
		columns:   extractor.RichColumns(),
		report:    report,
	}, nil
}

func accuracy(predict func([]float64) []float64, samples [][]float64, y []int, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	correct := 0
	for _, i := range idx {
		if argmax(predict(samples[i])) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}

// IsTrained reports whether fitted models back this ensemble.
func (e *Ensemble) IsTrained() bool {
	return e.trained
}

// Report returns the training report, nil when untrained.
func (e *Ensemble) Report() *models.TrainingReport {
	return e.report
}

// Predict classifies one event. Never fails: an untrained ensemble answers
// via the rule-based classifier, a trained one fuses its models' class
// probabilities with fixed weights.
func (e *Ensemble) Predict(event *models.Event) *models.ClassificationResult {
	if !e.trained {
		return e.fallback.Classify(event)
	}

	scaled := e.scaler.Transform(e.extractor.Rich(event))
	forestProbs := e.forest.PredictProba(scaled)
	bayesProbs := e.bayes.PredictProba(scaled)

	fused := make([]float64, e.encoder.NumClasses())
	for c := range fused {
		fused[c] = forestWeight*forestProbs[c] + bayesWeight*bayesProbs[c]
	}

	best := argmax(fused)
	category := e.encoder.Decode(best)
	confidence := fused[best]

	probabilities := make(map[string]float64, len(fused))
	for c, p := range fused {
		probabilities[e.encoder.Decode(c)] = p
	}

	return &models.ClassificationResult{
		ThreatType:     category,
		Classification: category,
		Confidence:     confidence,
		IsThreat:       category != models.CategoryNormal,
		RiskScore:      models.RiskScore(category, confidence),
		Severity:       models.SeverityFor(category, confidence),
		ModelPredictions: map[string]string{
			ModelRandomForest: e.encoder.Decode(argmax(forestProbs)),
			ModelNaiveBayes:   e.encoder.Decode(argmax(bayesProbs)),
		},
		Probabilities: probabilities,
	}
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

const (
	bundleFile   = "ensemble.json"
	metadataFile = "metadata.json"
)

type bundle struct {
	Scaler         *StandardScaler `json:"scaler"`
	Encoder        *LabelEncoder   `json:"label_encoder"`
	Forest         *Forest         `json:"random_forest"`
	Bayes          *GaussianNB     `json:"naive_bayes"`
	FeatureColumns []string        `json:"feature_columns"`
}

type metadata struct {
	TrainedAt      time.Time          `json:"trained_at"`
	Samples        int                `json:"samples"`
	ModelAccuracy  map[string]float64 `json:"model_accuracy"`
	Classes        []string           `json:"classes"`
	FeatureColumns []string           `json:"feature_columns"`
}

// Save persists the fitted models, scaler, label encoder, and ordered
// feature-column list as one bundle plus a metadata sidecar.
func (e *Ensemble) Save(dir string) error {
	if !e.trained {
		return fmt.Errorf("cannot save untrained ensemble")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	b := bundle{
		Scaler:         e.scaler,
		Encoder:        e.encoder,
		Forest:         e.forest,
		Bayes:          e.bayes,
		FeatureColumns: e.columns,
	}
	if err := writeJSONFile(filepath.Join(dir, bundleFile), b); err != nil {
		return err
	}

	meta := metadata{
		TrainedAt:      e.report.TrainedAt,
		Samples:        e.report.Samples,
		ModelAccuracy:  e.report.ModelAccuracy,
		Classes:        e.encoder.Classes,
		FeatureColumns: e.columns,
	}
	return writeJSONFile(filepath.Join(dir, metadataFile), meta)
}

// Load restores a persisted ensemble. The metadata sidecar's feature-column
// list is validated against the extractor's current rich profile before any
// model is accepted: a drifted column set fails with
// FeatureSchemaMismatchError instead of silently mis-predicting.
func Load(dir string, extractor *feature.Extractor, fallback *rules.Classifier, cfg Config) (*Ensemble, error) {
	var meta metadata
	if err := readJSONFile(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, &models.ModelLoadError{Path: dir, Err: err}
	}

	current := extractor.RichColumns()
	if !equalColumns(current, meta.FeatureColumns) {
		return nil, &models.FeatureSchemaMismatchError{Want: current, Got: meta.FeatureColumns}
	}

	var b bundle
	if err := readJSONFile(filepath.Join(dir, bundleFile), &b); err != nil {
		return nil, &models.ModelLoadError{Path: dir, Err: err}
	}
	if b.Scaler == nil || b.Encoder == nil || b.Forest == nil || b.Bayes == nil {
		return nil, &models.ModelLoadError{Path: dir, Err: fmt.Errorf("bundle is missing fitted components")}
	}
	if !equalColumns(current, b.FeatureColumns) {
		return nil, &models.FeatureSchemaMismatchError{Want: current, Got: b.FeatureColumns}
	}

	return &Ensemble{
		extractor: extractor,
		fallback:  fallback,
		cfg:       cfg,
		trained:   true,
		scaler:    b.Scaler,
		encoder:   b.Encoder,
		forest:    b.Forest,
		bayes:     b.Bayes,
		columns:   b.FeatureColumns,
		report: &models.TrainingReport{
			Status:         "loaded",
			Samples:        meta.Samples,
			ModelAccuracy:  meta.ModelAccuracy,
			Classes:        meta.Classes,
			FeatureColumns: meta.FeatureColumns,
			TrainedAt:      meta.TrainedAt,
		},
	}, nil
}

func equalColumns(a, b []string) bool {
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

func writeJSONFile(path string, v interface{}) error {
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

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
