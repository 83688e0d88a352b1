// Package engine composes the classifier and the anomaly detector behind a
// single analysis surface. Models live in an immutable snapshot that Train
// and Fit swap atomically, so readers never observe a half-trained state and
// a batch is scored against exactly one model generation.
package engine

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/anomaly"
	"threatlens/internal/classifier"
	"threatlens/internal/feature"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

// categoryAnomaly labels threats flagged by the detector alone.
const categoryAnomaly = "anomaly"

// Both sides agreeing earns a confidence boost.
const agreementBoost = 1.2

// Rule-based verdicts at or above this confidence escalate over a model
// "normal". They never suppress a model threat verdict.
const ruleOverrideConfidence = 0.9

type snapshot struct {
	generation uint64
	ensemble   *classifier.Ensemble
	detector   *anomaly.Detector
}

// Options wires an Engine.
type Options struct {
	Extractor        *feature.Extractor
	Fallback         *rules.Classifier
	Tagger           rules.Tagger
	Metrics          *metrics.Metrics
	ClassifierConfig classifier.Config
	AnomalyConfig    anomaly.IsolationConfig
	ModelsDir        string
}

// Engine is the analysis front end. Safe for concurrent use; Analyze and
// AnalyzeBatch read the current snapshot, Train and FitAnomaly build and
// swap a new one.
type Engine struct {
	extractor *feature.Extractor
	fallback  *rules.Classifier
	tagger    rules.Tagger
	metrics   *metrics.Metrics
	clsCfg    classifier.Config
	anomCfg   anomaly.IsolationConfig
	modelsDir string

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// New creates an engine with untrained models. Predictions work immediately
// via the rule-based fallback and the statistical anomaly checks.
func New(opts Options) *Engine {
	e := &Engine{
		extractor: opts.Extractor,
		fallback:  opts.Fallback,
		tagger:    opts.Tagger,
		metrics:   opts.Metrics,
		clsCfg:    opts.ClassifierConfig,
		anomCfg:   opts.AnomalyConfig,
		modelsDir: opts.ModelsDir,
	}
	if e.tagger == nil {
		e.tagger = &rules.NoopTagger{}
	}
	e.current.Store(&snapshot{
		ensemble: classifier.NewUntrained(opts.Extractor, opts.Fallback, opts.ClassifierConfig),
		detector: anomaly.NewDetector(opts.Extractor, opts.AnomalyConfig),
	})
	return e
}

// LoadModels restores persisted models from dir, if any. Each model that
// fails to load is left untrained and the failure logged; the engine stays
// serviceable either way.
func (e *Engine) LoadModels(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.current.Load()
	next := &snapshot{
		generation: snap.generation,
		ensemble:   snap.ensemble,
		detector:   snap.detector,
	}

	if ens, err := classifier.Load(dir, e.extractor, e.fallback, e.clsCfg); err != nil {
		logger.Warnf("classifier not loaded from %s: %v", dir, err)
	} else {
		next.ensemble = ens
		logger.Infof("classifier loaded from %s (%d training samples)", dir, ens.Report().Samples)
	}

	if det, err := anomaly.Load(dir, e.extractor, e.anomCfg); err != nil {
		logger.Warnf("anomaly detector not loaded from %s: %v", dir, err)
	} else {
		next.detector = det
		logger.Infof("anomaly detector loaded from %s", dir)
	}

	next.generation = snap.generation + 1
	e.current.Store(next)
	e.observeGeneration(next.generation)
}

// Train fits a new classifier ensemble on labeled events and swaps it in.
// On error the previous models stay active. Artifacts are persisted when a
// models directory is configured.
func (e *Engine) Train(samples []*models.Event) (*models.TrainingReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ens, err := classifier.Train(e.extractor, e.fallback, e.clsCfg, samples)
	if err != nil {
		return nil, err
	}

	if e.modelsDir != "" {
		if err := ens.Save(e.modelsDir); err != nil {
			logger.Errorf("persisting classifier: %v", err)
		}
	}

	snap := e.current.Load()
	next := &snapshot{
		generation: snap.generation + 1,
		ensemble:   ens,
		detector:   snap.detector,
	}
	e.current.Store(next)
	e.observeGeneration(next.generation)
	if e.metrics != nil {
		e.metrics.TrainingRuns.Inc()
	}
	logger.Infof("classifier trained on %d samples, generation %d", ens.Report().Samples, next.generation)
	return ens.Report(), nil
}

// FitAnomaly fits a new anomaly detector on unlabeled events and swaps it
// in. An empty sample set is a no-op reported as no_data.
func (e *Engine) FitAnomaly(samples []*models.Event) (*models.FitReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	det, report, err := anomaly.Fit(e.extractor, e.anomCfg, samples)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return report, nil
	}

	if e.modelsDir != "" {
		if err := det.Save(e.modelsDir); err != nil {
			logger.Errorf("persisting anomaly detector: %v", err)
		}
	}

	snap := e.current.Load()
	next := &snapshot{
		generation: snap.generation + 1,
		ensemble:   snap.ensemble,
		detector:   det,
	}
	e.current.Store(next)
	e.observeGeneration(next.generation)
	if e.metrics != nil {
		e.metrics.TrainingRuns.Inc()
	}
	logger.Infof("anomaly detector fitted on %d samples, generation %d", report.Samples, next.generation)
	return report, nil
}

func (e *Engine) observeGeneration(gen uint64) {
	if e.metrics != nil {
		e.metrics.ModelGeneration.Set(float64(gen))
	}
}

// Analyze scores one event against the current model snapshot.
func (e *Engine) Analyze(event *models.Event) *models.ThreatRecord {
	return e.analyzeWith(e.current.Load(), event, 0)
}

// DetectAnomaly runs only the anomaly side against the current snapshot.
func (e *Engine) DetectAnomaly(event *models.Event) *models.AnomalyResult {
	result := e.current.Load().detector.Detect(event)
	if e.metrics != nil && result.IsAnomaly {
		e.metrics.AnomaliesFound.Inc()
	}
	return result
}

func (e *Engine) analyzeWith(snap *snapshot, event *models.Event, logIndex int) *models.ThreatRecord {
	cls := snap.ensemble.Predict(event)
	anom := snap.detector.Detect(event)

	category := cls.ThreatType
	confidence := cls.Confidence
	indicators := append([]string(nil), cls.Indicators...)

	// A high-confidence rule verdict escalates over a model "normal".
	if !cls.IsThreat {
		if rb := e.fallback.Classify(event); rb.IsThreat && rb.Confidence >= ruleOverrideConfidence {
			category = rb.ThreatType
			confidence = rb.Confidence
			indicators = append(indicators, rb.Indicators...)
		}
	}

	isThreat := category != models.CategoryNormal
	if isThreat && anom.IsAnomaly {
		confidence = math.Min(1.0, confidence*agreementBoost)
	}
	if !isThreat && anom.IsAnomaly {
		category = categoryAnomaly
		isThreat = true
		confidence = math.Max(confidence, anom.AnomalyScore)
	}

	indicators = append(indicators, e.tagger.Apply(event)...)

	severity := models.SeverityFor(category, confidence)
	if category == categoryAnomaly {
		severity = models.SeverityMedium
	}

	record := &models.ThreatRecord{
		ThreatID:          uuid.NewString(),
		LogIndex:          logIndex,
		IsThreat:          isThreat,
		ThreatType:        category,
		Classification:    category,
		Confidence:        confidence,
		RiskScore:         models.RiskScore(category, confidence),
		Severity:          severity,
		Indicators:        indicators,
		ModelPredictions:  cls.ModelPredictions,
		Probabilities:     cls.Probabilities,
		AnomalyScore:      anom.AnomalyScore,
		AnomalyIndicators: anom.StatisticalFindings,
		Timestamp:         time.Now().UTC(),
	}
	if isThreat {
		record.Recommendations = RecommendationsFor(category)
	}

	if e.metrics != nil {
		e.metrics.EventsAnalyzed.Inc()
		if isThreat {
			e.metrics.ThreatsFlagged.Inc()
		}
		if anom.IsAnomaly {
			e.metrics.AnomaliesFound.Inc()
		}
	}
	return record
}

// AnalyzeBatch scores an ordered batch against one snapshot, in parallel.
// Only flagged events appear in the report; LogIndex points back into the
// input slice.
func (e *Engine) AnalyzeBatch(events []*models.Event) *models.BatchReport {
	snap := e.current.Load()
	records := make([]*models.ThreatRecord, len(events))

	workers := runtime.NumCPU()
	if workers > len(events) {
		workers = len(events)
	}
	if workers < 1 {
		workers = 1
	}

	var next int64 = -1
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1))
				if i >= len(events) {
					return
				}
				records[i] = e.analyzeWith(snap, events[i], i)
			}
		}()
	}
	wg.Wait()

	report := &models.BatchReport{TotalAnalyzed: len(events), Threats: []models.ThreatRecord{}}
	for _, r := range records {
		if r != nil && r.IsThreat {
			report.Threats = append(report.Threats, *r)
		}
	}
	report.ThreatCount = len(report.Threats)
	return report
}

// Status describes the active model snapshot.
type Status struct {
	Generation        uint64                 `json:"generation"`
	ClassifierTrained bool                   `json:"classifier_trained"`
	DetectorFitted    bool                   `json:"detector_fitted"`
	TrainingReport    *models.TrainingReport `json:"training_report,omitempty"`
}

// ModelStatus reports the current snapshot's state.
func (e *Engine) ModelStatus() Status {
	snap := e.current.Load()
	return Status{
		Generation:        snap.generation,
		ClassifierTrained: snap.ensemble.IsTrained(),
		DetectorFitted:    snap.detector.IsFitted(),
		TrainingReport:    snap.ensemble.Report(),
	}
}
