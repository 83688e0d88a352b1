package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"threatlens/internal/feature"
	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

func newTestParts() (*feature.Extractor, *rules.Classifier) {
	set := rules.DefaultIndicatorSet()
	return feature.NewExtractor(set), rules.NewClassifier(set)
}

// syntheticEvents builds a cleanly separable labeled corpus: quiet local
// processes versus encoded downloaders with heavy network fan-out.
func syntheticEvents() []*models.Event {
	var events []*models.Event
	for i := 0; i < 30; i++ {
		events = append(events, &models.Event{
			ProcessName: fmt.Sprintf("app%d", i),
			Cmdline:     fmt.Sprintf("app%d --port %d", i, 8000+i),
			CPUUsage:    float64(5 + i%10),
			MemoryUsage: float64(10 + i%20),
			Label:       models.CategoryNormal,
		})
	}
	for i := 0; i < 30; i++ {
		events = append(events, &models.Event{
			ProcessName:     fmt.Sprintf("drop%d.exe", i),
			Cmdline:         "powershell -encodedcommand aabb downloadstring hxxp://evil",
			CPUUsage:        float64(80 + i%15),
			MemoryUsage:     float64(60 + i%30),
			ConnectionCount: 40 + i,
			HasNetwork:      true,
			Label:           models.CategoryMalware,
		})
	}
	return events
}

func TestTrainRequiresMinimumSamples(t *testing.T) {
	extractor, fallback := newTestParts()

	samples := syntheticEvents()[:5]
	_, err := Train(extractor, fallback, DefaultConfig(), samples)

	var insufficient *models.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Got != 5 || insufficient.Required != 10 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
}

func TestTrainSkipsUnlabeledSamples(t *testing.T) {
	extractor, fallback := newTestParts()

	samples := syntheticEvents()
	samples = append(samples, &models.Event{ProcessName: "unlabeled"}, nil)

	ens, err := Train(extractor, fallback, DefaultConfig(), samples)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if ens.Report().Samples != 60 {
		t.Fatalf("expected 60 labeled samples, got %d", ens.Report().Samples)
	}
}

func TestTrainAndPredict(t *testing.T) {
	extractor, fallback := newTestParts()

	ens, err := Train(extractor, fallback, DefaultConfig(), syntheticEvents())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !ens.IsTrained() {
		t.Fatalf("expected trained ensemble")
	}

	report := ens.Report()
	for _, name := range []string{ModelRandomForest, ModelNaiveBayes} {
		if report.ModelAccuracy[name] < 0.8 {
			t.Fatalf("%s accuracy %.2f below 0.8 on separable data", name, report.ModelAccuracy[name])
		}
	}

	threat := ens.Predict(&models.Event{
		ProcessName:     "loader.exe",
		Cmdline:         "powershell -encodedcommand zzzz downloadstring hxxp://evil",
		CPUUsage:        88,
		MemoryUsage:     70,
		ConnectionCount: 55,
		HasNetwork:      true,
	})
	if threat.ThreatType != models.CategoryMalware || !threat.IsThreat {
		t.Fatalf("expected malware verdict, got %+v", threat)
	}
	if threat.Confidence <= 0.5 {
		t.Fatalf("expected confidence > 0.5, got %.2f", threat.Confidence)
	}
	if _, ok := threat.ModelPredictions[ModelRandomForest]; !ok {
		t.Fatalf("missing random_forest prediction: %v", threat.ModelPredictions)
	}
	if _, ok := threat.ModelPredictions[ModelNaiveBayes]; !ok {
		t.Fatalf("missing naive_bayes prediction: %v", threat.ModelPredictions)
	}

	quiet := ens.Predict(&models.Event{
		ProcessName: "app99",
		Cmdline:     "app99 --port 8099",
		CPUUsage:    7,
		MemoryUsage: 12,
	})
	if quiet.IsThreat {
		t.Fatalf("expected normal verdict, got %+v", quiet)
	}
}

func TestTrainDeterministic(t *testing.T) {
	extractor, fallback := newTestParts()
	probe := &models.Event{
		ProcessName:     "drop999.exe",
		Cmdline:         "powershell -encodedcommand aabb downloadstring hxxp://evil",
		CPUUsage:        85,
		ConnectionCount: 50,
		HasNetwork:      true,
	}

	first, err := Train(extractor, fallback, DefaultConfig(), syntheticEvents())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	second, err := Train(extractor, fallback, DefaultConfig(), syntheticEvents())
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	a, b := first.Predict(probe), second.Predict(probe)
	if a.ThreatType != b.ThreatType || a.Confidence != b.Confidence {
		t.Fatalf("training not deterministic: %+v vs %+v", a, b)
	}
	for class, p := range a.Probabilities {
		if b.Probabilities[class] != p {
			t.Fatalf("probability for %s drifted: %v vs %v", class, p, b.Probabilities[class])
		}
	}
}

func TestUntrainedPredictDelegatesToFallback(t *testing.T) {
	extractor, fallback := newTestParts()
	ens := NewUntrained(extractor, fallback, DefaultConfig())

	res := ens.Predict(&models.Event{ProcessName: "mimikatz.exe"})
	if !res.IsThreat || res.ThreatType != models.CategoryMalware {
		t.Fatalf("expected fallback malware verdict, got %+v", res)
	}
	if res.ModelPredictions["rule_based"] != models.CategoryMalware {
		t.Fatalf("expected rule_based prediction, got %v", res.ModelPredictions)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	extractor, fallback := newTestParts()
	dir := t.TempDir()
	probe := &models.Event{
		ProcessName:     "drop1.exe",
		Cmdline:         "powershell -encodedcommand aabb downloadstring hxxp://evil",
		CPUUsage:        82,
		ConnectionCount: 41,
		HasNetwork:      true,
	}

	ens, err := Train(extractor, fallback, DefaultConfig(), syntheticEvents())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := ens.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(dir, extractor, fallback, DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.IsTrained() {
		t.Fatalf("loaded ensemble should be trained")
	}
	if loaded.Report().Status != "loaded" {
		t.Fatalf("expected loaded status, got %s", loaded.Report().Status)
	}

	want, got := ens.Predict(probe), loaded.Predict(probe)
	if want.ThreatType != got.ThreatType || want.Confidence != got.Confidence {
		t.Fatalf("loaded model predicts differently: %+v vs %+v", want, got)
	}
}

func TestLoadMissingArtifacts(t *testing.T) {
	extractor, fallback := newTestParts()

	_, err := Load(t.TempDir(), extractor, fallback, DefaultConfig())
	var loadErr *models.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}

func TestLoadRejectsSchemaDrift(t *testing.T) {
	extractor, fallback := newTestParts()
	dir := t.TempDir()

	ens, err := Train(extractor, fallback, DefaultConfig(), syntheticEvents())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := ens.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	metaPath := filepath.Join(dir, "metadata.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	meta["feature_columns"] = []string{"cpu_usage", "memory_usage"}
	tampered, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("encode metadata: %v", err)
	}
	if err := os.WriteFile(metaPath, tampered, 0644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	_, err = Load(dir, extractor, fallback, DefaultConfig())
	var mismatch *models.FeatureSchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected FeatureSchemaMismatchError, got %v", err)
	}
	if len(mismatch.Got) != 2 {
		t.Fatalf("unexpected mismatch detail: %+v", mismatch)
	}
}
