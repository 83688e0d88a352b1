package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"threatlens/internal/anomaly"
	"threatlens/internal/behavior"
	"threatlens/internal/classifier"
	"threatlens/internal/engine"
	"threatlens/internal/feature"
	"threatlens/internal/metrics"
	"threatlens/internal/rules"
	"threatlens/pkg/models"
)

// Shared across tests; the default Prometheus registry rejects a second
// registration of the same collectors.
var testMetrics = metrics.New()

type captureWriter struct {
	mu      sync.Mutex
	threats []*models.ThreatRecord
}

func (w *captureWriter) WriteThreats(threats []*models.ThreatRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.threats = append(w.threats, threats...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.threats)
}

func newTestPipeline(t *testing.T, writer ThreatWriter) *RedisThreatPipeline {
	t.Helper()
	set := rules.DefaultIndicatorSet()
	eng := engine.New(engine.Options{
		Extractor:        feature.NewExtractor(set),
		Fallback:         rules.NewClassifier(set),
		ClassifierConfig: classifier.DefaultConfig(),
		AnomalyConfig:    anomaly.DefaultIsolationConfig(),
	})
	ueba, err := behavior.NewAnalytics(behavior.DefaultConfig())
	if err != nil {
		t.Fatalf("new analytics: %v", err)
	}
	return NewRedisThreatPipeline(nil, eng, ueba, writer, testMetrics, 2, 2, time.Second)
}

func TestWorkerLoopForwardsThreatsAndTracksUsers(t *testing.T) {
	p := newTestPipeline(t, &captureWriter{})

	in := make(chan *models.Event, 3)
	out := make(chan *models.ThreatRecord, 3)
	in <- &models.Event{ProcessName: "chrome.exe", User: "alice"}
	in <- &models.Event{ProcessName: "mimikatz.exe", User: "bob"}
	close(in)

	p.workerLoop(in, out)
	close(out)

	var records []*models.ThreatRecord
	for record := range out {
		records = append(records, record)
	}
	if len(records) != 1 || records[0].ThreatType != models.CategoryMalware {
		t.Fatalf("expected one malware record, got %+v", records)
	}
	if got := testutil.ToFloat64(testMetrics.TrackedUsers); got != 2 {
		t.Fatalf("expected 2 tracked users in gauge, got %.0f", got)
	}
}

func TestWriteLoopDrainsBatchesOnClose(t *testing.T) {
	writer := &captureWriter{}
	p := newTestPipeline(t, writer)

	in := make(chan *models.ThreatRecord, 3)
	for i := 0; i < 3; i++ {
		in <- &models.ThreatRecord{ThreatID: "t", IsThreat: true}
	}
	close(in)

	done := make(chan struct{})
	go func() {
		p.writeLoop(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("write loop did not drain after channel close")
	}
	if writer.count() != 3 {
		t.Fatalf("expected 3 written threats, got %d", writer.count())
	}
}
