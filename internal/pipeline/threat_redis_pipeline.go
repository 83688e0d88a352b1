// Package pipeline moves events from the Redis queue through the analysis
// engine and batches flagged threats to the configured sink.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"threatlens/internal/behavior"
	"threatlens/internal/engine"
	inputredis "threatlens/internal/input/redis"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/pkg/models"
)

// RedisThreatPipeline consumes events from a Redis list, analyzes them, and
// writes flagged threats to the sink.
type RedisThreatPipeline struct {
	consumer      *inputredis.Consumer
	engine        *engine.Engine
	behavior      *behavior.Analytics
	writer        ThreatWriter
	metrics       *metrics.Metrics
	workers       int
	batchSize     int
	flushInterval time.Duration
}

// NewRedisThreatPipeline creates a pipeline over the given consumer, engine,
// and sink. The behavior engine and metrics are optional.
func NewRedisThreatPipeline(consumer *inputredis.Consumer, eng *engine.Engine, ueba *behavior.Analytics, writer ThreatWriter, m *metrics.Metrics, workers, batchSize int, flushInterval time.Duration) *RedisThreatPipeline {
	return &RedisThreatPipeline{
		consumer:      consumer,
		engine:        eng,
		behavior:      ueba,
		writer:        writer,
		metrics:       m,
		workers:       workers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Run starts the pipeline loop and blocks until the context is canceled.
func (p *RedisThreatPipeline) Run(ctx context.Context) error {
	logger.Infof("Redis threat pipeline started")

	if p.workers <= 0 {
		p.workers = 8
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.flushInterval <= 0 {
		p.flushInterval = 2 * time.Second
	}

	eventCh := make(chan *models.Event, p.workers*4)
	threatCh := make(chan *models.ThreatRecord, p.workers*4)

	var wg sync.WaitGroup
	var workerWg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, eventCh)
		close(eventCh)
	}()

	for i := 0; i < p.workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			p.workerLoop(eventCh, threatCh)
		}()
	}

	// The threat channel closes only once every worker has stopped sending,
	// and the write loop drains it fully before exiting.
	wg.Add(1)
	go func() {
		defer wg.Done()
		workerWg.Wait()
		close(threatCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx, threatCh)
	}()

	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *RedisThreatPipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close threat writer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *RedisThreatPipeline) readLoop(ctx context.Context, out chan<- *models.Event) {
	for {
		event, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var decodeErr *inputredis.DecodeError
			if errors.As(err, &decodeErr) {
				logger.Warnf("Failed to decode event: %v", err)
				if p.metrics != nil {
					p.metrics.AnalysisErrors.Inc()
				}
				continue
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if event == nil {
			continue
		}
		out <- event
	}
}

func (p *RedisThreatPipeline) workerLoop(in <-chan *models.Event, out chan<- *models.ThreatRecord) {
	for event := range in {
		if p.behavior != nil && event.User != "" {
			p.behavior.RecordActivity(event)
			if p.metrics != nil {
				p.metrics.TrackedUsers.Set(float64(p.behavior.TrackedUsers()))
			}
		}

		record := p.engine.Analyze(event)
		if record.IsThreat {
			out <- record
		}
	}
}

func (p *RedisThreatPipeline) writeLoop(ctx context.Context, in <-chan *models.ThreatRecord) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batch []*models.ThreatRecord

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for {
			if err := p.writer.WriteThreats(batch); err != nil {
				logger.Errorf("Failed to write threats: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(1 * time.Second):
				}
				continue
			}
			batch = nil
			break
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case record, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}
}
