package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"threatlens/config"
	"threatlens/internal/anomaly"
	"threatlens/internal/behavior"
	"threatlens/internal/classifier"
	"threatlens/internal/engine"
	"threatlens/internal/feature"
	inputredis "threatlens/internal/input/redis"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/output/threatclickhouse"
	"threatlens/internal/output/threathttp"
	"threatlens/internal/output/threatjson"
	"threatlens/internal/pipeline"
	"threatlens/internal/rules"
	"threatlens/internal/server"
	"threatlens/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("threatlens.yml"); err == nil {
		return "threatlens.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "threatlens.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "threatlens.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.ThreatLens.Input.Redis.Addr == "" {
		cfg.ThreatLens.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.ThreatLens.Input.Redis.BlockTimeout == 0 {
		cfg.ThreatLens.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.ThreatLens.Server.Addr == "" {
		cfg.ThreatLens.Server.Addr = ":8001"
	}

	if cfg.ThreatLens.Pipeline.Workers <= 0 {
		cfg.ThreatLens.Pipeline.Workers = 8
	}
	if cfg.ThreatLens.Pipeline.BatchSize <= 0 {
		cfg.ThreatLens.Pipeline.BatchSize = 100
	}
	if cfg.ThreatLens.Pipeline.FlushInterval <= 0 {
		cfg.ThreatLens.Pipeline.FlushInterval = 2 * time.Second
	}

	if cfg.ThreatLens.Models.Dir == "" {
		cfg.ThreatLens.Models.Dir = "models"
	}
	if cfg.ThreatLens.Models.MinTrainingSamples <= 0 {
		cfg.ThreatLens.Models.MinTrainingSamples = 10
	}

	if cfg.ThreatLens.Behavior.MaxUsers <= 0 {
		cfg.ThreatLens.Behavior.MaxUsers = 10000
	}
	if cfg.ThreatLens.Behavior.BaselineMinActivities <= 0 {
		cfg.ThreatLens.Behavior.BaselineMinActivities = 50
	}

	if cfg.ThreatLens.Output.Mode == "" {
		cfg.ThreatLens.Output.Mode = "file"
	}
	if cfg.ThreatLens.Output.File.Path == "" {
		cfg.ThreatLens.Output.File.Path = "output/threats.jsonl"
	}
	if cfg.ThreatLens.Output.ClickHouse.Database == "" {
		cfg.ThreatLens.Output.ClickHouse.Database = "threatlens"
	}
	if cfg.ThreatLens.Output.ClickHouse.Table == "" {
		cfg.ThreatLens.Output.ClickHouse.Table = "threat_events"
	}

	if cfg.ThreatLens.Logging.Level == "" {
		cfg.ThreatLens.Logging.Level = "info"
	}
}

// buildAnalysis assembles the indicator set, extractor, fallback classifier,
// and engine from config.
func buildAnalysis(cfg *config.Config, m *metrics.Metrics) (*engine.Engine, error) {
	set := rules.DefaultIndicatorSet()
	if path := strings.TrimSpace(cfg.ThreatLens.Rules.IndicatorsPath); path != "" {
		loaded, err := rules.LoadIndicatorSet(path)
		if err != nil {
			return nil, fmt.Errorf("load indicators from %s: %w", path, err)
		}
		set = loaded
		logger.Infof("Indicators loaded from %s", path)
	}

	extractor := feature.NewExtractor(set)
	fallback := rules.NewClassifier(set)

	var tagger rules.Tagger
	if cfg.ThreatLens.Rules.SigmaEnabled {
		if strings.TrimSpace(cfg.ThreatLens.Rules.SigmaPath) == "" {
			logger.Warnf("Sigma enabled but rules.sigma_path is empty; Sigma tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.ThreatLens.Rules.SigmaPath)
			if err != nil {
				return nil, fmt.Errorf("load sigma rules: %w", err)
			}
			tagger = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; Sigma tagging is effectively disabled")
			}
		}
	}

	clsCfg := classifier.DefaultConfig()
	clsCfg.MinTrainingSamples = cfg.ThreatLens.Models.MinTrainingSamples

	eng := engine.New(engine.Options{
		Extractor:        extractor,
		Fallback:         fallback,
		Tagger:           tagger,
		Metrics:          m,
		ClassifierConfig: clsCfg,
		AnomalyConfig:    anomaly.DefaultIsolationConfig(),
		ModelsDir:        cfg.ThreatLens.Models.Dir,
	})
	if cfg.ThreatLens.Models.AutoLoad {
		eng.LoadModels(cfg.ThreatLens.Models.Dir)
	}
	return eng, nil
}

func newThreatWriter(cfg *config.Config) (pipeline.ThreatWriter, error) {
	switch cfg.ThreatLens.Output.Mode {
	case "file":
		w, err := threatjson.NewWriter(cfg.ThreatLens.Output.File.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("Output mode: file (%s)", cfg.ThreatLens.Output.File.Path)
		return w, nil
	case "http":
		w, err := threathttp.NewWriter(threathttp.Config{
			URL:     cfg.ThreatLens.Output.HTTP.URL,
			Timeout: cfg.ThreatLens.Output.HTTP.Timeout,
			Headers: cfg.ThreatLens.Output.HTTP.Headers,
		})
		if err != nil {
			return nil, err
		}
		logger.Infof("Output mode: http (%s)", cfg.ThreatLens.Output.HTTP.URL)
		return w, nil
	case "clickhouse":
		w, err := threatclickhouse.NewWriter(threatclickhouse.Config{
			URL:      cfg.ThreatLens.Output.ClickHouse.URL,
			Database: cfg.ThreatLens.Output.ClickHouse.Database,
			Table:    cfg.ThreatLens.Output.ClickHouse.Table,
			Username: cfg.ThreatLens.Output.ClickHouse.Username,
			Password: cfg.ThreatLens.Output.ClickHouse.Password,
			Timeout:  cfg.ThreatLens.Output.ClickHouse.Timeout,
			Headers:  cfg.ThreatLens.Output.ClickHouse.Headers,
		})
		if err != nil {
			return nil, err
		}
		logger.Infof("Output mode: clickhouse (%s/%s.%s)", cfg.ThreatLens.Output.ClickHouse.URL, cfg.ThreatLens.Output.ClickHouse.Database, cfg.ThreatLens.Output.ClickHouse.Table)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown output mode: %s", cfg.ThreatLens.Output.Mode)
	}
}

func runServe(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.ThreatLens.Logging.Enabled, cfg.ThreatLens.Logging.Level, cfg.ThreatLens.Logging.File, cfg.ThreatLens.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("ThreatLens starting")
	logger.Infof("Config loaded from: %s", configPath)

	m := metrics.New()

	eng, err := buildAnalysis(cfg, m)
	if err != nil {
		logger.Fatalf("Failed to build analysis engine: %v", err)
	}

	ueba, err := behavior.NewAnalytics(behavior.Config{
		MaxUsers:              cfg.ThreatLens.Behavior.MaxUsers,
		BaselineMinActivities: cfg.ThreatLens.Behavior.BaselineMinActivities,
		HistoryCap:            cfg.ThreatLens.Behavior.HistoryCap,
	})
	if err != nil {
		logger.Fatalf("Failed to create behavior engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pipe *pipeline.RedisThreatPipeline
	if strings.TrimSpace(cfg.ThreatLens.Input.Redis.Key) != "" {
		consumer, err := inputredis.NewConsumer(inputredis.Config{
			Addr:         cfg.ThreatLens.Input.Redis.Addr,
			Password:     cfg.ThreatLens.Input.Redis.Password,
			DB:           cfg.ThreatLens.Input.Redis.DB,
			Key:          cfg.ThreatLens.Input.Redis.Key,
			BlockTimeout: cfg.ThreatLens.Input.Redis.BlockTimeout,
		})
		if err != nil {
			logger.Fatalf("Failed to create Redis consumer: %v", err)
		}

		writer, err := newThreatWriter(cfg)
		if err != nil {
			logger.Fatalf("Failed to create threat writer: %v", err)
		}

		pipe = pipeline.NewRedisThreatPipeline(
			consumer,
			eng,
			ueba,
			writer,
			m,
			cfg.ThreatLens.Pipeline.Workers,
			cfg.ThreatLens.Pipeline.BatchSize,
			cfg.ThreatLens.Pipeline.FlushInterval,
		)
		go func() {
			if err := pipe.Run(ctx); err != nil && err != context.Canceled {
				logger.Errorf("Pipeline error: %v", err)
			}
		}()
	} else {
		logger.Infof("Redis key not configured; streaming pipeline disabled")
	}

	if cfg.ThreatLens.Server.Enabled {
		srv := server.New(cfg.ThreatLens.Server.Addr, eng, ueba)
		go func() {
			if err := srv.Run(ctx); err != nil && err != context.Canceled {
				logger.Errorf("HTTP server error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if pipe != nil {
		if err := pipe.Close(); err != nil {
			logger.Errorf("Error closing pipeline: %v", err)
		}
	}

	logger.Infof("ThreatLens stopped")
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	input := fs.String("input", "events.jsonl", "Event JSONL input path")
	output := fs.String("output", "output/threats.jsonl", "Threat JSONL output path")
	modelsDir := fs.String("models-dir", "", "Directory with persisted models (optional)")
	indicators := fs.String("indicators", "", "Indicator YAML file (optional)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	set := rules.DefaultIndicatorSet()
	if strings.TrimSpace(*indicators) != "" {
		loaded, err := rules.LoadIndicatorSet(*indicators)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load indicators: %v\n", err)
			return 1
		}
		set = loaded
	}
	extractor := feature.NewExtractor(set)
	fallback := rules.NewClassifier(set)

	eng := engine.New(engine.Options{
		Extractor:        extractor,
		Fallback:         fallback,
		ClassifierConfig: classifier.DefaultConfig(),
		AnomalyConfig:    anomaly.DefaultIsolationConfig(),
	})
	if strings.TrimSpace(*modelsDir) != "" {
		eng.LoadModels(*modelsDir)
	}

	events, err := loadEventsJSONL(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load events: %v\n", err)
		return 1
	}

	report := eng.AnalyzeBatch(events)
	if err := writeJSONLines(*output, report.Threats); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write threats: %v\n", err)
		return 1
	}

	fmt.Printf("analyzed events=%d threats=%d output=%s\n", report.TotalAnalyzed, report.ThreatCount, *output)
	return 0
}

func runTrain(args []string) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	input := fs.String("input", "labeled.jsonl", "Labeled event JSONL input path")
	modelsDir := fs.String("models-dir", "models", "Directory to persist trained models")
	minSamples := fs.Int("min-samples", 10, "Minimum labeled samples required")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	set := rules.DefaultIndicatorSet()
	extractor := feature.NewExtractor(set)
	fallback := rules.NewClassifier(set)

	clsCfg := classifier.DefaultConfig()
	clsCfg.MinTrainingSamples = *minSamples

	eng := engine.New(engine.Options{
		Extractor:        extractor,
		Fallback:         fallback,
		ClassifierConfig: clsCfg,
		AnomalyConfig:    anomaly.DefaultIsolationConfig(),
		ModelsDir:        *modelsDir,
	})

	events, err := loadEventsJSONL(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load events: %v\n", err)
		return 1
	}

	report, err := eng.Train(events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		return 1
	}
	if _, err := eng.FitAnomaly(events); err != nil {
		fmt.Fprintf(os.Stderr, "anomaly fit failed: %v\n", err)
		return 1
	}

	fmt.Printf("trained samples=%d classes=%d models=%s\n", report.Samples, len(report.Classes), *modelsDir)
	for name, acc := range report.ModelAccuracy {
		fmt.Printf("  %s accuracy=%.3f\n", name, acc)
	}
	return 0
}

func loadEventsJSONL(path string) ([]*models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []*models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		event, err := models.ParseEvent([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "analyze":
			os.Exit(runAnalyze(os.Args[2:]))
		case "train":
			os.Exit(runTrain(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runServe(os.Args[1:])
			return
		}
	}

	runServe(nil)
}
