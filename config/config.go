package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ThreatLens ThreatLensConfig `yaml:"threatlens"`
}

// ThreatLensConfig is the project configuration.
type ThreatLensConfig struct {
	Input    InputConfig    `yaml:"input"`
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Rules    RulesConfig    `yaml:"rules"`
	Models   ModelsConfig   `yaml:"models"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RulesConfig controls indicator content and Sigma tagging.
type RulesConfig struct {
	IndicatorsPath string `yaml:"indicators_path"`
	SigmaEnabled   bool   `yaml:"sigma_enabled"`
	SigmaPath      string `yaml:"sigma_path"`
}

// ModelsConfig controls model persistence and training.
type ModelsConfig struct {
	Dir                string `yaml:"dir"`
	AutoLoad           bool   `yaml:"auto_load"`
	MinTrainingSamples int    `yaml:"min_training_samples"`
}

// BehaviorConfig controls the user behavior engine.
type BehaviorConfig struct {
	MaxUsers              int `yaml:"max_users"`
	BaselineMinActivities int `yaml:"baseline_min_activities"`
	HistoryCap            int `yaml:"history_cap"`
}

// OutputConfig controls the threat sink.
type OutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// FileOutputConfig config for local JSONL output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
