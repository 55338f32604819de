// Package config loads daemon configuration from the environment (optionally
// a .env file) with a YAML file as base layer, then applies defaults.
// Components receive the resolved structs at construction and never read the
// environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	Database DatabaseConfig  `yaml:"database"`
	Vector   VectorConfig    `yaml:"vector"`
	Redis    RedisConfig     `yaml:"redis"`
	S3       S3Config        `yaml:"s3"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	OTel     TelemetryConfig `yaml:"otel"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Generative GenerativeConfig `yaml:"generative"`

	Ingestion IngestionConfig `yaml:"ingestion"`
	Linker    LinkerConfig    `yaml:"linker"`
	Relations RelationsConfig `yaml:"relations"`
	NER       NERConfig       `yaml:"ner"`
	Query     QueryConfig     `yaml:"query"`
	Video     VideoConfig     `yaml:"video"`
}

type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

type VectorConfig struct {
	// DSN of the qdrant gRPC endpoint; empty selects the in-memory store.
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// EmbeddingTierConfig is one entry of the tier→endpoint table.
type EmbeddingTierConfig struct {
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_seconds"`
}

type EmbeddingsConfig struct {
	// Tier selects the primary provider: local-small | hosted-standard | hosted-large.
	Tier     string                         `yaml:"tier"`
	Fallback []string                       `yaml:"fallback"`
	Tiers    map[string]EmbeddingTierConfig `yaml:"tiers"`
	// BatchSize is loaded and defaulted to 32; the pipeline's embed stage does
	// not read it and sends batches of 32 chunks per provider call.
	BatchSize int `yaml:"batch_size"`
}

// GenerativeTierConfig is one entry of the generative tier table.
type GenerativeTierConfig struct {
	BaseURL    string  `yaml:"base_url"`
	APIKey     string  `yaml:"api_key"`
	Model      string  `yaml:"model"`
	TimeoutSec int     `yaml:"timeout_seconds"`
	CostPer1K  float64 `yaml:"cost_per_1k_tokens"`
}

type GenerativeConfig struct {
	// Tier selects the default provider: nano | mini | standard | pro.
	Tier     string                          `yaml:"tier"`
	Fallback []string                        `yaml:"fallback"`
	Tiers    map[string]GenerativeTierConfig `yaml:"tiers"`
}

type IngestionConfig struct {
	ChunkSizeBytes          int `yaml:"chunk_size_bytes"`
	OverlapBytes            int `yaml:"overlap_bytes"`
	WorkerConcurrency       int `yaml:"worker_concurrency"`
	MaxAutomaticRetries     int `yaml:"max_automatic_retries"`
	MaxManualRetries        int `yaml:"max_manual_retries"`
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds"`
	JobRetentionSeconds     int `yaml:"job_retention_seconds"`
	// StageTimeoutSeconds maps stage name → ceiling.
	StageTimeoutSeconds map[string]int `yaml:"stage_timeout_seconds"`
	// CorefEnabled toggles the advisory coreference stage.
	CorefEnabled bool `yaml:"coref_enabled"`
}

type LinkerConfig struct {
	ExactThreshold float64 `yaml:"exact_threshold"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	BatchSize      int     `yaml:"batch_size"`
}

type RelationsConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	VerifyWithLM        bool    `yaml:"verify_with_lm"`
}

type NERConfig struct {
	// Backend selects the tagger: pattern | onnx.
	Backend   string `yaml:"backend"`
	ModelPath string `yaml:"model_path"`
	// LMFallback re-examines low-confidence chunks with the generative provider.
	LMFallback bool `yaml:"lm_fallback"`
}

type QueryConfig struct {
	K int `yaml:"k"`
}

type VideoConfig struct {
	// WhisperModelPath points at a ggml model file; empty disables the
	// video extractor.
	WhisperModelPath string `yaml:"whisper_model_path"`
}

// Load reads CITEGRAPH_CONFIG (YAML, optional), overlays environment
// variables, and applies defaults.
func Load() (Config, error) {
	_ = godotenv.Overload()

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CITEGRAPH_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	cfg.LogPath = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_PATH")), cfg.LogPath)
	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), cfg.LogLevel)
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.ConnectionString = v
	}
	if v := strings.TrimSpace(os.Getenv("QDRANT_DSN")); v != "" {
		cfg.Vector.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = v
		cfg.Kafka.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_TIER")); v != "" {
		cfg.Embeddings.Tier = v
	}
	if v := strings.TrimSpace(os.Getenv("GENERATIVE_TIER")); v != "" {
		cfg.Generative.Tier = v
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8420
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "citegraph_chunks"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "citegraph.jobs"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "citegraph"
	}

	if cfg.Embeddings.Tier == "" {
		cfg.Embeddings.Tier = "local-small"
	}
	if cfg.Embeddings.BatchSize <= 0 {
		cfg.Embeddings.BatchSize = 32
	}
	if cfg.Generative.Tier == "" {
		cfg.Generative.Tier = "mini"
	}

	ing := &cfg.Ingestion
	if ing.ChunkSizeBytes <= 0 {
		ing.ChunkSizeBytes = 1000
	}
	if ing.OverlapBytes <= 0 {
		ing.OverlapBytes = 200
	}
	if ing.OverlapBytes >= ing.ChunkSizeBytes {
		ing.OverlapBytes = ing.ChunkSizeBytes / 5
	}
	if ing.WorkerConcurrency <= 0 {
		ing.WorkerConcurrency = 4
	}
	if ing.MaxAutomaticRetries <= 0 {
		ing.MaxAutomaticRetries = 3
	}
	if ing.MaxManualRetries <= 0 {
		ing.MaxManualRetries = 10
	}
	if ing.HeartbeatTimeoutSeconds <= 0 {
		ing.HeartbeatTimeoutSeconds = 300
	}
	if ing.JobRetentionSeconds <= 0 {
		ing.JobRetentionSeconds = 7 * 24 * 3600
	}
	if ing.StageTimeoutSeconds == nil {
		ing.StageTimeoutSeconds = map[string]int{}
	}
	for stage, secs := range map[string]int{
		"extract": 60, "chunk": 10, "coref": 30, "ner": 60,
		"link": 30, "relate": 60, "embed": 60, "index": 15,
	} {
		if ing.StageTimeoutSeconds[stage] <= 0 {
			ing.StageTimeoutSeconds[stage] = secs
		}
	}

	if cfg.Linker.ExactThreshold <= 0 {
		cfg.Linker.ExactThreshold = 0.90
	}
	if cfg.Linker.FuzzyThreshold <= 0 {
		cfg.Linker.FuzzyThreshold = 0.70
	}
	if cfg.Linker.BatchSize <= 0 {
		cfg.Linker.BatchSize = 100
	}
	if cfg.Relations.ConfidenceThreshold <= 0 {
		cfg.Relations.ConfidenceThreshold = 0.70
	}
	if cfg.NER.Backend == "" {
		cfg.NER.Backend = "pattern"
	}
	if cfg.Query.K <= 0 {
		cfg.Query.K = 8
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
