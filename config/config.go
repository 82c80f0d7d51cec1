package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EncoderTFIDF  = "tfidf"
	EncoderCohere = "cohere"
	EncoderOpenAI = "openai"
	EncoderTEI    = "tei"

	SourceMongo  = "mongo"
	SourceQdrant = "qdrant"
)

var ErrMissingAPIKey = errors.New("embedding provider requires an api key")

type Config struct {
	AppPort    int    `yaml:"app_port"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_db"`
	LedgerPath string `yaml:"ledger_path"`

	// PublishedPending is the value of the article "pending" flag that marks
	// an article as published.
	PublishedPending bool `yaml:"published_pending"`

	Encoder   EncoderConfig   `yaml:"encoder"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Recommend RecommendConfig `yaml:"recommend"`

	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
	KafkaURL   string `yaml:"kafka_url"`
	KafkaTopic string `yaml:"kafka_topic"`
}

type EncoderConfig struct {
	Kind        string        `yaml:"kind"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Dim         int           `yaml:"dim"`
	MaxBatch    int           `yaml:"max_batch"`
	MaxChars    int           `yaml:"max_chars"`
	MinChars    int           `yaml:"min_chars"`
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RPM         int           `yaml:"rpm"`
	TopTerms    int           `yaml:"top_terms"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type PipelineConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	ProgressEvery int           `yaml:"progress_every"`
	WriteBatch    int           `yaml:"write_batch"`
	Cron          string        `yaml:"cron"`
}

type RecommendConfig struct {
	K             int     `yaml:"k"`
	Threshold     float64 `yaml:"threshold"`
	Source        string  `yaml:"source"`
	// MaxCandidates caps a candidate scan; 0 scans every candidate. The
	// qdrant source always pages at most 10000 points.
	MaxCandidates int     `yaml:"max_candidates"`
}

func Default() *Config {
	return &Config{
		AppPort:          8080,
		MongoDB:          "content",
		LedgerPath:       "data/runs.db",
		PublishedPending: true,
		Encoder: EncoderConfig{
			Kind:        EncoderCohere,
			Dim:         1024,
			MaxBatch:    96,
			MaxChars:    2048,
			MinChars:    20,
			MaxRetries:  3,
			Backoff:     500 * time.Millisecond,
			MaxBackoff:  8 * time.Second,
			CallTimeout: 10 * time.Second,
			RPM:         100,

			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		Pipeline: PipelineConfig{
			StaleAfter:    7 * 24 * time.Hour,
			ProgressEvery: 100,
			WriteBatch:    500,
			Cron:          "0 3 * * *",
		},
		Recommend: RecommendConfig{
			K:         5,
			Threshold: 0.15,
			Source:    SourceMongo,
		},
		QdrantPort: 6334,
		KafkaTopic: "articles.vectorized",
	}
}

// Load builds the config from defaults, the optional YAML file named by
// CONFIG_FILE, and environment overrides, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyProviderDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDB, "MONGO_DB")
	setString(&c.LedgerPath, "LEDGER_PATH")
	setString(&c.QdrantHost, "QDRANT_HOST")
	setString(&c.KafkaURL, "KAFKA_URL")
	setString(&c.KafkaTopic, "KAFKA_TOPIC")
	setString(&c.Encoder.Kind, "ENCODER")
	setString(&c.Encoder.BaseURL, "EMBEDDING_URL")
	setString(&c.Encoder.APIKey, "EMBEDDING_API_KEY")
	setString(&c.Encoder.Model, "EMBEDDING_MODEL")
	setString(&c.Pipeline.Cron, "VECTORIZE_CRON")
	setString(&c.Recommend.Source, "RECOMMEND_SOURCE")

	errs = append(errs,
		setInt(&c.AppPort, "APP_PORT"),
		setInt(&c.QdrantPort, "QDRANT_PORT"),
		setInt(&c.Encoder.Dim, "EMBEDDING_DIM"),
		setInt(&c.Encoder.MaxBatch, "EMBEDDING_MAX_BATCH"),
		setInt(&c.Encoder.MaxRetries, "EMBEDDING_MAX_RETRIES"),
		setInt(&c.Encoder.RPM, "EMBEDDING_RPM"),
		setInt(&c.Recommend.K, "RECOMMEND_K"),
		setInt(&c.Recommend.MaxCandidates, "RECOMMEND_MAX_CANDIDATES"),
		setBool(&c.PublishedPending, "PUBLISHED_PENDING"),
		setDuration(&c.Encoder.CallTimeout, "EMBEDDING_TIMEOUT"),
		setDuration(&c.Pipeline.StaleAfter, "VECTOR_STALE_AFTER"),
		setFloat(&c.Recommend.Threshold, "RECOMMEND_THRESHOLD"),
	)
	return errors.Join(errs...)
}

func (c *Config) applyProviderDefaults() {
	if c.Encoder.Model != "" {
		return
	}
	switch c.Encoder.Kind {
	case EncoderCohere:
		c.Encoder.Model = "embed-english-v3.0"
	case EncoderOpenAI:
		c.Encoder.Model = "text-embedding-3-small"
	}
}

// Validate reports configuration that must abort startup.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New("config: MONGO_URI is required")
	}
	switch c.Encoder.Kind {
	case EncoderCohere, EncoderOpenAI:
		if c.Encoder.APIKey == "" {
			return fmt.Errorf("config: encoder %q: %w", c.Encoder.Kind, ErrMissingAPIKey)
		}
	case EncoderTEI:
		if c.Encoder.BaseURL == "" {
			return errors.New("config: encoder \"tei\" requires EMBEDDING_URL")
		}
	case EncoderTFIDF:
		if c.Recommend.Source == SourceQdrant || c.QdrantHost != "" {
			return errors.New("config: qdrant mirror needs a fixed-dimension encoder, not tfidf")
		}
	default:
		return fmt.Errorf("config: unknown encoder %q", c.Encoder.Kind)
	}
	if c.Encoder.Kind != EncoderTFIDF && c.Encoder.Dim <= 0 {
		return errors.New("config: EMBEDDING_DIM must be positive")
	}
	if c.Encoder.MaxBatch <= 0 {
		return errors.New("config: EMBEDDING_MAX_BATCH must be positive")
	}
	if c.Recommend.K <= 0 {
		return errors.New("config: RECOMMEND_K must be positive")
	}
	switch c.Recommend.Source {
	case SourceMongo:
	case SourceQdrant:
		if c.QdrantHost == "" {
			return errors.New("config: RECOMMEND_SOURCE=qdrant requires QDRANT_HOST")
		}
	default:
		return fmt.Errorf("config: unknown recommend source %q", c.Recommend.Source)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
