// Package config builds the immutable application configuration from a
// .env file, an optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kbqa/kbqa/engine/domain"
)

// Vector store backends.
const (
	BackendBolt   = "bolt"
	BackendQdrant = "qdrant"
)

// Config holds every setting the binaries need. Build it once with Load and
// pass it by value; nothing mutates it afterwards.
type Config struct {
	AppName string `yaml:"app_name"`
	Port    string `yaml:"port"`

	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIBaseURL  string `yaml:"openai_base_url"`
	OpenAIModel    string `yaml:"openai_model"`
	EmbeddingModel string `yaml:"embedding_model"`

	VectorBackend   string `yaml:"vector_backend"`
	VectorDBDir     string `yaml:"vector_db_dir"`
	QdrantURL       string `yaml:"qdrant_url"`
	Collection      string `yaml:"collection"`
	ResetCollection bool   `yaml:"reset_collection"`

	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	DataDir      string `yaml:"data_dir"`
	NATSURL      string `yaml:"nats_url"`

	LogLevel        string        `yaml:"log_level"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BreakerFailures int           `yaml:"breaker_failures"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		AppName:        "kbqa",
		Port:           "8000",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		OpenAIModel:    "gpt-4.1-mini",
		EmbeddingModel: "text-embedding-3-small",
		VectorBackend:  BackendBolt,
		VectorDBDir:    "vectorstore/bolt",
		QdrantURL:      "localhost:6334",
		Collection:     "documents",
		ChunkSize:      500,
		ChunkOverlap:   80,
		DataDir:        "data/raw",
		LogLevel:       "info",
		HTTPTimeout:    30 * time.Second,
		RateLimitBurst: 10,
		CORSOrigin:     "*",
	}
}

// Load reads .env (if present), then the YAML file at path (if path is set
// and the file exists), then environment variables. Later sources win.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, domain.Configurationf("config", "parse %s: %v", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) error {
	c.AppName = envOr("APP_NAME", c.AppName)
	c.Port = envOr("PORT", c.Port)
	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = envOr("OPENAI_MODEL", c.OpenAIModel)
	c.EmbeddingModel = envOr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.VectorBackend = strings.ToLower(envOr("VECTOR_BACKEND", c.VectorBackend))
	c.VectorDBDir = envOr("VECTOR_DB_DIR", c.VectorDBDir)
	c.QdrantURL = envOr("QDRANT_URL", c.QdrantURL)
	c.Collection = envOr("COLLECTION", c.Collection)
	c.DataDir = envOr("DATA_DIR", c.DataDir)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.CORSOrigin = envOr("CORS_ORIGIN", c.CORSOrigin)

	var err error
	if c.ResetCollection, err = envBool("RESET_COLLECTION", c.ResetCollection); err != nil {
		return err
	}
	if c.ChunkSize, err = envInt("CHUNK_SIZE", c.ChunkSize); err != nil {
		return err
	}
	if c.ChunkOverlap, err = envInt("CHUNK_OVERLAP", c.ChunkOverlap); err != nil {
		return err
	}
	if c.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", c.RateLimitBurst); err != nil {
		return err
	}
	if c.BreakerFailures, err = envInt("BREAKER_FAILURES", c.BreakerFailures); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	if c.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return domain.Configurationf("config", "CHUNK_SIZE must be > 0, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return domain.Configurationf("config", "CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	switch c.VectorBackend {
	case BackendBolt:
		if c.VectorDBDir == "" {
			return domain.Configurationf("config", "VECTOR_DB_DIR is required for the bolt backend")
		}
	case BackendQdrant:
		if c.QdrantURL == "" {
			return domain.Configurationf("config", "QDRANT_URL is required for the qdrant backend")
		}
	default:
		return domain.Configurationf("config", "unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	if c.Collection == "" {
		return domain.Configurationf("config", "COLLECTION must not be empty")
	}
	if c.HTTPTimeout <= 0 {
		return domain.Configurationf("config", "HTTP_TIMEOUT must be positive")
	}
	if c.RateLimitRPS < 0 {
		return domain.Configurationf("config", "RATE_LIMIT_RPS must be >= 0")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, domain.Configurationf("config", "%s=%q is not an integer", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, domain.Configurationf("config", "%s=%q is not a number", key, v)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, domain.Configurationf("config", "%s=%q is not a boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, domain.Configurationf("config", "%s=%q is not a duration", key, v)
	}
	return d, nil
}
