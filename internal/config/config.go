// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	// DefaultModel is the chat model used for taxonomy reconciliation
	DefaultModel = "gpt-4o"

	// DefaultLogLevel is used when TRENDS_LOG_LEVEL is unset
	DefaultLogLevel = "info"
)

// Config holds the environment-provided settings. Zero numeric values mean "use the
// component default".
type Config struct {
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	Model          string
	VoyageAPIKey   string
	EmbeddingModel string

	PineconeAPIKey string
	PineconeHost   string

	DistanceThreshold float64
	WindowDays        int
	MaxTopics         int

	// Temperature is the classifier sampling temperature. Nil leaves the provider default.
	Temperature *float32

	// DumpDir receives every classifier request/response pair when set
	DumpDir string

	LogLevel string
}

// PineconeEnabled reports whether both Pinecone settings are present
func (c *Config) PineconeEnabled() bool {
	return c.PineconeAPIKey != "" && c.PineconeHost != ""
}

// Load reads .env from the working directory when present, then the environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv paths. Missing files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	cfg := &Config{
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		Model:          getenv("TRENDS_MODEL", DefaultModel),
		VoyageAPIKey:   os.Getenv("VOYAGEAI_API_KEY"),
		EmbeddingModel: os.Getenv("TRENDS_EMBEDDING_MODEL"),
		PineconeAPIKey: os.Getenv("PINECONE_API_KEY"),
		PineconeHost:   os.Getenv("PINECONE_HOST"),
		DumpDir:        os.Getenv("TRENDS_DUMP_DIR"),
		LogLevel:       getenv("TRENDS_LOG_LEVEL", DefaultLogLevel),
	}

	var err error
	if cfg.DistanceThreshold, err = parseFloat("TRENDS_DISTANCE_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.WindowDays, err = parseInt("TRENDS_WINDOW_DAYS"); err != nil {
		return nil, err
	}
	if cfg.MaxTopics, err = parseInt("TRENDS_MAX_TOPICS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("TRENDS_TEMPERATURE"); v != "" {
		t, err := parseFloat("TRENDS_TEMPERATURE")
		if err != nil {
			return nil, err
		}
		temperature := float32(t)
		cfg.Temperature = &temperature
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative integer", key, v)
	}
	return n, nil
}

func parseFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative number", key, v)
	}
	return f, nil
}
