package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/dyadchat/internal/catalog"
)

// DefaultCategories are the question types with a default per-category count.
var DefaultCategories = []string{"counting", "spatial", "anchor", "relative_distance", "perspective_taking"}

const defaultPerCategory = 3

// Config contains all runtime settings for the paired chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DataDir    string
	CatalogDir string

	QuestionType         string
	QuestionsPerCategory map[string]int
	MaxTurns             int

	RequireDistinctPID   bool
	BlockRepeatPID       bool
	StopWhenDeckComplete bool

	PairingTimeout    time.Duration
	DisconnectGrace   time.Duration
	NextQuestionDelay time.Duration
	FinalAnswerGrace  time.Duration
	StartupGrace      time.Duration
	BlockedCloseDelay time.Duration
	PersistTimeout    time.Duration

	DatabaseURL    string
	TranscriptPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "dyadchat"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		DataDir:              envOrDefault("APP_DATA_DIR", "./data"),
		QuestionType:         envOrDefault("QUESTION_TYPE", "counting"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		MaxTurns:             10,
		RequireDistinctPID:   true,
		BlockRepeatPID:       true,
		StopWhenDeckComplete: true,
		PairingTimeout:       10 * time.Minute,
		DisconnectGrace:      3 * time.Second,
		NextQuestionDelay:    1500 * time.Millisecond,
		FinalAnswerGrace:     2 * time.Second,
		StartupGrace:         2 * time.Second,
		BlockedCloseDelay:    500 * time.Millisecond,
		PersistTimeout:       10 * time.Second,
	}
	cfg.CatalogDir = envOrDefault("APP_CATALOG_DIR", cfg.DataDir)
	cfg.TranscriptPath = envOrDefault("APP_TRANSCRIPT_PATH", filepath.Join(cfg.DataDir, "transcripts.ndjson"))

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_PAIRING_TIMEOUT", &cfg.PairingTimeout},
		{"APP_DISCONNECT_GRACE", &cfg.DisconnectGrace},
		{"APP_NEXT_QUESTION_DELAY", &cfg.NextQuestionDelay},
		{"APP_FINAL_ANSWER_GRACE", &cfg.FinalAnswerGrace},
		{"APP_STARTUP_GRACE", &cfg.StartupGrace},
		{"APP_BLOCKED_CLOSE_DELAY", &cfg.BlockedCloseDelay},
		{"APP_PERSIST_TIMEOUT", &cfg.PersistTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"REQUIRE_DISTINCT_PID", &cfg.RequireDistinctPID},
		{"BLOCK_REPEAT_PID", &cfg.BlockRepeatPID},
		{"STOP_WHEN_DECK_COMPLETE", &cfg.StopWhenDeckComplete},
	}
	for _, b := range bools {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}
	cfg.MaxTurns, err = intFromEnv("MAX_TURNS", cfg.MaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.QuestionsPerCategory, err = perCategoryFromEnv("QUESTIONS_PER_CATEGORY")
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxTurns <= 0 {
		return Config{}, fmt.Errorf("MAX_TURNS must be positive")
	}
	if strings.TrimSpace(cfg.QuestionType) == "" {
		return Config{}, fmt.Errorf("QUESTION_TYPE must not be empty")
	}
	if cfg.PairingTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_PAIRING_TIMEOUT must be positive")
	}
	if cfg.DisconnectGrace < 0 || cfg.NextQuestionDelay < 0 || cfg.FinalAnswerGrace < 0 || cfg.StartupGrace < 0 || cfg.BlockedCloseDelay < 0 {
		return Config{}, fmt.Errorf("timing settings must not be negative")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_PERSIST_TIMEOUT must be positive")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or text")
	}

	return cfg, nil
}

// PerCategory returns the question count for each category the configured
// question type draws from.
func (c Config) PerCategory() map[string]int {
	if c.QuestionType != catalog.AllTypes {
		n, ok := c.QuestionsPerCategory[c.QuestionType]
		if !ok {
			n = defaultPerCategory
		}
		return map[string]int{c.QuestionType: n}
	}
	out := make(map[string]int, len(c.QuestionsPerCategory))
	for k, v := range c.QuestionsPerCategory {
		out[k] = v
	}
	return out
}

// Categories lists the configured categories in stable order.
func (c Config) Categories() []string {
	out := make([]string, 0, len(c.QuestionsPerCategory))
	for k := range c.QuestionsPerCategory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// perCategoryFromEnv merges a JSON object of category counts over the
// defaults. A zero count drops the category.
func perCategoryFromEnv(key string) (map[string]int, error) {
	out := make(map[string]int, len(DefaultCategories))
	for _, c := range DefaultCategories {
		out[c] = defaultPerCategory
	}
	v := stringsTrimSpace(key)
	if v == "" {
		return out, nil
	}
	var override map[string]int
	if err := json.Unmarshal([]byte(v), &override); err != nil {
		return nil, fmt.Errorf("%s parse error: %w", key, err)
	}
	for k, n := range override {
		k = strings.TrimSpace(k)
		switch {
		case k == "":
			return nil, fmt.Errorf("%s parse error: empty category", key)
		case n < 0:
			return nil, fmt.Errorf("%s: %s must be >= 0", key, k)
		case n == 0:
			delete(out, k)
		default:
			out[k] = n
		}
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
