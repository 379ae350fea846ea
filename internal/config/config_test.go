package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":3000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":3000")
	}
	if cfg.MaxTurns != 10 || cfg.QuestionType != "counting" {
		t.Fatalf("MaxTurns, QuestionType = %d, %q", cfg.MaxTurns, cfg.QuestionType)
	}
	if !cfg.RequireDistinctPID || !cfg.BlockRepeatPID || !cfg.StopWhenDeckComplete {
		t.Fatalf("identity guards should default on: %+v", cfg)
	}
	if cfg.DisconnectGrace != 3*time.Second || cfg.NextQuestionDelay != 1500*time.Millisecond {
		t.Fatalf("DisconnectGrace, NextQuestionDelay = %v, %v", cfg.DisconnectGrace, cfg.NextQuestionDelay)
	}
	if cfg.CatalogDir != "./data" || cfg.TranscriptPath != "data/transcripts.ndjson" {
		t.Fatalf("CatalogDir, TranscriptPath = %q, %q", cfg.CatalogDir, cfg.TranscriptPath)
	}
	if got := cfg.PerCategory(); len(got) != 1 || got["counting"] != 3 {
		t.Fatalf("PerCategory() = %v", got)
	}
	if got := cfg.Categories(); len(got) != len(DefaultCategories) {
		t.Fatalf("Categories() = %v", got)
	}
}

func TestLoadQuestionsPerCategoryOverride(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("QUESTION_TYPE", "all_types")
	t.Setenv("QUESTIONS_PER_CATEGORY", `{"counting":5,"anchor":0,"ordering":2}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := cfg.PerCategory()
	if got["counting"] != 5 || got["ordering"] != 2 || got["spatial"] != 3 {
		t.Fatalf("PerCategory() = %v", got)
	}
	if _, ok := got["anchor"]; ok {
		t.Fatalf("zero count should drop category: %v", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"QUESTIONS_PER_CATEGORY": `{"counting":"x"}`,
		"MAX_TURNS":              "0",
		"APP_DISCONNECT_GRACE":   "soon",
		"BLOCK_REPEAT_PID":       "maybe",
		"APP_LOG_FORMAT":         "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadNegativeCountRejected(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("QUESTIONS_PER_CATEGORY", `{"counting":-1}`)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want negative count error")
	}
}

func TestLoadExplicitDirs(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_DATA_DIR", "/srv/dyad")
	t.Setenv("REQUIRE_DISTINCT_PID", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CatalogDir != "/srv/dyad" || cfg.TranscriptPath != "/srv/dyad/transcripts.ndjson" {
		t.Fatalf("CatalogDir, TranscriptPath = %q, %q", cfg.CatalogDir, cfg.TranscriptPath)
	}
	if cfg.RequireDistinctPID {
		t.Fatalf("RequireDistinctPID = true, want false")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_DATA_DIR",
		"APP_CATALOG_DIR",
		"APP_TRANSCRIPT_PATH",
		"QUESTION_TYPE",
		"QUESTIONS_PER_CATEGORY",
		"MAX_TURNS",
		"REQUIRE_DISTINCT_PID",
		"BLOCK_REPEAT_PID",
		"STOP_WHEN_DECK_COMPLETE",
		"APP_PAIRING_TIMEOUT",
		"APP_DISCONNECT_GRACE",
		"APP_NEXT_QUESTION_DELAY",
		"APP_FINAL_ANSWER_GRACE",
		"APP_STARTUP_GRACE",
		"APP_BLOCKED_CLOSE_DELAY",
		"APP_PERSIST_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
