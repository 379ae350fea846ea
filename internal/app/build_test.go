package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/dyadchat/internal/config"
)

func writeCatalog(t *testing.T, dir string) {
	t.Helper()
	items := `[
		{"id":"c1","question_type":"counting","user_1_question":"How many?","options":["1","2"]},
		{"id":"c2","question_type":"counting","user_1_question":"How many?","options":["1","2"]}
	]`
	if err := os.WriteFile(filepath.Join(dir, "sampled_counting_v4.json"), []byte(items), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func testConfig(dir string) config.Config {
	return config.Config{
		MetricsNamespace:     fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		DataDir:              filepath.Join(dir, "state"),
		CatalogDir:           dir,
		TranscriptPath:       filepath.Join(dir, "state", "transcripts.ndjson"),
		QuestionType:         "counting",
		QuestionsPerCategory: map[string]int{"counting": 2},
		MaxTurns:             2,
		RequireDistinctPID:   true,
		PairingTimeout:       time.Minute,
	}
}

func TestBuildWiresFileBackedState(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir)
	cfg := testConfig(dir)

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if got := res.Deck.Status().Total; got != 2 {
		t.Fatalf("deck total = %d, want 2", got)
	}
	if _, err := os.Stat(DeckPath(cfg)); err != nil {
		t.Fatalf("deck state not persisted at %s: %v", DeckPath(cfg), err)
	}
	if res.API == nil || res.Sessions == nil || res.Transcripts == nil {
		t.Fatalf("Build() left components nil: %+v", res)
	}
	if mode := transcriptMode(cfg); mode != "file" {
		t.Fatalf("transcriptMode() = %q, want file", mode)
	}
}

func TestBuildFailsWithoutCatalog(t *testing.T) {
	dir := t.TempDir()
	if _, err := Build(context.Background(), testConfig(dir), nil); err == nil {
		t.Fatalf("Build() error = nil, want missing catalog error")
	}
}
