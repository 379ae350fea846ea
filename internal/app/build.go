package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/antoniostano/dyadchat/internal/catalog"
	"github.com/antoniostano/dyadchat/internal/config"
	"github.com/antoniostano/dyadchat/internal/deck"
	"github.com/antoniostano/dyadchat/internal/httpapi"
	"github.com/antoniostano/dyadchat/internal/ledger"
	"github.com/antoniostano/dyadchat/internal/observability"
	"github.com/antoniostano/dyadchat/internal/session"
	"github.com/antoniostano/dyadchat/internal/transcript"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Deck        *deck.Scheduler
	Transcripts transcript.Store
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// DeckPath is where the deck state for a question type is persisted.
func DeckPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "deck_state_"+cfg.QuestionType+".json")
}

// OpenDeck loads the catalog and the persisted deck for the configured
// question type.
func OpenDeck(cfg config.Config, logger *slog.Logger) (*deck.Scheduler, *catalog.Catalog, error) {
	items, demo, err := catalog.Load(cfg.CatalogDir, cfg.QuestionType, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog load failed: %w", err)
	}
	sched, err := deck.Open(DeckPath(cfg), items, deck.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("deck open failed: %w", err)
	}
	return sched, demo, nil
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sched, demo, err := OpenDeck(cfg, logger)
	if err != nil {
		return nil, err
	}
	seen, err := ledger.Open(filepath.Join(cfg.DataDir, "seen_pids.json"), ledger.FormatFlags)
	if err != nil {
		return nil, fmt.Errorf("seen identities ledger: %w", err)
	}
	completed, err := ledger.Open(filepath.Join(cfg.DataDir, "completed_items.json"), ledger.FormatList)
	if err != nil {
		return nil, fmt.Errorf("completed items ledger: %w", err)
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.TranscriptPath)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	plan := deck.Plan{
		QuestionType: cfg.QuestionType,
		PerCategory:  cfg.PerCategory(),
		Demo:         demo,
	}
	if plan.DemoOnly() {
		logger.Warn("one question per session and a demo catalog: every pair will be blocked",
			"question_type", cfg.QuestionType, "demo_items", demo.Len())
	}

	sessions := session.NewManager(session.Config{
		MaxTurns:             cfg.MaxTurns,
		QuestionType:         cfg.QuestionType,
		Plan:                 plan,
		RequireDistinct:      cfg.RequireDistinctPID,
		BlockRepeat:          cfg.BlockRepeatPID,
		StopWhenDeckComplete: cfg.StopWhenDeckComplete,
		PairingTimeout:       cfg.PairingTimeout,
		DisconnectGrace:      cfg.DisconnectGrace,
		NextQuestionDelay:    cfg.NextQuestionDelay,
		FinalAnswerGrace:     cfg.FinalAnswerGrace,
		BlockedCloseDelay:    cfg.BlockedCloseDelay,
		StartupGrace:         cfg.StartupGrace,
		PersistTimeout:       cfg.PersistTimeout,
	}, session.Deps{
		Deck:      sched,
		Seen:      seen,
		Completed: completed,
		Recorder:  transcript.NewRecorder(store, logger),
		Metrics:   metrics,
		Logger:    logger,
	})

	api := httpapi.New(cfg, sessions, metrics, logger)

	status := sched.Status()
	logger.Info("service built",
		"question_type", cfg.QuestionType,
		"items", status.Total,
		"marked", status.Marked,
		"demo_items", demo.Len(),
		"seen_identities", seen.Len(),
		"transcripts", transcriptMode(cfg),
	)

	cleanup := func() error {
		var errs []string
		sessions.Shutdown()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Deck:        sched,
		Transcripts: store,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}

func transcriptMode(cfg config.Config) string {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(cfg.TranscriptPath) != "":
		return "file"
	default:
		return "memory"
	}
}
