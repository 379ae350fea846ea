package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/antoniostano/dyadchat/internal/app"
)

var deckCmd = &cobra.Command{
	Use:   "deck",
	Short: "Inspect the persisted question deck",
}

var deckStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print deck progress for the configured question type",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, _, err := app.OpenDeck(cfg, slog.Default())
		if err != nil {
			return err
		}
		st := sched.Status()
		out := map[string]any{
			"question_type": cfg.QuestionType,
			"path":          app.DeckPath(cfg),
			"total":         st.Total,
			"marked":        st.Marked,
			"remaining":     st.Total - st.Marked,
			"cursor":        st.Cursor,
			"exhausted":     sched.Exhausted(),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
		return nil
	},
}

func init() {
	deckCmd.AddCommand(deckStatusCmd)
	rootCmd.AddCommand(deckCmd)
}
