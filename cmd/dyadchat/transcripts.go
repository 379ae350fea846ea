package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antoniostano/dyadchat/internal/transcript"
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Print the most recent transcript records as NDJSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := transcript.NewStore(cmd.Context(), cfg.DatabaseURL, cfg.TranscriptPath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transcriptsCmd)
	transcriptsCmd.Flags().IntP("limit", "n", 10, "Number of records to print")
}
