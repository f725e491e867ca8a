package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"riva/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize persisted session metrics",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	path := cfg.Metrics.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, ".riva", path)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("No sessions recorded yet.")
		return nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open metrics database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT session_id, started_at, duration_ms, llm_calls_total,
		       verifications_total, verifications_skipped, retry_count, success
		FROM sessions ORDER BY started_at DESC LIMIT 20`)
	if err != nil {
		return fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	fmt.Printf("%-14s %-24s %8s %6s %7s %7s %7s %s\n",
		"SESSION", "STARTED", "MS", "LLM", "VERIFY", "SKIP", "RETRY", "RESULT")
	for rows.Next() {
		var id, started string
		var durationMS int64
		var llmCalls, verifications, skipped, retries, success int
		if err := rows.Scan(&id, &started, &durationMS, &llmCalls, &verifications, &skipped, &retries, &success); err != nil {
			return err
		}
		result := "failed"
		if success == 1 {
			result = "verified"
		}
		fmt.Printf("%-14s %-24s %8d %6d %7d %7d %7d %s\n",
			id, started, durationMS, llmCalls, verifications, skipped, retries, result)
	}
	return rows.Err()
}
