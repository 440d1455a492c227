package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/store"
)

// checkCmd validates the local setup: config parses, database opens.
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"doctor"},
	Short:   "Validate configuration and database",
	Long: `Check that the configuration file parses and validates, and that the
SQLite database can be opened and migrated. Exits non-zero on the first
problem found.

Example:
  vitalsync check --config config.yaml --db ./data/vitalsync.db`,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	var results []checkResult
	failed := false

	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		results = append(results, checkResult{Name: "config", OK: false, Detail: err.Error()})
		failed = true
	} else {
		results = append(results, checkResult{
			Name:   "config",
			OK:     true,
			Detail: fmt.Sprintf("provider %s, port %d", cfg.Provider.BaseURL, cfg.Server.HTTPPort),
		})
	}

	if s, err := store.NewSQLiteStore(globalFlags.DBPath); err != nil {
		results = append(results, checkResult{Name: "database", OK: false, Detail: err.Error()})
		failed = true
	} else {
		stats := s.Stats()
		s.Close()
		results = append(results, checkResult{
			Name:   "database",
			OK:     true,
			Detail: fmt.Sprintf("%d credentials, %d active", stats.Credentials, stats.ActiveCredentials),
		})
	}

	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			mark := "✓"
			if !r.OK {
				mark = "✗"
			}
			fmt.Printf("%s %s: %s\n", mark, r.Name, r.Detail)
		}
	}

	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}
