package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/store"
)

// connectionsCmd lists the stored connections straight from the database,
// without needing a running server.
var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conns", "ls"},
	Short:   "List stored provider connections",
	Long: `List every principal with a stored credential, its state and token
expiry. Reads the SQLite database directly.

Example:
  vitalsync connections --db ./data/vitalsync.db`,
	RunE: runConnections,
}

func init() {
	RootCmd.AddCommand(connectionsCmd)
}

func runConnections(cmd *cobra.Command, args []string) error {
	s, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	creds := s.ListActiveCredentials()
	stats := s.Stats()

	if globalFlags.JSON {
		out := map[string]interface{}{
			"credentials":        stats.Credentials,
			"active_credentials": stats.ActiveCredentials,
			"pending_auth_flows": stats.PendingAuthFlows,
			"connections":        creds,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(creds) == 0 {
		fmt.Printf("No active connections (%d credentials total).\n", stats.Credentials)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRINCIPAL\tPROVIDER USER\tEXPIRES\tSCOPES")
	now := time.Now()
	for _, cred := range creds {
		expires := "-"
		if !cred.ExpiresAt.IsZero() {
			expires = cred.ExpiresAt.Sub(now).Truncate(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cred.PrincipalID, cred.ProviderUserID, expires, cred.ScopesString())
	}
	w.Flush()

	fmt.Printf("\n%d active of %d total, %d pending auth flows\n",
		stats.ActiveCredentials, stats.Credentials, stats.PendingAuthFlows)
	return nil
}
