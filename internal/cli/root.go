package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "vitalsync",
	Short: "VitalSync - Wearable Data Integration Service",
	Long: `VitalSync manages OAuth connections to a wearable data provider and
serves sleep, recovery, workout and cycle data through a resilient API.

It owns the full token lifecycle (refresh, rotation, invalidation),
enforces the provider's rate limits, and shields callers from transient
upstream failures with retries and a circuit breaker.

Use "vitalsync [command] --help" for more information about a command.`,
}

var globalFlags GlobalFlags

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv("VITALSYNC_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	dbPath := os.Getenv("VITALSYNC_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/vitalsync.db"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command with the given arguments
func Execute(args []string) error {
	InitRoot()
	RootCmd.SetArgs(args)
	return RootCmd.Execute()
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of VitalSync",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("VitalSync Version: %s\n", version)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// version is stamped at build time via -ldflags.
var version = "0.1.0"
