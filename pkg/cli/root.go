package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// DefaultAdminURL is where the admin API listens unless configured otherwise.
const DefaultAdminURL = "http://localhost:8081"

var (
	// Persistent flags available to all subcommands
	adminURL   string
	apiKey     string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookd",
	Short: "hookd captures webhooks and TCP traffic and answers them with scripts",
	Long: `hookd records every inbound HTTP request and TCP connection, runs user-defined
JavaScript handlers against them, and keeps the full execution history for inspection.

Run 'hookd serve' to start the capture listeners and the admin API. The other
commands talk to a running instance through the admin API.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	os.Exit(Run())
}

// Run executes the root command and returns the process exit code.
func Run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", envOr("HOOKD_ADMIN_URL", DefaultAdminURL), "Admin API base URL (env HOOKD_ADMIN_URL)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("HOOKD_ADMIN_API_KEY"), "Admin API key or bearer token (env HOOKD_ADMIN_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
