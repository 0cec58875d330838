package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/pkg/admin"
	"github.com/getmockd/hookd/pkg/cli/internal/output"
)

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin API",
	Long: `Mint an HS256 token accepted by an admin API started with the same
--jwt-secret (or HOOKD_ADMIN_JWT_SECRET). Pass it to other commands with
--api-key or HOOKD_ADMIN_API_KEY.`,
	Example: `  export HOOKD_ADMIN_API_KEY=$(hookd token --secret "$HOOKD_ADMIN_JWT_SECRET" --ttl 1h)`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenSecret == "" {
			return errors.New("--secret is required (or set HOOKD_ADMIN_JWT_SECRET)")
		}
		if tokenTTL <= 0 {
			return fmt.Errorf("--ttl must be positive, got %s", tokenTTL)
		}
		tok, err := admin.NewToken([]byte(tokenSecret), tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(map[string]any{
				"token":     tok,
				"subject":   tokenSubject,
				"expiresAt": time.Now().Add(tokenTTL).UTC(),
			})
		}
		fmt.Fprintln(output.Stdout, tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("HOOKD_ADMIN_JWT_SECRET"), "Signing secret shared with the server")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
