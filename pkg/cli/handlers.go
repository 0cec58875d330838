package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
	"github.com/getmockd/hookd/pkg/config"
	"github.com/getmockd/hookd/pkg/handler"
)

var handlersTCP bool

var handlersCmd = &cobra.Command{
	Use:     "handlers",
	Aliases: []string{"handler", "h"},
	Short:   "Manage HTTP and TCP handlers",
}

var handlersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List handlers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newClient()
		if handlersTCP {
			list, err := client.ListTCPHandlers(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(list)
			}
			w := output.Table()
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tUPDATED")
			for _, h := range list {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", h.ID, h.Name, h.Enabled, h.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		}

		list, err := client.ListHandlers(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(list)
		}
		w := output.Table()
		fmt.Fprintln(w, "ORDER\tID\tMETHOD\tPATH\tNAME")
		for _, h := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", h.Order, h.ID, methodLabel(h), h.Path, h.Name)
		}
		return w.Flush()
	},
}

var handlersGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a handler including its code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if handlersTCP {
			h, err := client.GetTCPHandler(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(h)
			}
			fmt.Fprintf(output.Stdout, "ID:       %s\nVersion:  %s\nName:     %s\nEnabled:  %t\n\n%s\n",
				h.ID, h.VersionID, h.Name, h.Enabled, h.Code)
			return nil
		}

		h, err := client.GetHandler(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(h)
		}
		fmt.Fprintf(output.Stdout, "ID:       %s\nVersion:  %s\nName:     %s\nMatch:    %s %s\nOrder:    %d\n\n%s\n",
			h.ID, h.VersionID, h.Name, h.Method, h.Path, h.Order, h.Code)
		return nil
	},
}

var handlersApplyCmd = &cobra.Command{
	Use:   "apply <file>...",
	Short: "Create or update handlers from seed files",
	Long: `Create or update handlers declared in YAML seed files. Handlers are matched
by id, so applying the same file twice updates in place.`,
	Example: `  hookd handlers apply handlers/github.yaml
  hookd handlers apply handlers/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := &config.ValidationResult{}
		var seeds []*config.Seed
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			seeds = append(seeds, config.ParseSeeds(path, data, result)...)
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("invalid seed files:\n%w", err)
		}

		client := newClient()
		var applied []any
		for _, s := range seeds {
			switch s.Kind {
			case config.KindTCP:
				h, err := client.SaveTCPHandler(cmd.Context(), s.TCPHandler())
				if err != nil {
					return fmt.Errorf("%s: %w", s.Source, err)
				}
				applied = append(applied, h)
				if !jsonOutput {
					output.Success("tcp handler %s (version %s)", h.ID, h.VersionID)
				}
			default:
				h, err := client.SaveHandler(cmd.Context(), s.Handler())
				if err != nil {
					return fmt.Errorf("%s: %w", s.Source, err)
				}
				applied = append(applied, h)
				if !jsonOutput {
					output.Success("handler %s %s %s (version %s)", h.ID, h.Method, h.Path, h.VersionID)
				}
			}
		}
		if jsonOutput {
			return output.JSON(applied)
		}
		return nil
	},
}

var handlersDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete handlers",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		for _, id := range args {
			var err error
			if handlersTCP {
				err = client.DeleteTCPHandler(cmd.Context(), id)
			} else {
				err = client.DeleteHandler(cmd.Context(), id)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			output.Success("deleted %s", id)
		}
		return nil
	},
}

var handlersActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the TCP handler new data is dispatched to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := newClient().ActiveTCPHandler(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(h)
		}
		fmt.Fprintf(output.Stdout, "%s %s\n", h.ID, strings.TrimSpace(h.Name))
		return nil
	},
}

func init() {
	handlersCmd.PersistentFlags().BoolVar(&handlersTCP, "tcp", false, "Operate on TCP handlers")
	handlersCmd.AddCommand(handlersListCmd, handlersGetCmd, handlersApplyCmd, handlersDeleteCmd, handlersActiveCmd)
	rootCmd.AddCommand(handlersCmd)
}

// methodLabel renders a handler's method for tables.
func methodLabel(h *handler.Handler) string {
	if h.IsWildcardMethod() {
		return "ANY"
	}
	return h.Method
}
