package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check if the hookd server is healthy and reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		type healthResult struct {
			Status   string `json:"status"`
			AdminURL string `json:"adminUrl"`
			Error    string `json:"error,omitempty"`
		}

		client := newClient()
		result := healthResult{Status: "healthy", AdminURL: client.BaseURL()}
		err := client.Health(cmd.Context())
		if err != nil {
			result.Status = "unhealthy"
			result.Error = err.Error()
		}

		if jsonOutput {
			if jerr := output.JSON(result); jerr != nil {
				return jerr
			}
		} else if err != nil {
			fmt.Fprintf(output.Stderr, "unhealthy: %v\n", err)
		} else {
			fmt.Fprintln(output.Stdout, "healthy")
		}
		if err != nil {
			return errors.New("server is not healthy")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show listener addresses, handler counts and uptime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(st)
		}

		engine := output.Status("running")
		if !st.EngineRunning {
			engine = output.Status("stopped")
		}
		w := output.Table()
		fmt.Fprintf(w, "Version:\t%s\n", st.Version)
		fmt.Fprintf(w, "Uptime:\t%s\n", time.Duration(st.Uptime)*time.Second)
		fmt.Fprintf(w, "Engine:\t%s\n", engine)
		fmt.Fprintf(w, "HTTP:\t%s\n", orDash(st.HTTPAddr))
		fmt.Fprintf(w, "TCP:\t%s\n", orDash(st.TCPAddr))
		fmt.Fprintf(w, "Open connections:\t%d\n", st.ActiveConnections)
		fmt.Fprintf(w, "HTTP handlers:\t%d\n", st.HTTPHandlers)
		fmt.Fprintf(w, "TCP handlers:\t%d\n", st.TCPHandlers)
		fmt.Fprintf(w, "Event subscribers:\t%d\n", st.EventSubscribers)
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(healthCmd, statusCmd)
}
