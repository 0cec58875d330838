package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
)

var statePath string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read or replace the shared state document",
}

var stateGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the shared state document",
	Example: `  hookd state get
  hookd state get --path '$.counters.*'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newClient()
		if statePath != "" {
			res, err := client.QueryState(cmd.Context(), statePath)
			if err != nil {
				return err
			}
			return output.JSON(res.Results)
		}
		st, err := client.GetState(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(st)
		}
		return output.JSON(st.Data)
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set <file|->",
	Short: "Replace the shared state document with a JSON object",
	Example: `  hookd state set state.json
  echo '{"count":0}' | hookd state set -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readStateInput(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		st, err := newClient().SetState(cmd.Context(), data)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(st)
		}
		output.Success("shared state replaced (%d keys)", len(st.Data))
		return nil
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the shared state to an empty object",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := newClient().SetState(cmd.Context(), map[string]any{}); err != nil {
			return err
		}
		output.Success("shared state cleared")
		return nil
	},
}

func readStateInput(arg string, stdin io.Reader) (map[string]any, error) {
	var (
		raw []byte
		err error
	)
	if arg == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("shared state must be a JSON object: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("shared state must be a JSON object, got null")
	}
	return data, nil
}

func init() {
	stateGetCmd.Flags().StringVarP(&statePath, "path", "p", "", "JSONPath expression to evaluate against the state")
	stateCmd.AddCommand(stateGetCmd, stateSetCmd, stateClearCmd)
	rootCmd.AddCommand(stateCmd)
}
