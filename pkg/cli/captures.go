package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
	"github.com/getmockd/hookd/pkg/requestlog"
)

const timeLayout = "2006-01-02 15:04:05.000"

var listFlags ListFilter

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Aliases: []string{"req"},
	Short:   "Inspect captured HTTP requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured requests, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().ListRequests(cmd.Context(), &listFlags)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(list)
		}
		w := output.Table()
		fmt.Fprintln(w, "ID\tRECEIVED\tMETHOD\tPATH\tSTATUS\tRESPONSE")
		for _, ev := range list {
			resp := "-"
			if ev.Response != nil {
				resp = fmt.Sprint(ev.Response.Status)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.ID, ev.ReceivedAt.Local().Format(timeLayout), ev.Method, ev.Path, output.Status(string(ev.Status)), resp)
		}
		return w.Flush()
	},
}

var requestsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a captured request with its response and handler executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := newClient().GetRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(ev)
		}
		printRequest(output.Stdout, ev)
		return nil
	},
}

var requestsDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete captured requests and their executions",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		for _, id := range args {
			if err := client.DeleteRequest(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			output.Success("deleted %s", id)
		}
		return nil
	},
}

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Inspect captured TCP connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured connections, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().ListConnections(cmd.Context(), &listFlags)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(list)
		}
		w := output.Table()
		fmt.Fprintln(w, "ID\tOPENED\tCLIENT\tSTATUS\tIN\tOUT")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%d\t%d\n",
				c.ID, c.OpenedAt.Local().Format(timeLayout), c.ClientIP, c.ClientPort,
				output.Status(string(c.Status)), len(c.ReceivedData), len(c.SentData))
		}
		return w.Flush()
	},
}

var connectionsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a captured connection with its data and handler executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient().GetConnection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(c)
		}
		printConnection(output.Stdout, c)
		return nil
	},
}

var connectionsDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete captured connections and their executions",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		for _, id := range args {
			if err := client.DeleteConnection(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			output.Success("deleted %s", id)
		}
		return nil
	},
}

func init() {
	for _, list := range []*cobra.Command{requestsListCmd, connectionsListCmd} {
		list.Flags().StringVar(&listFlags.Status, "status", "", "Filter by status")
		list.Flags().IntVarP(&listFlags.Limit, "limit", "n", 50, "Maximum number of results")
		list.Flags().IntVar(&listFlags.Offset, "offset", 0, "Number of results to skip")
	}
	requestsListCmd.Flags().StringVarP(&listFlags.Method, "method", "X", "", "Filter by HTTP method")
	requestsListCmd.Flags().StringVar(&listFlags.PathPrefix, "path-prefix", "", "Filter by path prefix")

	requestsCmd.AddCommand(requestsListCmd, requestsGetCmd, requestsDeleteCmd)
	connectionsCmd.AddCommand(connectionsListCmd, connectionsGetCmd, connectionsDeleteCmd)
	rootCmd.AddCommand(requestsCmd, connectionsCmd)
}

var (
	heading = color.New(color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	title   = cases.Title(language.English)
)

func printRequest(w io.Writer, ev *requestlog.RequestEvent) {
	fmt.Fprintf(w, "%s %s %s\n", heading(ev.Method), ev.URL, output.Status(string(ev.Status)))
	fmt.Fprintf(w, "%s %s from %s\n", faint("received"), ev.ReceivedAt.Local().Format(timeLayout), ev.RemoteAddr)
	printHeaders(w, ev.Headers)
	printBody(w, ev.Body)

	if r := ev.Response; r != nil {
		fmt.Fprintf(w, "\n%s %d %s\n", heading("Response"), r.Status, r.StatusMessage)
		printHeaders(w, r.Headers)
		printBody(w, r.Body)
	}
	printExecutions(w, ev.Executions)
}

func printConnection(w io.Writer, c *requestlog.TCPConnection) {
	fmt.Fprintf(w, "%s %s:%d -> %s:%d %s\n", heading("TCP"), c.ClientIP, c.ClientPort, c.ServerIP, c.ServerPort, output.Status(string(c.Status)))
	fmt.Fprintf(w, "%s %s", faint("opened"), c.OpenedAt.Local().Format(timeLayout))
	if c.ClosedAt != nil {
		fmt.Fprintf(w, "  %s %s", faint("closed"), c.ClosedAt.Local().Format(timeLayout))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\n%s (%d bytes)\n", heading("Received"), len(c.ReceivedData))
	printBody(w, c.ReceivedData)
	fmt.Fprintf(w, "\n%s (%d bytes)\n", heading("Sent"), len(c.SentData))
	printBody(w, c.SentData)
	printExecutions(w, c.Executions)
}

func printHeaders(w io.Writer, headers []requestlog.Header) {
	for _, h := range headers {
		fmt.Fprintf(w, "  %s: %s\n", faint(h.Name), h.Value)
	}
}

func printBody(w io.Writer, body []byte) {
	if len(body) == 0 {
		return
	}
	if !utf8.Valid(body) {
		fmt.Fprintf(w, "  <%d bytes of binary data>\n", len(body))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printExecutions(w io.Writer, execs []*requestlog.HandlerExecution) {
	if len(execs) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", heading("Executions"))
	for _, e := range execs {
		fmt.Fprintf(w, "  #%d %s %s (%dms)\n", e.Order, e.HandlerID, title.String(string(e.Status)), e.DurationMs)
		if e.ErrorMessage != nil {
			fmt.Fprintf(w, "     %s %s\n", color.RedString("error:"), *e.ErrorMessage)
		}
		if e.ConsoleOutput != nil && *e.ConsoleOutput != "" {
			for _, line := range strings.Split(strings.TrimRight(*e.ConsoleOutput, "\n"), "\n") {
				fmt.Fprintf(w, "     %s %s\n", faint("|"), line)
			}
		}
	}
}
