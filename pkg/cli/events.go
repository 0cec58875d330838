package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/pkg/cli/internal/flags"
	"github.com/getmockd/hookd/pkg/cli/internal/output"
	"github.com/getmockd/hookd/pkg/events"
)

var (
	eventsFilter string
	eventsTypes  flags.StringSlice
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream live capture events",
	Long: `Stream request and TCP connection lifecycle events from a running hookd.

--filter takes an expression evaluated against each event. The variables type,
id, status and payload are available.`,
	Example: `  hookd events
  hookd events --type request:created --type request:updated
  hookd events --filter 'type startsWith "tcp" && status == "failed"'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		filter := eventsFilterExpr(eventsFilter, eventsTypes)
		return streamEvents(ctx, newClient(), filter, func(ev events.Event) error {
			if jsonOutput {
				return output.JSON(ev)
			}
			fmt.Fprintln(output.Stdout, formatEvent(ev))
			return nil
		})
	},
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsFilter, "filter", "f", "", "Filter expression")
	eventsCmd.Flags().Var(&eventsTypes, "type", "Only show these event types (repeatable)")
	rootCmd.AddCommand(eventsCmd)
}

// eventsFilterExpr combines --type values and --filter into one expression.
func eventsFilterExpr(filter string, types []string) string {
	var parts []string
	if len(types) > 0 {
		quoted := make([]string, len(types))
		for i, t := range types {
			quoted[i] = strconv.Quote(t)
		}
		parts = append(parts, "type in ["+strings.Join(quoted, ", ")+"]")
	}
	if filter = strings.TrimSpace(filter); filter != "" {
		parts = append(parts, "("+filter+")")
	}
	return strings.Join(parts, " && ")
}

// streamEvents reads the event stream until ctx ends or the server closes it.
func streamEvents(ctx context.Context, c *AdminClient, filter string, fn func(events.Event) error) error {
	conn, resp, err := websocket.Dial(ctx, c.EventsURL(filter), &websocket.DialOptions{HTTPHeader: c.authHeader()})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("event stream rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
				return nil
			case websocket.CloseStatus(err) == websocket.StatusGoingAway,
				websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}

		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			output.Warn("skipping malformed event: %v", err)
			continue
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, errStopStream) {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return nil
			}
			return err
		}
	}
}

// errStopStream ends streamEvents cleanly from inside the callback.
var errStopStream = errors.New("stop stream")

func formatEvent(ev events.Event) string {
	typ := ev.Type
	switch {
	case strings.HasSuffix(typ, ":created"):
		typ = color.GreenString(typ)
	case strings.HasSuffix(typ, ":failed"):
		typ = color.RedString(typ)
	case strings.HasSuffix(typ, ":closed"):
		typ = color.YellowString(typ)
	default:
		typ = color.CyanString(typ)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-32s", ev.Time.Local().Format("15:04:05.000"), typ)
	for _, key := range []string{"id", "status", "method", "url", "responseStatus", "clientIp", "receivedBytes", "sentBytes"} {
		if v, ok := ev.Payload[key]; ok && v != nil {
			fmt.Fprintf(&b, " %s=%v", key, v)
		}
	}
	return b.String()
}
