package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/hookd/internal/storage"
	"github.com/getmockd/hookd/pkg/admin"
	"github.com/getmockd/hookd/pkg/config"
	"github.com/getmockd/hookd/pkg/engine"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/mqtt"
	"github.com/getmockd/hookd/pkg/ratelimit"
	"github.com/getmockd/hookd/pkg/script"
	"github.com/getmockd/hookd/pkg/sharedstate"
	"github.com/getmockd/hookd/pkg/store"
	"github.com/getmockd/hookd/pkg/store/sqlite"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"http-addr":        "http.addr",
	"max-body":         "http.max_body_bytes",
	"tcp":              "tcp.enabled",
	"tcp-addr":         "tcp.addr",
	"max-connections":  "tcp.max_connections",
	"admin-addr":       "admin.addr",
	"admin-rate-limit": "admin.rate_limit",
	"storage":          "storage.driver",
	"db":               "storage.path",
	"script-timeout":   "script.timeout",
	"serialize-state":  "state.serialize",
	"seed":             "handlers.seed",
	"mqtt-listen":      "mqtt.listen",
	"mqtt-broker":      "mqtt.broker",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"log-file":         "log.file",
}

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture listeners and the admin API (foreground)",
	Long: `Start hookd in the foreground.

The HTTP listener captures every request and runs the matching handlers. The TCP
listener captures raw connections and runs the active TCP handler on each chunk.
The admin API manages handlers and exposes the captured history.

Settings come from flags, HOOKD_* environment variables, a YAML config file
(--config, or ./hookd.yaml when present) and defaults, in that order.`,
	Example: `  # Start with defaults (HTTP :8080, TCP :9000, admin :8081, ./hookd.db)
  hookd serve

  # In-memory storage, no TCP listener
  hookd serve --storage memory --tcp=false

  # Seed handlers from YAML files and protect the admin API
  HOOKD_ADMIN_API_KEY=secret hookd serve --seed 'handlers/**/*.yaml'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := config.NewViper()
		for flag, key := range serveFlagKeys {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("binding --%s: %w", flag, err)
			}
		}
		cfg, err := config.Load(v, serveConfigFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, os.Stderr)
	},
}

func init() {
	def := config.Default()
	f := serveCmd.Flags()
	f.StringVarP(&serveConfigFile, "config", "c", "", "Path to a YAML config file")
	f.String("http-addr", def.HTTP.Addr, "HTTP capture listen address")
	f.Int64("max-body", def.HTTP.MaxBodyBytes, "Maximum captured request body in bytes (0 = unlimited)")
	f.Bool("tcp", def.TCP.Enabled, "Enable the TCP capture listener")
	f.String("tcp-addr", def.TCP.Addr, "TCP capture listen address")
	f.Int("max-connections", def.TCP.MaxConnections, "Maximum concurrent TCP connections (0 = unlimited)")
	f.String("admin-addr", def.Admin.Addr, "Admin API listen address")
	f.Float64("admin-rate-limit", def.Admin.RateLimit, "Admin API requests per second per client (0 = unlimited)")
	f.String("storage", def.Storage.Driver, "Storage driver: sqlite or memory")
	f.String("db", def.Storage.Path, "SQLite database path")
	f.Duration("script-timeout", def.Script.Timeout, "Maximum run time of one handler script (0 = none)")
	f.Bool("serialize-state", def.State.Serialize, "Serialize shared state updates across TCP connections")
	f.String("seed", def.Handlers.Seed, "Glob of handler seed files to upsert at startup")
	f.String("mqtt-listen", def.MQTT.Listen, "Serve capture events from an embedded MQTT broker on this address")
	f.String("mqtt-broker", def.MQTT.Broker, "Forward capture events to this MQTT broker URL")
	f.String("log-level", def.Log.Level, "Log level: debug, info, warn, error")
	f.String("log-format", def.Log.Format, "Log format: text or json")
	f.String("log-file", def.Log.File, "Also write JSON logs to this file")

	rootCmd.AddCommand(serveCmd)
}

// stack is a fully wired hookd instance.
type stack struct {
	cfg     *config.Config
	log     *slog.Logger
	store   store.Store
	bus     *events.Bus
	engine  *engine.Server
	admin   *admin.AdminAPI
	mqtt    *mqtt.Service
	logFile io.Closer
}

// runServe starts a stack and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	s, err := buildStack(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	if err := s.start(); err != nil {
		s.close()
		return err
	}

	s.log.Info("hookd started",
		"http", s.engine.HTTPAddr(),
		"tcp", s.engine.TCPAddr(),
		"admin", s.admin.Addr(),
		"mqtt", s.mqttAddr(),
		"config", cfg,
	)

	<-ctx.Done()
	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.stop(shutdownCtx)
}

// buildStack validates cfg and wires every component without opening any
// listener.
func buildStack(ctx context.Context, cfg *config.Config, logOut io.Writer) (*stack, error) {
	if err := cfg.Validate().Err(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	s := &stack{cfg: cfg}
	lc := cfg.LoggingConfig()
	lc.Output = logOut
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, err
		}
		lc.File = f
		s.logFile = f
	}
	s.log = logging.New(lc)

	st, err := openStore(ctx, cfg, s.log)
	if err != nil {
		s.close()
		return nil, err
	}
	s.store = st

	if cfg.Handlers.Seed != "" {
		seeds, err := config.LoadSeeds(cfg.Handlers.Seed)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("loading handler seeds: %w", err)
		}
		res, err := config.ApplySeeds(ctx, st.Handlers(), seeds)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("applying handler seeds: %w", err)
		}
		s.log.Info("handler seeds applied", "pattern", cfg.Handlers.Seed, "http", res.HTTP, "tcp", res.TCP)
	}

	s.bus = events.NewBus()
	state := sharedstate.New(st.State(),
		sharedstate.WithSerialize(cfg.State.Serialize),
		sharedstate.WithLogger(s.log.With("component", "state")),
	)
	executor := script.NewExecutor(
		script.WithTimeout(cfg.Script.Timeout),
		script.WithLogger(s.log.With("component", "script")),
	)

	s.engine = engine.NewServer(cfg.EngineConfig(), st,
		engine.WithLogger(s.log.With("component", "engine")),
		engine.WithExecutor(executor),
		engine.WithSharedState(state),
		engine.WithPublisher(s.bus),
	)
	if mc := cfg.MQTTConfig(); mc.Enabled() {
		s.mqtt, err = mqtt.NewService(mc, s.bus, mqtt.WithLogger(s.log.With("component", "mqtt")))
		if err != nil {
			s.close()
			return nil, fmt.Errorf("configuring MQTT: %w", err)
		}
	}
	s.admin = admin.NewAdminAPI(cfg.Admin.Addr, st,
		admin.WithLogger(s.log.With("component", "admin")),
		admin.WithEvents(s.bus),
		admin.WithSharedState(state),
		admin.WithEngine(s.engine),
		admin.WithAuth(cfg.AuthConfig()),
		admin.WithRateLimit(ratelimit.New(cfg.RateLimitConfig())),
		admin.WithVersion(Version),
	)
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch store.Backend(cfg.Storage.Driver) {
	case store.BackendMemory:
		log.Warn("using in-memory storage, captures are lost on exit")
		return storage.NewMemoryStore(), nil
	default:
		st, err := sqlite.Open(ctx, cfg.Storage.Path, sqlite.WithLogger(log.With("component", "store")))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return st, nil
	}
}

// start brings the event relay up before the listeners so the first
// captures are relayed too.
func (s *stack) start() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.mqtt != nil {
		if err := s.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT relay: %w", err)
		}
	}
	if err := s.engine.Start(); err != nil {
		s.stopMQTT(ctx)
		return fmt.Errorf("starting engine: %w", err)
	}
	if err := s.admin.Start(); err != nil {
		_ = s.engine.Stop(ctx)
		s.stopMQTT(ctx)
		return fmt.Errorf("starting admin API: %w", err)
	}
	return nil
}

func (s *stack) mqttAddr() string {
	if s.mqtt == nil {
		return ""
	}
	return s.mqtt.BrokerAddr()
}

func (s *stack) stopMQTT(ctx context.Context) {
	if s.mqtt == nil {
		return
	}
	if err := s.mqtt.Stop(ctx); err != nil {
		s.log.Warn("stopping MQTT relay", "error", err)
	}
}

// stop shuts the admin API down first so no handler changes land while the
// engine drains, and the relay last so close events still go out.
func (s *stack) stop(ctx context.Context) error {
	var errs []error
	if err := s.admin.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("admin API: %w", err))
	}
	if err := s.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if s.mqtt != nil {
		if err := s.mqtt.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("MQTT relay: %w", err))
		}
	}
	s.close()
	return errors.Join(errs...)
}

func (s *stack) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("closing storage", "error", err)
		}
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}
