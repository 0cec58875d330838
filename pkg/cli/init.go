package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
	"github.com/getmockd/hookd/pkg/config"
)

// initOptions are the answers that shape a generated hookd.yaml.
type initOptions struct {
	HTTPAddr  string
	TCP       bool
	TCPAddr   string
	AdminAddr string
	Storage   string
	DBPath    string
	APIKey    string
	Seed      string
}

// fileConfig mirrors the config file layout, keeping keys in a readable order.
type fileConfig struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	TCP struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr,omitempty"`
	} `yaml:"tcp"`
	Admin struct {
		Addr   string `yaml:"addr"`
		APIKey string `yaml:"api_key,omitempty"`
	} `yaml:"admin"`
	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path,omitempty"`
	} `yaml:"storage"`
	Handlers struct {
		Seed string `yaml:"seed,omitempty"`
	} `yaml:"handlers,omitempty"`
}

var (
	initOpts   initOptions
	initOutput string
	initForce  bool
	initYes    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a hookd.yaml config file",
	Long: `Create a hookd.yaml config file.

Without flags on a terminal, init asks for each setting. Pass any setting
flag, or --yes to accept the defaults, to skip the prompts.`,
	Example: `  hookd init
  hookd init --yes
  hookd init --http-addr :9000 --storage memory --api-key s3cret`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !initYes && !anySettingChanged(cmd) && isTerminal() {
			if err := promptInit(&initOpts); err != nil {
				return err
			}
		}
		if err := writeInitConfig(initOutput, initOpts, initForce); err != nil {
			return err
		}
		output.Success("wrote %s", initOutput)
		return nil
	},
}

func init() {
	def := config.Default()
	f := initCmd.Flags()
	f.StringVar(&initOpts.HTTPAddr, "http-addr", def.HTTP.Addr, "HTTP capture listen address")
	f.BoolVar(&initOpts.TCP, "tcp", def.TCP.Enabled, "Enable the TCP capture listener")
	f.StringVar(&initOpts.TCPAddr, "tcp-addr", def.TCP.Addr, "TCP capture listen address")
	f.StringVar(&initOpts.AdminAddr, "admin-addr", def.Admin.Addr, "Admin API listen address")
	f.StringVar(&initOpts.Storage, "storage", def.Storage.Driver, "Storage driver: sqlite or memory")
	f.StringVar(&initOpts.DBPath, "db", def.Storage.Path, "SQLite database path")
	f.StringVar(&initOpts.APIKey, "api-key", "", "Admin API key")
	f.StringVar(&initOpts.Seed, "seed", "", "Glob of handler seed files to upsert at startup")
	f.StringVarP(&initOutput, "output", "o", "hookd.yaml", "File to write")
	f.BoolVar(&initForce, "force", false, "Overwrite an existing file")
	f.BoolVarP(&initYes, "yes", "y", false, "Accept defaults without prompting")
	rootCmd.AddCommand(initCmd)
}

var initSettingFlags = []string{"http-addr", "tcp", "tcp-addr", "admin-addr", "storage", "db", "api-key", "seed"}

func anySettingChanged(cmd *cobra.Command) bool {
	for _, name := range initSettingFlags {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// isTerminal checks if stdin is a terminal.
func isTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func promptInit(o *initOptions) error {
	required := func(field string) func(string) error {
		return func(s string) error {
			if s == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Where should the HTTP capture listener bind?").
				Placeholder(":8080").
				Value(&o.HTTPAddr).
				Validate(required("address")),
			huh.NewConfirm().
				Title("Capture raw TCP connections too?").
				Value(&o.TCP),
			huh.NewInput().
				Title("Where should the admin API bind?").
				Value(&o.AdminAddr).
				Validate(required("address")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("TCP capture listen address").
				Value(&o.TCPAddr).
				Validate(required("address")),
		).WithHideFunc(func() bool { return !o.TCP }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should captures be stored?").
				Options(
					huh.NewOption("SQLite file", "sqlite"),
					huh.NewOption("Memory (lost on exit)", "memory"),
				).
				Value(&o.Storage),
			huh.NewInput().
				Title("Admin API key (empty disables authentication)").
				EchoMode(huh.EchoModePassword).
				Value(&o.APIKey),
			huh.NewInput().
				Title("Handler seed glob (optional)").
				Placeholder("handlers/*.yaml").
				Value(&o.Seed),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SQLite database path").
				Value(&o.DBPath).
				Validate(required("path")),
		).WithHideFunc(func() bool { return o.Storage != "sqlite" }),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("init aborted")
		}
		return err
	}
	return nil
}

// writeInitConfig renders o as YAML, checks it loads as a valid config and
// writes it to path.
func writeInitConfig(path string, o initOptions, force bool) error {
	var fc fileConfig
	fc.HTTP.Addr = o.HTTPAddr
	fc.TCP.Enabled = o.TCP
	if o.TCP {
		fc.TCP.Addr = o.TCPAddr
	}
	fc.Admin.Addr = o.AdminAddr
	fc.Admin.APIKey = o.APIKey
	fc.Storage.Driver = o.Storage
	if o.Storage == "sqlite" {
		fc.Storage.Path = o.DBPath
	}
	fc.Handlers.Seed = o.Seed

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	// Validate through the same loader serve uses before touching path.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hookd-init-*.yaml")
	if err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	cfg, err := config.Load(config.NewViper(), tmpName)
	if err != nil {
		return err
	}
	if err := cfg.Validate().Err(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	perm := os.FileMode(0o644)
	if o.APIKey != "" {
		perm = 0o600
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
