// Command suiterun starts configured test suites as background processes
// and serves their status over MCP or HTTP.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deixis/suiterun"
	"github.com/deixis/suiterun/internal/catalog"
	"github.com/deixis/suiterun/internal/config"
	"github.com/deixis/suiterun/internal/history"
	"github.com/deixis/suiterun/internal/logging"
	"github.com/deixis/suiterun/internal/registry"
	"github.com/deixis/suiterun/internal/runner"
)

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "suiterun: %v\n", err)
		os.Exit(2)
	}
}

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// globalOpts holds the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var opts globalOpts

	root := &cobra.Command{
		Use:   "suiterun",
		Short: "Run test suites in the background and track their status",
		Long: `suiterun - run test suites in the background and track their status

Suites are declared in .suiterun.yaml (or .yml / .toml), found by walking up
from the working directory. Each start spawns one process and returns a run
id immediately; status can be polled until the run completes, fails or is
cancelled.`,
		Version:       suiterun.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("SUITERUN_CONFIG"), "config file (default: nearest .suiterun.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", os.Getenv("SUITERUN_LOG_LEVEL"), "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(&opts),
		newRunCmd(&opts),
		newSuitesCmd(&opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), suiterun.Version)
		},
	}
}

// env is everything a subcommand needs, built from the global flags.
type env struct {
	cfg     *config.Config
	catalog *catalog.Static
	log     zerolog.Logger
}

func loadEnv(opts *globalOpts, stderr io.Writer) (*env, error) {
	console := false
	if f, ok := stderr.(*os.File); ok {
		console = isatty.IsTerminal(f.Fd())
	}
	log, err := logging.New(stderr, "suiterun", opts.logLevel, console)
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		log.Debug().Str("path", opts.configPath).Msg("config loaded")
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
		loaded, err := config.Load(wd)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded.Config
		log.Debug().Str("path", loaded.Path).Msg("config loaded")
	}

	cat, err := catalog.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &env{cfg: cfg, catalog: cat, log: log}, nil
}

// newRegistry builds the run registry. The returned func releases the
// history store and must be called after the registry is closed.
func (e *env) newRegistry() (*registry.Registry, func()) {
	rn := &runner.Runner{
		Workspace: e.cfg.Workspace(),
		MaxOutput: e.cfg.MaxOutputBytes(),
		Logger:    e.log.With().Str("component", "runner").Logger(),
	}
	opts := []registry.Option{
		registry.WithLogger(e.log.With().Str("component", "registry").Logger()),
	}

	release := func() {}
	if size := e.cfg.HistorySize(); size > 0 {
		var back history.Store
		if e.cfg.HistoryOnDisk() {
			disk := history.NewDiskStore()
			back = disk
			release = func() {
				if err := disk.Close(); err != nil {
					e.log.Warn().Err(err).Msg("removing run history")
				}
			}
		}
		opts = append(opts, registry.WithHistory(history.NewLRUStore(size, back)))
	}
	return registry.New(e.catalog, rn, opts...), release
}
