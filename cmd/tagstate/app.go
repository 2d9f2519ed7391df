package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/config"
	"github.com/danmuck/tagstate/internal/logging"
	"github.com/danmuck/tagstate/internal/registry"
)

// app holds flag values and the seams tests replace.
type app struct {
	stdout io.Writer
	stderr io.Writer

	newRegistry func(config.Config) (registry.Registry, error)

	configPath  string
	logLevel    string
	repository  string
	backend     string
	onFailure   string
	format      string
	reportPath  string
	metricsFile string
	dryRun      bool
	tags        []string
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		newRegistry: newRegistry,
	}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tagstate [flags] [buildlog]",
		Short: "Reconcile registry tags with the desired state declared by a build log",
		Long: "tagstate reads a JSON build log, derives which digest every tag should point at,\n" +
			"compares that with the registry and retags whatever diverged. Tags are only ever\n" +
			"added or moved, never deleted. Use --dry-run or the plan command to preview.",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.logLevel != "" && !logging.SetLevel(a.logLevel) {
				return fmt.Errorf("unknown log level %q", a.logLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reconcile(cmd, args, a.dryRun)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to a TOML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (trace|debug|info|warn|error|off)")
	pf.StringVarP(&a.repository, "repository", "r", "", "target repository, e.g. ghcr.io/acme/app")
	pf.StringVar(&a.backend, "backend", "", "registry backend (docker|remote|engine)")
	pf.StringSliceVar(&a.tags, "tag", nil, "restrict to these tags (repeatable)")
	pf.StringVarP(&a.format, "output", "o", "", "output format (text|json)")

	f := cmd.Flags()
	f.BoolVar(&a.dryRun, "dry-run", false, "print the plan without executing it")
	f.StringVar(&a.onFailure, "on-failure", "", "policy after a failed retag (continue|halt)")
	f.StringVar(&a.reportPath, "report", "", "write a JSON run report to this path")
	f.StringVar(&a.metricsFile, "metrics-file", "", "write prometheus metrics in textfile format to this path")

	cmd.AddCommand(
		a.planCommand(),
		a.stateCommand(),
		a.serveCommand(),
		a.configCommand(),
	)
	return cmd
}

// loadConfig applies file, env and then any flags the user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("repository") {
		cfg.Registry.Repository = strings.TrimSpace(a.repository)
	}
	if flags.Changed("backend") {
		cfg.Registry.Backend = strings.ToLower(strings.TrimSpace(a.backend))
	}
	if flags.Changed("output") {
		cfg.Reconcile.Format = a.format
	}
	if flags.Changed("on-failure") {
		cfg.Reconcile.OnFailure = a.onFailure
	}
	if flags.Changed("dry-run") {
		cfg.Reconcile.DryRun = a.dryRun
	}
	if flags.Changed("report") {
		cfg.Reconcile.Report = a.reportPath
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.Textfile = a.metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func buildLogPath(cfg config.Config, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	if cfg.BuildLog.Path != "" {
		return cfg.BuildLog.Path, nil
	}
	return "", fmt.Errorf("no build log given (pass a path or set buildlog.path)")
}

func buildLogOptions(cfg config.Config) buildlog.Options {
	order, _ := buildlog.ParseOrder(cfg.BuildLog.Order)
	return buildlog.Options{
		ValidateDigests: cfg.BuildLog.ValidateDigests,
		SkipInvalid:     cfg.BuildLog.SkipInvalid,
		Order:           order,
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
