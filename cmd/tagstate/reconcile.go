package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/config"
	"github.com/danmuck/tagstate/internal/observability"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/danmuck/tagstate/internal/registry"
)

func (a *app) planCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [buildlog]",
		Short: "Compute and print the reconciliation plan without executing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reconcile(cmd, args, true)
		},
	}
}

// reconcile runs read, observe, plan and (unless planOnly) execute.
func (a *app) reconcile(cmd *cobra.Command, args []string, planOnly bool) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRegistry(); err != nil {
		return err
	}
	planOnly = planOnly || cfg.Reconcile.DryRun

	path, err := buildLogPath(cfg, args)
	if err != nil {
		return err
	}
	records, err := buildlog.Read(path, buildLogOptions(cfg))
	if err != nil {
		return err
	}

	reg, err := a.newRegistry(cfg)
	if err != nil {
		return err
	}
	policy, _ := reconcile.ParsePolicy(cfg.Reconcile.OnFailure)
	format, _ := reconcile.ParseFormat(cfg.Reconcile.Format)

	rec := &reconcile.Reconciler{
		Registry:    reg,
		Concurrency: cfg.Reconcile.Concurrency,
		Policy:      policy,
		Scope:       a.tags,
	}
	if format == reconcile.FormatText {
		rec.Out = a.stdout
	}

	log.Info().
		Str("buildlog", path).
		Int("records", len(records)).
		Str("registry", registry.Describe(reg)).
		Bool("dry_run", planOnly).
		Msg("reconcile_start")

	res, err := rec.Plan(ctx, records)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errInterrupted, err)
		}
		return err
	}

	if planOnly || res.Plan.Empty() {
		if err := reconcile.WritePlan(a.stdout, res, format); err != nil {
			return err
		}
		if format == reconcile.FormatText {
			if res.Plan.Empty() {
				fmt.Fprintln(a.stdout, "registry already matches the build log")
			} else {
				fmt.Fprintln(a.stdout, "dry run: no changes made")
			}
		}
		return a.writeMetrics(cfg)
	}

	// The plan is always printed before anything mutates; in JSON mode the
	// report follows as a second document on the same stream.
	if err := reconcile.WritePlan(a.stdout, res, format); err != nil {
		return err
	}
	report := rec.Apply(ctx, res.Plan)
	if err := a.writeReport(cfg, report, format); err != nil {
		return err
	}
	if err := a.writeMetrics(cfg); err != nil {
		return err
	}

	switch {
	case report.Interrupted:
		return errInterrupted
	case report.Fatal != nil:
		return report.Fatal
	case !report.OK():
		return errActionsFailed
	}
	return nil
}

func (a *app) writeReport(cfg config.Config, report reconcile.Report, format reconcile.Format) error {
	var err error
	if format == reconcile.FormatJSON {
		err = reconcile.WriteReport(a.stdout, report)
	} else {
		err = reconcile.WriteSummary(a.stdout, report)
	}
	if err != nil {
		return err
	}
	if cfg.Reconcile.Report == "" {
		return nil
	}
	if err := writeFile(cfg.Reconcile.Report, func(w io.Writer) error {
		return reconcile.WriteReport(w, report)
	}); err != nil {
		return fmt.Errorf("write report %s: %w", cfg.Reconcile.Report, err)
	}
	log.Info().Str("path", cfg.Reconcile.Report).Msg("report_written")
	return nil
}

func (a *app) writeMetrics(cfg config.Config) error {
	if cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := observability.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("write metrics %s: %w", cfg.Metrics.Textfile, err)
	}
	return nil
}
