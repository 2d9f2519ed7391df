package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/observability"
	"github.com/danmuck/tagstate/internal/registry"
	"github.com/rs/zerolog/log"
)

var ErrObserve = errors.New("observe registry state")

// Reconciler ties a registry to plan computation and execution.
type Reconciler struct {
	Registry    registry.Registry
	Concurrency int
	Policy      Policy
	// Scope restricts planning to these tags when non-empty.
	Scope []string
	Out   io.Writer
}

// Result is everything known before execution starts.
type Result struct {
	Desired  DesiredState  `json:"desired"`
	Observed ObservedState `json:"observed"`
	Plan     Plan          `json:"plan"`
	// Unmanaged lists registry tags the log never mentions. They are reported, never touched.
	Unmanaged []string `json:"unmanaged,omitempty"`
}

// Plan observes the registry once and computes the plan. It never mutates the registry.
func (r *Reconciler) Plan(ctx context.Context, records []buildlog.Record) (Result, error) {
	desired := Desired(records)
	if len(r.Scope) > 0 {
		desired = desired.Restrict(r.Scope)
	}

	observed, err := registry.Observe(ctx, r.Registry, desired.Tags(), r.Concurrency)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrObserve, err)
	}

	plan := ComputePlan(desired, ObservedState(observed))
	res := Result{Desired: desired, Observed: ObservedState(observed), Plan: plan}

	if len(r.Scope) == 0 {
		unmanaged, err := registry.Unmanaged(ctx, r.Registry, desired)
		if err != nil {
			// Listing is informational only.
			log.Warn().Err(err).Msg("unmanaged_tags_list_failed")
		} else {
			SortTags(unmanaged)
			res.Unmanaged = unmanaged
		}
	}

	retags := len(plan.Retags())
	observability.RecordPlan(retags, plan.Noops())
	log.Info().
		Str("registry", registry.Describe(r.Registry)).
		Int("desired", len(desired)).
		Int("observed", len(observed)).
		Int("retags", retags).
		Int("noops", plan.Noops()).
		Int("unmanaged", len(res.Unmanaged)).
		Msg("plan_computed")
	return res, nil
}

// Apply executes plan sequentially with the reconciler's policy.
func (r *Reconciler) Apply(ctx context.Context, plan Plan) Report {
	exec := &Executor{Registry: r.Registry, Policy: r.Policy, Out: r.Out}
	report := exec.Execute(ctx, plan)
	log.Info().
		Int("applied", report.Applied()).
		Int("failed", report.Failed()).
		Int("skipped", report.Skipped()).
		Int("noops", report.Noops).
		Bool("interrupted", report.Interrupted).
		Str("fatal", report.FatalText).
		Msg("reconcile_finished")
	return report
}
