package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/tagstate/internal/observability"
	"github.com/danmuck/tagstate/internal/registry"
	"github.com/rs/zerolog/log"
)

// Policy decides what happens after a retag fails.
type Policy string

const (
	PolicyContinue Policy = "continue"
	PolicyHalt     Policy = "halt"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyHalt:
		return PolicyHalt, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want continue|halt)", raw)
	}
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Stage names the step of a retag that failed.
type Stage string

const (
	StagePull Stage = "pull"
	StagePush Stage = "push"
)

type ActionResult struct {
	Action   Action        `json:"action"`
	Outcome  Outcome       `json:"outcome"`
	Stage    Stage         `json:"stage,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Executor applies retag actions one at a time. There is no rollback:
// actions completed before a failure stay applied.
type Executor struct {
	Registry registry.Registry
	Policy   Policy
	// Out receives one human-readable line before and after each action.
	Out io.Writer
}

// Execute runs every retag in plan order and reports each outcome. Auth
// failures and cancellation stop execution regardless of policy.
func (e *Executor) Execute(ctx context.Context, plan Plan) Report {
	retags := plan.Retags()
	report := Report{
		Results: make([]ActionResult, 0, len(retags)),
		Noops:   plan.Noops(),
	}

	stopped := false
	for i, action := range retags {
		if !stopped {
			if err := ctx.Err(); err != nil {
				report.Interrupted = true
				report.setFatal(err)
				stopped = true
			}
		}
		if stopped {
			report.Results = append(report.Results, ActionResult{Action: action, Outcome: OutcomeSkipped})
			observability.RecordAction(string(OutcomeSkipped), 0)
			continue
		}

		e.printf("[%d/%d] %s\n", i+1, len(retags), action)
		res := e.apply(ctx, action)
		report.Results = append(report.Results, res.ActionResult)
		observability.RecordAction(string(res.Outcome), res.Duration)

		if res.Outcome == OutcomeApplied {
			e.printf("[%d/%d] ok    %s\n", i+1, len(retags), action.Tag)
			continue
		}
		e.printf("[%d/%d] FAIL  %s: %s\n", i+1, len(retags), action.Tag, res.Error)

		switch {
		case res.err != nil && errors.Is(res.err, registry.ErrAuth):
			report.setFatal(res.err)
			stopped = true
		case res.err != nil && (errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)):
			report.Interrupted = true
			report.setFatal(res.err)
			stopped = true
		case e.Policy == PolicyHalt:
			stopped = true
		}
	}

	report.Finished = time.Now()
	observability.RecordRun(report.OK(), report.Finished)
	return report
}

type actionResult struct {
	ActionResult
	err error
}

func (e *Executor) apply(ctx context.Context, action Action) actionResult {
	start := time.Now()
	logger := log.With().Str("tag", action.Tag).Str("digest", action.Digest).Str("observed", action.Observed).Logger()
	logger.Info().Msg("retag_start")

	fail := func(stage Stage, err error) actionResult {
		logger.Error().Err(err).Str("stage", string(stage)).Msg("retag_failed")
		return actionResult{
			ActionResult: ActionResult{
				Action:   action,
				Outcome:  OutcomeFailed,
				Stage:    stage,
				Error:    err.Error(),
				Duration: time.Since(start),
			},
			err: err,
		}
	}

	if err := e.Registry.Pull(ctx, action.Digest); err != nil {
		return fail(StagePull, err)
	}
	if err := e.Registry.Push(ctx, action.Digest, action.Tag); err != nil {
		return fail(StagePush, err)
	}

	elapsed := time.Since(start)
	logger.Info().Dur("duration", elapsed).Msg("retag_applied")
	return actionResult{ActionResult: ActionResult{Action: action, Outcome: OutcomeApplied, Duration: elapsed}}
}

func (e *Executor) printf(format string, args ...any) {
	if e.Out == nil {
		return
	}
	fmt.Fprintf(e.Out, format, args...)
}
