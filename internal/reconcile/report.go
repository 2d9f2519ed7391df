package reconcile

import (
	"time"
)

// Report is the outcome of one execution. Noops are counted, not listed.
type Report struct {
	Results     []ActionResult `json:"results"`
	Noops       int            `json:"noops"`
	Interrupted bool           `json:"interrupted,omitempty"`
	// FatalText mirrors Fatal for JSON output.
	FatalText string    `json:"fatal,omitempty"`
	Finished  time.Time `json:"finished"`

	Fatal error `json:"-"`
}

func (r *Report) setFatal(err error) {
	if r.Fatal != nil || err == nil {
		return
	}
	r.Fatal = err
	r.FatalText = err.Error()
}

func (r Report) count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r Report) Applied() int { return r.count(OutcomeApplied) }
func (r Report) Failed() int  { return r.count(OutcomeFailed) }
func (r Report) Skipped() int { return r.count(OutcomeSkipped) }

// OK is true when every retag was applied and nothing fatal happened.
func (r Report) OK() bool {
	return r.Fatal == nil && !r.Interrupted && r.Failed() == 0 && r.Skipped() == 0
}

// Uncorrected lists the tags still not at their desired digest.
func (r Report) Uncorrected() []string {
	out := make([]string, 0)
	for _, res := range r.Results {
		if res.Outcome != OutcomeApplied {
			out = append(out, res.Action.Tag)
		}
	}
	return out
}
