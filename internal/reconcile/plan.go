package reconcile

import "strings"

type ActionKind string

const (
	ActionNoop  ActionKind = "noop"
	ActionRetag ActionKind = "retag"
)

// Action is one planned step for a single tag.
type Action struct {
	Kind ActionKind `json:"kind"`
	Tag  string     `json:"tag"`
	// Digest is the desired digest.
	Digest string `json:"digest"`
	// Observed is the digest the tag currently resolves to, empty when absent.
	Observed string `json:"observed,omitempty"`
}

func (a Action) String() string {
	if a.Kind == ActionNoop {
		return "noop  " + a.Tag + " = " + a.Digest
	}
	from := a.Observed
	if from == "" {
		from = "(absent)"
	}
	return "retag " + a.Tag + " -> " + a.Digest + " (was " + from + ")"
}

// Plan is the ordered set of actions for one run.
type Plan struct {
	Actions []Action `json:"actions"`
}

// ComputePlan compares desired against observed. Only desired tags are
// considered; observed-only tags never appear in a plan.
func ComputePlan(desired DesiredState, observed ObservedState) Plan {
	actions := make([]Action, 0, len(desired))
	for _, tag := range desired.Tags() {
		want := desired[tag]
		have, ok := observed[tag]
		kind := ActionRetag
		if ok && have == want {
			kind = ActionNoop
		}
		actions = append(actions, Action{Kind: kind, Tag: tag, Digest: want, Observed: have})
	}
	return Plan{Actions: actions}
}

// Retags returns only the actions that mutate the registry.
func (p Plan) Retags() []Action {
	out := make([]Action, 0)
	for _, a := range p.Actions {
		if a.Kind == ActionRetag {
			out = append(out, a)
		}
	}
	return out
}

// Noops counts the tags already in their desired state.
func (p Plan) Noops() int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == ActionNoop {
			n++
		}
	}
	return n
}

// Empty reports whether executing the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.Retags()) == 0
}

// Filter keeps only actions for the given tags. An empty allow-list keeps everything.
func (p Plan) Filter(tags []string) Plan {
	if len(tags) == 0 {
		return p
	}
	allow := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			allow[tag] = struct{}{}
		}
	}
	out := make([]Action, 0, len(allow))
	for _, a := range p.Actions {
		if _, ok := allow[a.Tag]; ok {
			out = append(out, a)
		}
	}
	return Plan{Actions: out}
}
