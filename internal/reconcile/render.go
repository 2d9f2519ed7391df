package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text|json)", raw)
	}
}

// WritePlan prints every action, noops included, followed by a summary line.
func WritePlan(w io.Writer, res Result, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(res)
	}

	var b strings.Builder
	for _, a := range res.Plan.Actions {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	for _, tag := range res.Unmanaged {
		fmt.Fprintf(&b, "keep  %s (not in build log)\n", tag)
	}
	fmt.Fprintf(&b, "plan: %d retag, %d noop, %d unmanaged\n",
		len(res.Plan.Retags()), res.Plan.Noops(), len(res.Unmanaged))
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSummary prints the final tally and the tags left uncorrected.
func WriteSummary(w io.Writer, report Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "result: %d applied, %d failed, %d skipped, %d noop\n",
		report.Applied(), report.Failed(), report.Skipped(), report.Noops)
	for _, res := range report.Results {
		switch res.Outcome {
		case OutcomeFailed:
			fmt.Fprintf(&b, "  failed  %s (%s): %s\n", res.Action.Tag, res.Stage, res.Error)
		case OutcomeSkipped:
			fmt.Fprintf(&b, "  skipped %s\n", res.Action.Tag)
		}
	}
	if report.Interrupted {
		b.WriteString("interrupted: remaining actions were not attempted\n")
	}
	if report.FatalText != "" {
		fmt.Fprintf(&b, "fatal: %s\n", report.FatalText)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteReport writes the machine-readable run report.
func WriteReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(report)
}

// WriteState prints desired state as a JSON object with keys in tag display
// order rather than the lexical order encoding/json would impose.
func WriteState(w io.Writer, desired DesiredState) error {
	data, err := MarshalState(desired)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func MarshalState(desired DesiredState) ([]byte, error) {
	tags := desired.Tags()
	if len(tags) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, tag := range tags {
		key, err := json.Marshal(tag)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(desired[tag])
		if err != nil {
			return nil, err
		}
		buf.WriteString("    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(tags)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}
