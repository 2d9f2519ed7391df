package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExitNotFound is reported when the requested binary does not exist.
const ExitNotFound int32 = 127

// Result is the captured outcome of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

// CommandRunner abstracts command execution for registry adapters.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct {
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = int32(exitErr.ExitCode())
		return res, err
	}

	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = ExitNotFound
	}
	return res, err
}

// CommandError describes a failed command with its captured output.
type CommandError struct {
	Name   string
	Args   []string
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf(
		"command failed cmd=%s args=%q exit=%d stdout=%q stderr=%q: %v",
		e.Name,
		strings.Join(e.Args, " "),
		e.Result.ExitCode,
		strings.TrimSpace(string(e.Result.Stdout)),
		strings.TrimSpace(string(e.Result.Stderr)),
		e.Err,
	)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Stderr returns the trimmed stderr text of the failed command.
func (e *CommandError) Stderr() string {
	return strings.TrimSpace(string(e.Result.Stderr))
}

// RunChecked runs a command and wraps any failure in a CommandError.
func RunChecked(ctx context.Context, r CommandRunner, name string, args ...string) (Result, error) {
	res, err := r.Run(ctx, name, args...)
	if err != nil {
		return res, &CommandError{Name: name, Args: args, Result: res, Err: err}
	}
	return res, nil
}
