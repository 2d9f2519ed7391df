// Package tools provides process execution helpers for registry adapters.
//
// Ownership boundary:
// - local command execution
//
// - remote command execution over ssh
//
// Runners never interpret output; callers classify exit codes and stderr.
package tools
