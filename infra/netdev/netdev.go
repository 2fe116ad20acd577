// Package netdev drives the physical radio: link flags and addresses via
// netlink, wireless mode and scanning via the iw command.
//
// Operations are idempotent where the kernel allows it; the orchestrator
// retries transitions, so reapplying a mode that is already set must not
// disturb a working interface.
package netdev

import (
	"context"
	"os/exec"
)

// Runner executes an external command and returns its stdout. Errors from
// the exec-backed implementation carry stderr via exec.ExitError.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecRunner returns the exec-backed Runner used outside tests.
func ExecRunner() Runner { return execRunner{} }

// Config holds the static configuration for the interface controller.
type Config struct {
	// IWPath is the iw binary; resolved via PATH when empty.
	IWPath string
	// Runner overrides command execution, for tests.
	Runner Runner
}

// Manager implements the orchestrator's interface controller on Linux.
type Manager struct {
	iw  string
	run Runner
	nl  linkOps
}

// New creates an interface controller.
func New(cfg Config) *Manager {
	if cfg.IWPath == "" {
		cfg.IWPath = "iw"
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner{}
	}
	return &Manager{iw: cfg.IWPath, run: cfg.Runner, nl: systemLinks()}
}
