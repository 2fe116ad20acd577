// Package procrun supervises the external network daemons the orchestrator
// leans on (wpa_supplicant, hostapd, dnsmasq, the DHCP client): start,
// liveness, and bounded stop.
package procrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Runner owns one child process. It may be started and stopped repeatedly,
// one live process at a time. The child is not bound to the caller's
// context; it runs until Stop or its own exit.
type Runner struct {
	name      string
	binary    string
	args      []string
	killAfter time.Duration // grace after SIGINT before SIGKILL

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// defaultKillAfter bounds how long Stop waits on a child that ignores
// SIGINT before forcing the issue, independent of the caller's context.
const defaultKillAfter = 5 * time.Second

// New creates a runner for one daemon. name labels log lines; binary is
// resolved via PATH unless absolute.
func New(name, binary string, args ...string) *Runner {
	return &Runner{name: name, binary: binary, args: args, killAfter: defaultKillAfter}
}

// Start launches the child and begins reaping it in the background.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running() {
		return fmt.Errorf("%s already running", r.name)
	}

	cmd := exec.Command(r.binary, r.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.name, err)
	}

	done := make(chan struct{})
	r.cmd = cmd
	r.done = done

	go func() {
		if err := cmd.Wait(); err != nil {
			// Exit status != 0 is expected on interrupt.
			slog.Debug("Process exited.", "name", r.name, "err", err)
		}
		close(done)
	}()

	slog.Info("Process started.", "name", r.name, "pid", cmd.Process.Pid)
	return nil
}

// Running reports whether the child is currently alive.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running()
}

func (r *Runner) running() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Stop interrupts the child and waits for it to exit. A child that is
// still alive after the grace period, or when ctx expires, is killed.
// Stopping an already-stopped Runner is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cmd, done := r.cmd, r.done
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		// Process may have already exited.
		return nil
	}

	grace := time.NewTimer(r.killAfter)
	defer grace.Stop()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill() // best-effort force kill
		return fmt.Errorf("stop %s: %w", r.name, ctx.Err())
	case <-grace.C:
		_ = cmd.Process.Kill()
		<-done
		slog.Warn("Process ignored interrupt; killed.", "name", r.name)
		return nil
	case <-done:
		return nil
	}
}
