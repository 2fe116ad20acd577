//go:build linux

package netdev

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

type scriptedRunner struct {
	calls   [][]string
	outputs []scriptedOutput
}

type scriptedOutput struct {
	out []byte
	err error
}

func (r *scriptedRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(r.outputs) == 0 {
		return nil, errors.New("unscripted call")
	}
	next := r.outputs[0]
	r.outputs = r.outputs[1:]
	return next.out, next.err
}

func busyErr() error {
	return &exec.ExitError{Stderr: []byte("command failed: Device or resource busy (-16)")}
}

func TestScanRetriesWhenRadioBusy(t *testing.T) {
	run := &scriptedRunner{outputs: []scriptedOutput{
		{err: busyErr()},
		{out: []byte(scanFixture)},
	}}
	m := New(Config{IWPath: "iw", Runner: run})

	got, err := m.Scan(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(run.calls) != 2 {
		t.Fatalf("scan attempts = %d, want 2", len(run.calls))
	}
	if len(got) == 0 || got[0].SSID != "HomeNet" {
		t.Fatalf("unexpected networks: %+v", got)
	}
}

func TestScanGivesUpAfterRetry(t *testing.T) {
	run := &scriptedRunner{outputs: []scriptedOutput{
		{err: busyErr()},
		{err: busyErr()},
	}}
	m := New(Config{IWPath: "iw", Runner: run})

	_, err := m.Scan(context.Background(), "wlan0")
	if err == nil {
		t.Fatal("Scan succeeded, want error")
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Errorf("error %q does not surface the busy reason", err)
	}
	if len(run.calls) != 2 {
		t.Errorf("scan attempts = %d, want 2", len(run.calls))
	}
}
