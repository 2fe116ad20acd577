// Package nat owns the kernel rules that let setup-AP clients reach the
// device's uplink: a masquerade rule for the AP subnet, the two forward
// rules, and the ip_forward sysctl.
//
// Remove deletes exactly the rules Install added and restores ip_forward
// to the value found before Install, so a host that had forwarding enabled
// for other reasons keeps it.
package nat

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

const ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

// Spec names the endpoints of one AP-to-uplink forwarding setup.
type Spec struct {
	APInterface string
	Subnet      netip.Prefix
	Uplink      string
}

type rule struct {
	table string
	chain string
	args  []string
}

func ruleSpecs(s Spec) []rule {
	return []rule{
		{"nat", "POSTROUTING", []string{"-s", s.Subnet.Masked().String(), "-o", s.Uplink, "-j", "MASQUERADE"}},
		{"filter", "FORWARD", []string{"-i", s.APInterface, "-o", s.Uplink, "-j", "ACCEPT"}},
		{"filter", "FORWARD", []string{"-i", s.Uplink, "-o", s.APInterface, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}},
	}
}

// table is the slice of go-iptables this package drives; a seam for tests.
type table interface {
	AppendUnique(table, chain string, args ...string) error
	DeleteIfExists(table, chain string, args ...string) error
}

// Rules tracks the rules and sysctl state this process installed.
type Rules struct {
	ipt         table
	forwardPath string
	installed   *Spec
	prevForward string
}

// New locates the iptables binary.
func New() (*Rules, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("locate iptables: %w", err)
	}
	return &Rules{ipt: ipt, forwardPath: ipForwardPath}, nil
}

// Install appends the masquerade and forward rules for spec and enables IP
// forwarding, remembering the previous sysctl value. AppendUnique keeps a
// retried install from stacking duplicate rules. The spec is recorded
// before the first append: a partial install must still be removable, or
// the rules that did land outlive the AP.
func (r *Rules) Install(_ context.Context, spec Spec) error {
	r.installed = &spec
	for _, rl := range ruleSpecs(spec) {
		if err := r.ipt.AppendUnique(rl.table, rl.chain, rl.args...); err != nil {
			return fmt.Errorf("append %s/%s rule: %w", rl.table, rl.chain, err)
		}
	}

	prev, err := os.ReadFile(r.forwardPath)
	if err != nil {
		return fmt.Errorf("read ip_forward: %w", err)
	}
	r.prevForward = strings.TrimSpace(string(prev))
	if r.prevForward != "1" {
		if err := os.WriteFile(r.forwardPath, []byte("1\n"), 0o644); err != nil {
			return fmt.Errorf("enable ip_forward: %w", err)
		}
	}
	return nil
}

// Remove deletes the rules the last Install added and restores the prior
// ip_forward value. Idempotent; a Remove with nothing installed is a no-op.
func (r *Rules) Remove(_ context.Context) error {
	if r.installed == nil {
		return nil
	}

	var firstErr error
	for _, rl := range ruleSpecs(*r.installed) {
		if err := r.ipt.DeleteIfExists(rl.table, rl.chain, rl.args...); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s/%s rule: %w", rl.table, rl.chain, err)
		}
	}
	r.installed = nil

	if r.prevForward != "" && r.prevForward != "1" {
		if err := os.WriteFile(r.forwardPath, []byte(r.prevForward+"\n"), 0o644); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore ip_forward: %w", err)
		}
	}
	r.prevForward = ""
	return firstErr
}
