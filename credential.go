package uplink

import (
	"errors"
	"fmt"
	"net/netip"
)

// WPA-PSK passphrase bounds (IEEE 802.11i Annex H).
const (
	MinPassphraseLen = 8
	MaxPassphraseLen = 63
)

// MaxSSIDLen is the 802.11 SSID element size limit in bytes.
const MaxSSIDLen = 32

// UplinkCredential is the SSID/passphrase pair used to join an uplink
// network. Persisted only after a verified connect; higher Priority wins
// when several credentials are stored.
type UplinkCredential struct {
	SSID       string
	Passphrase string
	Priority   int
}

func (c UplinkCredential) Validate() error {
	if err := validateSSID(c.SSID); err != nil {
		return err
	}
	if n := len(c.Passphrase); n < MinPassphraseLen || n > MaxPassphraseLen {
		return fmt.Errorf("passphrase must be %d to %d characters", MinPassphraseLen, MaxPassphraseLen)
	}
	return validatePassphrase(c.Passphrase)
}

func validateSSID(ssid string) error {
	if ssid == "" {
		return errors.New("ssid must not be empty")
	}
	if len(ssid) > MaxSSIDLen {
		return fmt.Errorf("ssid exceeds %d bytes", MaxSSIDLen)
	}
	// 802.11 permits arbitrary bytes, but every config file this value
	// reaches is line-oriented: a control byte is an injection, not a name.
	for i := 0; i < len(ssid); i++ {
		if ssid[i] < 0x20 || ssid[i] == 0x7f {
			return errors.New("ssid contains control characters")
		}
	}
	return nil
}

// validatePassphrase enforces Annex H's printable-ASCII rule, minus the
// quote and backslash: the supplicant and hostapd config formats have no
// escape for them inside a quoted psk.
func validatePassphrase(pass string) error {
	for i := 0; i < len(pass); i++ {
		b := pass[i]
		if b < 0x20 || b > 0x7e {
			return errors.New("passphrase must be printable ASCII")
		}
		if b == '"' || b == '\\' {
			return errors.New(`passphrase must not contain " or \`)
		}
	}
	return nil
}

// Network is one visible network in a scan result.
type Network struct {
	SSID           string
	SignalStrength int // percent, 0..100
}

// SignalPercent maps a dBm reading onto the 0..100 scale shown in the
// setup UI. -100 dBm is unusable, -50 dBm or better is full strength.
func SignalPercent(dbm float64) int {
	pct := int(2 * (dbm + 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// APConfig describes the setup access point: radio parameters plus the
// DHCP and NAT plumbing its clients need.
type APConfig struct {
	SSID            string
	Passphrase      string // empty runs an open network
	Channel         int
	Interface       string // AP-mode virtual interface the daemons bind to
	DHCPRangeStart  netip.Addr
	DHCPRangeEnd    netip.Addr
	GatewayCIDR     netip.Prefix
	UplinkInterface string // NAT egress; empty skips NAT rules
}

func (c APConfig) Validate() error {
	if err := validateSSID(c.SSID); err != nil {
		return fmt.Errorf("ap %w", err)
	}
	if n := len(c.Passphrase); n != 0 && (n < MinPassphraseLen || n > MaxPassphraseLen) {
		return fmt.Errorf("ap passphrase must be %d to %d characters", MinPassphraseLen, MaxPassphraseLen)
	}
	if err := validatePassphrase(c.Passphrase); err != nil {
		return fmt.Errorf("ap %w", err)
	}
	if c.Channel < 1 || c.Channel > 14 {
		return fmt.Errorf("ap channel %d out of 2.4GHz range", c.Channel)
	}
	if c.Interface == "" {
		return errors.New("ap interface must not be empty")
	}
	if !c.GatewayCIDR.IsValid() {
		return errors.New("ap gateway cidr must be set")
	}
	if !c.DHCPRangeStart.IsValid() || !c.DHCPRangeEnd.IsValid() {
		return errors.New("ap dhcp range must be set")
	}
	subnet := c.GatewayCIDR.Masked()
	if !subnet.Contains(c.DHCPRangeStart) || !subnet.Contains(c.DHCPRangeEnd) {
		return fmt.Errorf("ap dhcp range outside %s", subnet)
	}
	if c.DHCPRangeEnd.Less(c.DHCPRangeStart) {
		return errors.New("ap dhcp range end precedes start")
	}
	return nil
}
