package accesspoint

import (
	"fmt"
	"net"
	"strings"

	"uplink"
)

// renderHostapd produces hostapd.conf: 2.4GHz, WPA2-PSK when a passphrase
// is set, open network otherwise.
func renderHostapd(cfg uplink.APConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", cfg.Interface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", cfg.SSID)
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	b.WriteString("auth_algs=1\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	if cfg.Passphrase != "" {
		b.WriteString("wpa=2\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", cfg.Passphrase)
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
	}
	return b.String()
}

// renderDnsmasq produces dnsmasq.conf: DHCP for the AP subnet with the
// gateway advertised as both router and DNS.
func renderDnsmasq(cfg uplink.APConfig) string {
	gw := cfg.GatewayCIDR.Addr()
	mask := net.IP(net.CIDRMask(cfg.GatewayCIDR.Bits(), 32))

	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", cfg.Interface)
	b.WriteString("bind-interfaces\n")
	b.WriteString("domain-needed\n")
	b.WriteString("bogus-priv\n")
	fmt.Fprintf(&b, "dhcp-range=%s,%s,%s,12h\n", cfg.DHCPRangeStart, cfg.DHCPRangeEnd, mask)
	fmt.Fprintf(&b, "dhcp-option=option:router,%s\n", gw)
	fmt.Fprintf(&b, "dhcp-option=option:dns-server,%s\n", gw)
	return b.String()
}
