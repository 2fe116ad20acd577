package netdev

import (
	"bufio"
	"bytes"
	"slices"
	"strconv"
	"strings"

	"uplink"
)

// parseScanOutput extracts visible networks from `iw dev <iface> scan`
// output. A network advertised by several BSSes keeps its strongest signal;
// hidden networks are dropped. Results come back strongest first.
func parseScanOutput(out []byte) []uplink.Network {
	best := make(map[string]int)

	signal := 0
	haveSignal := false

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "BSS ") {
			signal, haveSignal = 0, false
			continue
		}
		trimmed := strings.TrimSpace(line)
		if raw, ok := strings.CutPrefix(trimmed, "signal:"); ok {
			raw = strings.TrimSuffix(strings.TrimSpace(raw), " dBm")
			if dbm, err := strconv.ParseFloat(raw, 64); err == nil {
				signal = uplink.SignalPercent(dbm)
				haveSignal = true
			}
			continue
		}
		if raw, ok := strings.CutPrefix(trimmed, "SSID:"); ok {
			ssid := decodeSSID(strings.TrimPrefix(raw, " "))
			if ssid == "" || !haveSignal {
				continue
			}
			if cur, seen := best[ssid]; !seen || signal > cur {
				best[ssid] = signal
			}
		}
	}

	nets := make([]uplink.Network, 0, len(best))
	for ssid, sig := range best {
		nets = append(nets, uplink.Network{SSID: ssid, SignalStrength: sig})
	}
	slices.SortFunc(nets, func(a, b uplink.Network) int {
		if a.SignalStrength != b.SignalStrength {
			return b.SignalStrength - a.SignalStrength
		}
		return strings.Compare(a.SSID, b.SSID)
	})
	return nets
}

// parseInfoMode extracts the wireless mode from `iw dev <iface> info`.
func parseInfoMode(out []byte) uplink.IfaceMode {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		raw, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "type ")
		if !ok {
			continue
		}
		switch strings.TrimSpace(raw) {
		case "managed":
			return uplink.IfaceModeManaged
		case "AP":
			return uplink.IfaceModeAP
		default:
			return uplink.IfaceModeUnknown
		}
	}
	return uplink.IfaceModeUnknown
}

// decodeSSID drops hidden-network placeholders. iw escapes unprintable
// bytes as \xNN; an SSID of all NULs means the network hides its name.
func decodeSSID(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.Count(raw, `\x00`)*4 == len(raw) {
		return ""
	}
	return raw
}
