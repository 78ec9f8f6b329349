package boardcfg

import (
	"fmt"
	"net"

	"github.com/soypat/wwd/whd"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	b := &cfg.Board
	if b.Pool.Count < 0 || b.Pool.PieceSize < 0 || (b.Pool.Headroom != nil && *b.Pool.Headroom < 0) {
		return fmt.Errorf("board %q: negative pool size", b.Name)
	}
	if b.MTU < 0 || b.MTU > whd.LinkMTU {
		return fmt.Errorf("board %q: mtu %d outside 0..%d", b.Name, b.MTU, whd.LinkMTU)
	}
	if b.Scan.Capacity < 0 {
		return fmt.Errorf("board %q: negative scan capacity", b.Name)
	}
	if b.QueueSize == 1 || b.QueueSize < 0 {
		return fmt.Errorf("board %q: queue_size must be at least 2", b.Name)
	}
	if b.APChannel > 14 {
		return fmt.Errorf("board %q: ap_channel %d not a 2.4GHz channel", b.Name, b.APChannel)
	}
	if b.MAC != "" {
		if err := validateMAC(b.MAC); err != nil {
			return fmt.Errorf("board %q: mac: %w", b.Name, err)
		}
	}

	seen := make(map[whd.ScanResult]string)
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if len(n.SSID) == 0 || len(n.SSID) > whd.MaxSSIDLength {
			return fmt.Errorf("network %d: ssid length must be 1..%d", i, whd.MaxSSIDLength)
		}
		if err := validateMAC(n.BSSID); err != nil {
			return fmt.Errorf("network %q: bssid: %w", n.SSID, err)
		}
		sec, ok := securityNames[normalizeName(n.Security)]
		if n.Security != "" && !ok {
			return fmt.Errorf("network %q: unknown security %q", n.SSID, n.Security)
		}
		minKey := whd.MinPassphraseLength
		if sec == whd.SecurityWEPPSK {
			minKey = 5 // 40 bit WEP.
		}
		if sec.NeedsKey() && (len(n.Key) < minKey || len(n.Key) > whd.MaxKeyLength) {
			return fmt.Errorf("network %q: key length must be %d..%d", n.SSID, minKey, whd.MaxKeyLength)
		}
		if n.Channel == 0 || n.Channel > 165 {
			return fmt.Errorf("network %q: channel %d out of range", n.SSID, n.Channel)
		}
		switch n.Band {
		case "", "2.4", "5":
		default:
			return fmt.Errorf("network %q: band must be 2.4 or 5", n.SSID)
		}
		switch normalizeName(n.BSSType) {
		case "", "infra", "adhoc":
		default:
			return fmt.Errorf("network %q: bss_type must be infra or adhoc", n.SSID)
		}
		// Compare on the dedup key only.
		nn := *n
		nn.Security = normalizeName(nn.Security)
		nn.BSSType = normalizeName(nn.BSSType)
		if nn.Security == "" {
			nn.Security = "open"
		}
		if nn.Band == "" {
			nn.Band = bandOf(nn.Channel)
		}
		r := nn.ScanResult()
		key := whd.ScanResult{SSID: r.SSID, BSSID: r.BSSID, BSSType: r.BSSType, Security: r.Security, Band: r.Band, Channel: r.Channel}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("network %d %q duplicates network %s", i, n.SSID, prev)
		}
		seen[key] = fmt.Sprintf("%d %q", i, n.SSID)
	}
	return nil
}

func validateMAC(s string) error {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return err
	}
	if len(hw) != 6 {
		return fmt.Errorf("%q is not a 6 byte hardware address", s)
	}
	return nil
}

func bandOf(channel uint8) string {
	if channel > 14 {
		return "5"
	}
	return "2.4"
}
