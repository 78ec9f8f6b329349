package boardcfg

import (
	"github.com/soypat/wwd"
	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/whd"
)

// Normalize fills in defaults and canonicalizes names.
// It must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	b := &cfg.Board
	def := wwd.DefaultConfig()
	pool := netbuf.DefaultPoolConfig()
	if b.Pool.Count == 0 {
		b.Pool.Count = pool.Count
	}
	if b.Pool.PieceSize == 0 {
		b.Pool.PieceSize = pool.PieceSize
	}
	if b.Pool.Headroom == nil {
		b.Pool.Headroom = &pool.Headroom
	}
	if b.MTU == 0 {
		b.MTU = def.MTU
	}
	if b.Scan.Capacity == 0 {
		b.Scan.Capacity = def.ScanCapacity
	}
	if b.QueueSize == 0 {
		b.QueueSize = def.QueueSize
	}
	if b.APChannel == 0 {
		b.APChannel = whd.DefaultAPChannel
	}
	if b.SPI.ClockDivide == 0 {
		b.SPI.ClockDivide = 1
	}

	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		n.Security = normalizeName(n.Security)
		if n.Security == "" {
			n.Security = "open"
		}
		if n.Security == "open" {
			n.Key = ""
		}
		n.BSSType = normalizeName(n.BSSType)
		if n.BSSType == "" {
			n.BSSType = "infra"
		}
		if n.Band == "" {
			n.Band = bandOf(n.Channel)
		}
		if n.RateKbps == 0 {
			n.RateKbps = 54000
		}
		if n.RSSI == 0 {
			n.RSSI = -50
		}
	}
}
