// Package boardcfg loads YAML board descriptions: bus timing, buffer pool
// sizing, scan limits and the networks visible to a simulated radio.
package boardcfg

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/internal/simchip"
	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/whd"
)

type Config struct {
	Board    BoardConfig     `yaml:"board"`
	Networks []NetworkConfig `yaml:"networks"`
}

// ---- BOARD ----

type BoardConfig struct {
	Name      string     `yaml:"name"`
	SPI       SPIConfig  `yaml:"spi"`
	Pool      PoolConfig `yaml:"pool"`
	MTU       int        `yaml:"mtu"`
	Scan      ScanConfig `yaml:"scan"`
	APChannel uint8      `yaml:"ap_channel"`
	QueueSize int        `yaml:"queue_size"`
	MAC       string     `yaml:"mac"`
}

type SPIConfig struct {
	ClockDivide uint32 `yaml:"clock_divide"`
	CSDelayNS   uint32 `yaml:"cs_delay_ns"`
}

type PoolConfig struct {
	Count     int  `yaml:"count"`
	PieceSize int  `yaml:"piece_size"`
	// Headroom is nil when unset so that an explicit 0 is kept.
	Headroom  *int `yaml:"headroom"`
}

type ScanConfig struct {
	Capacity          int  `yaml:"capacity"`
	RefreshDuplicates bool `yaml:"refresh_duplicates"`
}

// ---- NETWORKS ----

type NetworkConfig struct {
	SSID     string `yaml:"ssid"`
	BSSID    string `yaml:"bssid"`
	Security string `yaml:"security"`
	Key      string `yaml:"key"`
	Channel  uint8  `yaml:"channel"`
	// Band is "2.4" or "5". Empty selects the band of the channel.
	Band     string `yaml:"band"`
	BSSType  string `yaml:"bss_type"`
	RSSI     int16  `yaml:"rssi"`
	RateKbps uint32 `yaml:"rate_kbps"`
}

var securityNames = map[string]whd.Security{
	"open":           whd.SecurityOpen,
	"wep":            whd.SecurityWEPPSK,
	"wpa-tkip-psk":   whd.SecurityWPATKIPPSK,
	"wpa-aes-psk":    whd.SecurityWPAAESPSK,
	"wpa-mixed-psk":  whd.SecurityWPAMixedPSK,
	"wpa2-aes-psk":   whd.SecurityWPA2AESPSK,
	"wpa2-tkip-psk":  whd.SecurityWPA2TKIPPSK,
	"wpa2-mixed-psk": whd.SecurityWPA2MixedPSK,
	"wpa-tkip-ent":   whd.SecurityWPATKIPEnt,
	"wpa-aes-ent":    whd.SecurityWPAAESEnt,
	"wpa-mixed-ent":  whd.SecurityWPAMixedEnt,
	"wpa2-tkip-ent":  whd.SecurityWPA2TKIPEnt,
	"wpa2-aes-ent":   whd.SecurityWPA2AESEnt,
	"wpa2-mixed-ent": whd.SecurityWPA2MixedEnt,
}

// Load reads, validates and normalizes the board description at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(b))
}

// Parse decodes a board description from r. Unknown fields are rejected.
// The result is validated and normalized.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	err := dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(errors.New("boardcfg: decode"), err)
	}
	err = Validate(&cfg)
	if err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}

// HostConfig returns the host configuration described by the board.
// Bus lines and clocks are bound by the caller.
func (cfg *Config) HostConfig() wwd.Config {
	hc := wwd.DefaultConfig()
	b := &cfg.Board
	hc.Pool = netbuf.PoolConfig{Count: b.Pool.Count, PieceSize: b.Pool.PieceSize}
	if b.Pool.Headroom != nil {
		hc.Pool.Headroom = *b.Pool.Headroom
	}
	hc.MTU = b.MTU
	hc.ScanCapacity = b.Scan.Capacity
	hc.RefreshDuplicates = b.Scan.RefreshDuplicates
	hc.APChannel = b.APChannel
	hc.QueueSize = b.QueueSize
	return hc
}

// ChipConfig returns the simulated chip described by the board.
func (cfg *Config) ChipConfig() simchip.Config {
	cc := simchip.DefaultConfig()
	cc.ClockDivide = cfg.Board.SPI.ClockDivide
	cc.CSDelayNS = cfg.Board.SPI.CSDelayNS
	if cfg.Board.MAC != "" {
		hw, _ := net.ParseMAC(cfg.Board.MAC)
		copy(cc.MAC[:], hw)
	}
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		cc.Networks = append(cc.Networks, simchip.Network{Result: n.ScanResult(), Key: n.Key})
	}
	return cc
}

// ScanResult returns the scan result the network is reported with.
// It must be called on a validated and normalized network.
func (n *NetworkConfig) ScanResult() whd.ScanResult {
	ssid, _ := whd.MakeSSID(n.SSID)
	hw, _ := net.ParseMAC(n.BSSID)
	r := whd.ScanResult{
		SSID:           ssid,
		SignalStrength: n.RSSI,
		MaxDataRate:    n.RateKbps,
		Security:       securityNames[n.Security],
		Channel:        n.Channel,
		Band:           whd.Band2_4GHz,
		BSSType:        whd.BSSInfrastructure,
	}
	copy(r.BSSID[:], hw)
	if n.Band == "5" {
		r.Band = whd.Band5GHz
	}
	if n.BSSType == "adhoc" {
		r.BSSType = whd.BSSAdhoc
	}
	return r
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
