package wwd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soypat/wwd/scan"
	"github.com/soypat/wwd/whd"
)

// ScanNetworks runs an active scan and blocks until it completes, aborts or
// ctx is done. It returns the number of distinct networks found. The table
// is cleared at the start of each scan and read with Networks.
func (h *Host) ScanNetworks(ctx context.Context) (int, error) {
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return 0, errNotRunning
	}
	err := h.scans.Start(h.driver.AbortScan)
	if err != nil {
		return 0, err
	}
	h.info("wwd:scan start")
	err = h.driver.Scan(whd.CallbackScanResult, whd.ScanTypeActive)
	if err != nil {
		h.scans.Complete(whd.ScanAborted)
		return 0, errors.Join(errors.New("wwd: scan request failed"), err)
	}
	err = h.scans.Wait(ctx)
	if err != nil {
		h.scans.Stop()
		return h.scans.Len(), err
	}
	n := h.scans.Len()
	if h.cfg.ScanOutput != nil {
		scan.WriteSummary(h.cfg.ScanOutput, h.scans.Status(), h.scans.Elapsed(), h.scans.Results())
	}
	return n, nil
}

// Networks returns the networks found by the last scan in callback order.
func (h *Host) Networks() []whd.ScanResult { return h.scans.Results() }

// NetworkIndex returns the index in the scan table of the first network
// named exactly name.
func (h *Host) NetworkIndex(name string) (int, bool) { return h.scans.IndexByName(name) }

// JoinIndex joins the network at index i of the scan table using key.
// Open networks ignore key.
func (h *Host) JoinIndex(i int, key []byte) error {
	r, ok := h.scans.Result(i)
	if !ok {
		return errNetworkIndex
	}
	if len(key) > whd.MaxKeyLength {
		return errKeyTooLong
	}
	if !r.Security.NeedsKey() {
		key = nil
	}
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return errNotRunning
	}
	h.info("wwd:join", slog.String("ssid", r.SSID.String()), slog.String("security", r.Security.String()))
	h.mu.Lock()
	h.state = linkStateDown
	h.mu.Unlock()
	err := h.driver.Join(r.SSID, r.Security, key)
	if err != nil {
		h.logerr("wwd:join failed", slog.String("err", err.Error()))
		return errors.Join(errJoinFailed, err)
	}
	if !h.Joined() {
		return errJoinFailed
	}
	return nil
}

// JoinName joins the first network named exactly name in the scan table.
func (h *Host) JoinName(name string, key []byte) error {
	i, ok := h.NetworkIndex(name)
	if !ok {
		return errNetworkUnknown
	}
	return h.JoinIndex(i, key)
}

// Joined reports whether the station link is up.
func (h *Host) Joined() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == linkStateUp
}

// Leave disconnects the station interface.
func (h *Host) Leave() error {
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return errNotRunning
	}
	err := h.driver.Leave()
	h.mu.Lock()
	h.state = linkStateDown
	h.mu.Unlock()
	return err
}

// HardwareAddr6 returns the chipset's MAC address.
func (h *Host) HardwareAddr6() ([6]byte, error) {
	h.mu.Lock()
	mac := h.mac
	h.mu.Unlock()
	if mac != ([6]byte{}) {
		return mac, nil
	}
	if !h.Running() {
		return mac, errNoMAC
	}
	mac, err := h.driver.MAC()
	if err != nil {
		return mac, err
	}
	h.mu.Lock()
	h.mac = mac
	h.mu.Unlock()
	return mac, nil
}

// SetHardwareAddr programs the chipset's MAC address.
func (h *Host) SetHardwareAddr(mac [6]byte) error {
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return errNotRunning
	}
	err := h.driver.SetMAC(mac)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.mac = mac
	h.mu.Unlock()
	return nil
}

// StartAP starts an access point on the configured channel. An empty key
// starts an open network, otherwise WPA AES PSK is used.
func (h *Host) StartAP(ssid, key string) error {
	s, err := whd.MakeSSID(ssid)
	if err != nil {
		return err
	}
	security := whd.SecurityOpen
	if key != "" {
		if len(key) < whd.MinPassphraseLength {
			return errKeyTooShort
		} else if len(key) > whd.MaxKeyLength {
			return errKeyTooLong
		}
		security = whd.SecurityWPAAESPSK
	}
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return errNotRunning
	}
	h.info("wwd:start ap",
		slog.String("ssid", ssid),
		slog.String("security", security.String()),
		slog.Int("channel", int(h.cfg.APChannel)),
	)
	return h.driver.StartAP(s, security, []byte(key), h.cfg.APChannel)
}

// StopAP stops the access point.
func (h *Host) StopAP() error {
	h.opmu.Lock()
	defer h.opmu.Unlock()
	if !h.Running() {
		return errNotRunning
	}
	err := h.driver.StopAP()
	h.mu.Lock()
	h.apUp = false
	h.mu.Unlock()
	return err
}

// APUp reports whether the access point interface is up.
func (h *Host) APUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.apUp
}

// ReadyToTransceive returns nil when the station interface can carry data.
func (h *Host) ReadyToTransceive() error {
	if !h.Running() {
		return errNotRunning
	}
	return h.driver.ReadyToTransceive(whd.InterfaceSTA)
}
