package wwd

import (
	"github.com/soypat/wwd/netbuf"
	"github.com/soypat/wwd/whd"
)

// Driver is a chipset driver hosted by a Host. Start, Stop and Process are
// called from the polling task only. The remaining methods are called by
// the application and must be safe to call concurrently with Process.
// Blocking operations must not hold locks Process needs.
type Driver interface {
	// Start brings the chipset up. hal is the host the driver runs on.
	Start(hal HAL) error
	Stop() error
	// Process services pending work and reports whether more is pending.
	Process() bool

	// Scan starts a scan. Results and completion are delivered as escan
	// events through HAL.DispatchEvent and reach the callback kind given.
	Scan(callback whd.CallbackKind, typ whd.ScanType) error
	AbortScan() error

	Join(ssid whd.SSID, security whd.Security, key []byte) error
	Leave() error
	MAC() ([6]byte, error)
	SetMAC(mac [6]byte) error
	StartAP(ssid whd.SSID, security whd.Security, key []byte, channel uint8) error
	StopAP() error
	// ReadyToTransceive returns nil when itf can carry data frames.
	ReadyToTransceive(itf whd.Interface) error
	// SendEthernet transmits an outgoing frame. The driver owns p and releases it.
	SendEthernet(p *netbuf.Packet, itf whd.Interface) error
}
