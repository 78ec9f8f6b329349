package wwd

import (
	"net"

	"github.com/soypat/wwd/whd"
)

// MTU (maximum transmission unit) returns the maximum amount
// of bytes that can be sent in a single ethernet frame in a call to SendEth.
func (h *Host) MTU() int { return h.bufs.MTU() }

// RecvEthHandle sets handler for receiving Ethernet frames.
// If set to nil then incoming frames are dropped. The handler must not
// retain pkt after returning.
func (h *Host) RecvEthHandle(handler func(pkt []byte) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rcvEth = handler
}

// SendEth sends an Ethernet frame over the station interface.
func (h *Host) SendEth(pkt []byte) error {
	if !h.Running() {
		return errNotRunning
	} else if len(pkt) == 0 {
		return errEmptyFrame
	}
	p, err := h.bufs.Get(whd.BufferTx, len(pkt), true)
	if err != nil {
		return err
	}
	n := 0
	for pc := p; pc != nil; pc = pc.Next() {
		n += copy(pc.Payload(), pkt[n:])
	}
	return h.driver.SendEthernet(p, whd.InterfaceSTA)
}

// NetFlags returns the current network flags for the station interface.
func (h *Host) NetFlags() (flags net.Flags) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == linkStateDown {
		return 0
	}
	flags |= net.FlagUp
	if state == linkStateUp {
		flags |= net.FlagRunning
	}
	return flags
}
