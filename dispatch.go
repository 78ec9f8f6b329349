package wwd

import (
	"log/slog"

	"github.com/soypat/wwd/whd"
)

// DispatchEvent routes an async event to the handler selected by kind.
// A null kind is a driver bug and is fatal.
func (h *Host) DispatchEvent(kind whd.HandlerKind, ev whd.AsyncEvent, data []byte) {
	switch kind {
	case whd.HandlerNull:
		h.fatal("null event handler", slog.String("event", ev.EventType.String()))
	case whd.HandlerScanResult:
		h.handleEscan(ev, data)
	case whd.HandlerAPSTAEvent:
		h.handleAPSTAEvent(ev)
	case whd.HandlerJoinEvents:
		h.handleJoinEvent(ev)
	default:
		panic("wwd: unreachable event handler " + kind.String())
	}
}

// DispatchScanResult routes a scan callback selected by kind. A nil r or a
// status other than whd.ScanIncomplete reports the end of the scan.
func (h *Host) DispatchScanResult(kind whd.CallbackKind, r *whd.ScanResult, status whd.ScanStatus) {
	switch kind {
	case whd.CallbackNull:
		h.fatal("null scan result callback")
	case whd.CallbackScanResult:
		if r != nil && status == whd.ScanIncomplete {
			h.scans.Add(r)
			return
		}
		h.scans.Complete(status)
	default:
		panic("wwd: unreachable scan callback " + kind.String())
	}
}

// handleEscan decodes an escan event payload into a scan callback.
func (h *Host) handleEscan(ev whd.AsyncEvent, data []byte) {
	status := ev.Status.ScanStatus()
	if status != whd.ScanIncomplete {
		h.DispatchScanResult(whd.CallbackScanResult, nil, status)
		return
	}
	r, err := whd.ParseScanResult(data)
	if err != nil {
		h.debug("wwd:bad escan result", slog.String("err", err.Error()))
		return
	}
	h.DispatchScanResult(whd.CallbackScanResult, &r, status)
}

func (h *Host) handleAPSTAEvent(ev whd.AsyncEvent) {
	if ev.Interface != whd.InterfaceAP {
		return
	}
	h.mu.Lock()
	switch ev.EventType {
	case whd.EvSET_SSID, whd.EvIF:
		h.apUp = ev.Status == whd.EStatusSuccess
	case whd.EvLINK:
		h.apUp = ev.Flags != 0
	}
	up := h.apUp
	h.mu.Unlock()
	h.debug("wwd:ap event", slog.String("event", ev.EventType.String()), slog.Bool("up", up))
}

// handleJoinEvent advances the station link state.
func (h *Host) handleJoinEvent(ev whd.AsyncEvent) {
	h.mu.Lock()
	switch ev.EventType {
	case whd.EvAUTH:
		if ev.Status != whd.EStatusSuccess {
			h.state = linkStateAuthFailed
		} else if h.state == linkStateDown {
			h.state = linkStateUpWaitForSSID
		}
	case whd.EvSET_SSID:
		// Join ends with SET_SSID.
		if ev.Status == whd.EStatusSuccess && h.state == linkStateUpWaitForSSID {
			h.state = linkStateUp
		} else if ev.Status != whd.EStatusSuccess {
			h.state = linkStateFailed
		}
	case whd.EvLINK:
		if ev.Flags == 0 && h.state == linkStateUp {
			h.state = linkStateWaitForReconnect
		}
	case whd.EvJOIN:
		if h.state == linkStateWaitForReconnect {
			h.state = linkStateUp
		}
	case whd.EvDEAUTH_IND, whd.EvDISASSOC_IND:
		h.state = linkStateDown
	}
	state := h.state
	h.mu.Unlock()
	h.info("wwd:join event",
		slog.String("event", ev.EventType.String()),
		slog.Uint64("status", uint64(ev.Status)),
		slog.Uint64("reason", uint64(ev.Reason)),
		slog.String("linkstate", state.String()),
	)
}
