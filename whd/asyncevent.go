package whd

import "strconv"

// AsyncEventType is the type of an async event
type AsyncEventType uint32

// Async event types as defined by WHD. Only the events the host routes are listed.
const (
	// indicates status of set SSID.
	EvSET_SSID AsyncEventType = 0
	// differentiates join IBSS from found (START) IBSS
	EvJOIN AsyncEventType = 1
	// 802.11 AUTH request.
	EvAUTH AsyncEventType = 3
	// 802.11 DEAUTH indication.
	EvDEAUTH_IND AsyncEventType = 6
	// 802.11 ASSOC request.
	EvASSOC AsyncEventType = 7
	// 802.11 DISASSOC indication.
	EvDISASSOC_IND AsyncEventType = 12
	// generic link indication.
	EvLINK AsyncEventType = 16
	// WPA handshake.
	EvPSK_SUP AsyncEventType = 46
	// AP interface created or deleted.
	EvIF AsyncEventType = 54
	// Scan results are ready or scan was aborted.
	EvESCAN_RESULT AsyncEventType = 69
)

func (ev AsyncEventType) String() string {
	switch ev {
	case EvSET_SSID:
		return "SET_SSID"
	case EvJOIN:
		return "JOIN"
	case EvAUTH:
		return "AUTH"
	case EvDEAUTH_IND:
		return "DEAUTH_IND"
	case EvASSOC:
		return "ASSOC"
	case EvDISASSOC_IND:
		return "DISASSOC_IND"
	case EvLINK:
		return "LINK"
	case EvPSK_SUP:
		return "PSK_SUP"
	case EvIF:
		return "IF"
	case EvESCAN_RESULT:
		return "ESCAN_RESULT"
	}
	return "AsyncEventType(" + strconv.Itoa(int(ev)) + ")"
}

// EStatus represents the status field in async event messages.
// Reference: https://github.com/embassy-rs/embassy/blob/main/cyw43/src/consts.rs#L244-L279
type EStatus uint32

const (
	// EStatusSuccess indicates operation was successful.
	EStatusSuccess EStatus = 0
	// EStatusFail indicates operation failed.
	EStatusFail EStatus = 1
	// EStatusTimeout indicates operation timed out.
	EStatusTimeout EStatus = 2
	// EStatusNoNetworks indicates failed due to no matching network found.
	EStatusNoNetworks EStatus = 3
	// EStatusAbort indicates operation was aborted.
	EStatusAbort EStatus = 4
	// EStatusUnsolicited indicates AUTH or ASSOC packet was unsolicited.
	// For PSK_SUP event, status=6 indicates successful key exchange (WLC_SUP_KEYED).
	EStatusUnsolicited EStatus = 6
	// EStatusPartial indicates scan results are incomplete.
	EStatusPartial EStatus = 8
)

// ScanStatus maps an escan event status onto the status delivered to scan callbacks.
func (s EStatus) ScanStatus() ScanStatus {
	switch s {
	case EStatusPartial:
		return ScanIncomplete
	case EStatusSuccess:
		return ScanCompletedSuccessfully
	}
	return ScanAborted
}

// Interface selects the chipset's station or access point interface.
type Interface uint8

const (
	InterfaceSTA Interface = 0
	InterfaceAP  Interface = 1
	InterfaceP2P Interface = 2
)

func (i Interface) String() string {
	switch i {
	case InterfaceSTA:
		return "sta"
	case InterfaceAP:
		return "ap"
	case InterfaceP2P:
		return "p2p"
	}
	return "if(" + strconv.Itoa(int(i)) + ")"
}

// AsyncEvent is the header of an event delivered by the chipset.
type AsyncEvent struct {
	EventType AsyncEventType
	Status    EStatus
	Reason    uint32
	// Flags of a LINK event is zero when the link went down.
	Flags     uint16
	Interface Interface
}

// HandlerKind selects the event handler a driver registers for async events.
// Handlers are named by kind rather than passed as function values so the
// host can route them through a closed switch.
type HandlerKind uint8

const (
	HandlerNull HandlerKind = iota
	HandlerScanResult
	HandlerAPSTAEvent
	HandlerJoinEvents
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerNull:
		return "null"
	case HandlerScanResult:
		return "scan-result"
	case HandlerAPSTAEvent:
		return "apsta-event"
	case HandlerJoinEvents:
		return "join-events"
	}
	return "HandlerKind(" + strconv.Itoa(int(k)) + ")"
}

// CallbackKind selects the scan result callback a driver invokes per result.
type CallbackKind uint8

const (
	CallbackNull CallbackKind = iota
	CallbackScanResult
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackNull:
		return "null"
	case CallbackScanResult:
		return "scan-result"
	}
	return "CallbackKind(" + strconv.Itoa(int(k)) + ")"
}
