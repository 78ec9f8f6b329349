// package whd defines the vocabulary shared between a Wi-Fi Host Driver stack
// and the host that embeds it: result codes, link limits, scan records and
// the async event set.
package whd

const (
	SDPCM_HEADER_LEN = 12
	BDC_HEADER_LEN   = 4
	// 2 is padding necessary in the SDPCM header.
	LINK_HEADER_LEN = 2 + SDPCM_HEADER_LEN + BDC_HEADER_LEN
	// Largest bus frame the chipset accepts.
	BUS_FRAME_LEN = 2048
)

// LinkMTU is the largest payload a single network buffer may carry.
const LinkMTU = BUS_FRAME_LEN - LINK_HEADER_LEN

const (
	// MaxScanResults is the default capacity of the scan result table.
	MaxScanResults = 50
	// MaxKeyLength bounds the key material accepted by join and access point calls.
	MaxKeyLength = 50
	// MaxSSIDLength is the 802.11 limit on network names.
	MaxSSIDLength = 32
	// MinPassphraseLength is the WPA lower limit on passphrases.
	MinPassphraseLength = 8
	// DefaultAPChannel is the channel used when starting a host access point.
	DefaultAPChannel = 5
)

// For determining security type from a scan
const (
	DOT11_CAP_ESS               = 0x0001
	DOT11_CAP_IBSS              = 0x0002
	DOT11_CAP_PRIVACY           = 0x0010
	DOT11_IE_ID_SSID            = 0
	DOT11_IE_ID_RSN             = 48
	DOT11_IE_ID_VENDOR_SPECIFIC = 221
	WPA_OUI_TYPE1               = "\x00\x50\xF2\x01"
	WPA_OUI                     = "\x00\x50\xF2"
	RSN_OUI                     = "\x00\x0F\xAC"
)

// Cipher and AKM suite selectors, shared by WPA and RSN information elements.
const (
	suiteTKIP = 2
	suiteCCMP = 4
	akm8021X  = 1
	akmPSK    = 2
)

// Chanspec band bits.
const (
	WL_CHANSPEC_BAND_MASK = 0xc000
	WL_CHANSPEC_BAND_2G   = 0x0000
	WL_CHANSPEC_BAND_5G   = 0xc000
	WL_CHANSPEC_CHAN_MASK = 0x00ff
)

// BufferDir is the direction a network buffer is requested for.
type BufferDir uint8

const (
	BufferTx BufferDir = iota
	BufferRx
)

func (d BufferDir) String() string {
	if d == BufferRx {
		return "rx"
	}
	return "tx"
}

// BusDir is the direction of a bus transfer requested by the driver.
type BusDir uint8

const (
	// BusRead clocks the command out and the response into the same buffer.
	BusRead BusDir = iota
	BusWrite
)

func (d BusDir) String() string {
	if d == BusWrite {
		return "write"
	}
	return "read"
}

// Function selects the gSPI function addressed by a command word.
type Function uint32

const (
	FuncBus       Function = 0
	FuncBackplane Function = 1
	FuncWLAN      Function = 2
	// Optional second DMA channel.
	FuncDMA2 Function = 3
)

func (f Function) String() (s string) {
	switch f {
	case FuncBus:
		s = "bus"
	case FuncBackplane:
		s = "backplane"
	case FuncWLAN:
		s = "wlan"
	case FuncDMA2:
		s = "dma2"
	default:
		s = "unknown"
	}
	return s
}

// gSPI bus function registers.
const (
	SPI_BUS_CONTROL         = 0x0000
	SPI_READ_TEST_REGISTER  = 0x0014
	SPI_WRITE_TEST_REGISTER = 0x0018
	TEST_PATTERN            = 0xFEEDBEAD
	// CMD_LEN is the length of the command word preceding every transfer.
	CMD_LEN = 4
)

// CmdWord returns the gSPI command word for a transfer of size bytes at addr.
func CmdWord(write, autoInc bool, fn Function, addr, size uint32) uint32 {
	return b2u32(write)<<31 | b2u32(autoInc)<<30 | uint32(fn)<<28 | (addr&0x1ffff)<<11 | size&0x7ff
}

// ParseCmdWord splits a command word into its fields.
func ParseCmdWord(cmd uint32) (write, autoInc bool, fn Function, addr, size uint32) {
	return cmd&(1<<31) != 0, cmd&(1<<30) != 0, Function((cmd >> 28) & 0x3), (cmd >> 11) & 0x1ffff, cmd & 0x7ff
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
