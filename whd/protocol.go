package whd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
)

// Security is the authentication and cipher suite of a network as a bitfield.
type Security uint32

const (
	secWEP        Security = 0x0001
	secTKIP       Security = 0x0002
	secAES        Security = 0x0004
	secWPA        Security = 0x0020_0000
	secWPA2       Security = 0x0040_0000
	secEnterprise Security = 0x0200_0000

	SecurityOpen         Security = 0
	SecurityWEPPSK       Security = secWEP
	SecurityWPATKIPPSK   Security = secWPA | secTKIP
	SecurityWPAAESPSK    Security = secWPA | secAES
	SecurityWPAMixedPSK  Security = secWPA | secAES | secTKIP
	SecurityWPA2AESPSK   Security = secWPA2 | secAES
	SecurityWPA2TKIPPSK  Security = secWPA2 | secTKIP
	SecurityWPA2MixedPSK Security = secWPA2 | secAES | secTKIP
	SecurityWPATKIPEnt   Security = secEnterprise | secWPA | secTKIP
	SecurityWPAAESEnt    Security = secEnterprise | secWPA | secAES
	SecurityWPAMixedEnt  Security = secEnterprise | secWPA | secAES | secTKIP
	SecurityWPA2TKIPEnt  Security = secEnterprise | secWPA2 | secTKIP
	SecurityWPA2AESEnt   Security = secEnterprise | secWPA2 | secAES
	SecurityWPA2MixedEnt Security = secEnterprise | secWPA2 | secAES | secTKIP
	SecurityUnknown      Security = 0xffff_ffff
)

// String returns the fixed-width name used in scan result tables.
func (s Security) String() string {
	switch s {
	case SecurityOpen:
		return "Open                 "
	case SecurityWEPPSK:
		return "WEP                  "
	case SecurityWPATKIPPSK:
		return "WPA  TKIP  PSK       "
	case SecurityWPAAESPSK:
		return "WPA  AES   PSK       "
	case SecurityWPAMixedPSK:
		return "WPA  Mixed PSK       "
	case SecurityWPA2AESPSK:
		return "WPA2 AES   PSK       "
	case SecurityWPA2TKIPPSK:
		return "WPA2 TKIP  PSK       "
	case SecurityWPA2MixedPSK:
		return "WPA2 Mixed PSK       "
	case SecurityWPATKIPEnt:
		return "WPA  TKIP  Enterprise"
	case SecurityWPAAESEnt:
		return "WPA  AES   Enterprise"
	case SecurityWPAMixedEnt:
		return "WPA  Mixed Enterprise"
	case SecurityWPA2TKIPEnt:
		return "WPA2 TKIP  Enterprise"
	case SecurityWPA2AESEnt:
		return "WPA2 AES   Enterprise"
	case SecurityWPA2MixedEnt:
		return "WPA2 Mixed Enterprise"
	}
	return "Unknown              "
}

// NeedsKey reports whether joining a network with this security requires key material.
func (s Security) NeedsKey() bool { return s != SecurityOpen }

// BSSType is the kind of basic service set.
type BSSType uint8

const (
	BSSInfrastructure BSSType = iota
	BSSAdhoc
	BSSAny
	BSSUnknown BSSType = 0xff
)

func (b BSSType) String() string {
	if b == BSSAdhoc {
		return "Adhoc"
	}
	return "Infra"
}

// Band is the radio band a network was seen on.
type Band uint8

const (
	Band5GHz Band = iota
	Band2_4GHz
)

// ScanStatus is the status delivered alongside each scan callback.
type ScanStatus uint8

const (
	ScanIncomplete ScanStatus = iota
	ScanCompletedSuccessfully
	ScanAborted
)

func (s ScanStatus) String() string {
	switch s {
	case ScanIncomplete:
		return "incomplete"
	case ScanCompletedSuccessfully:
		return "completed"
	case ScanAborted:
		return "aborted"
	}
	return "unknown"
}

// ScanType selects how the chipset probes for networks.
type ScanType uint8

const (
	ScanTypeActive ScanType = iota
	ScanTypePassive
)

// SSID is a length-prefixed network name.
type SSID struct {
	Length uint8
	Value  [MaxSSIDLength]byte
}

// MakeSSID builds an SSID from name. Names longer than MaxSSIDLength are rejected.
func MakeSSID(name string) (SSID, error) {
	var s SSID
	if len(name) > MaxSSIDLength {
		return s, errors.New("ssid too long")
	}
	s.Length = uint8(copy(s.Value[:], name))
	return s, nil
}

func (s SSID) String() string { return string(s.Value[:s.Length]) }

// Equal reports whether both SSIDs have the same length and bytes.
func (s SSID) Equal(o SSID) bool {
	return s.Length == o.Length && bytes.Equal(s.Value[:s.Length], o.Value[:o.Length])
}

// ScanResult describes one network seen during a scan.
type ScanResult struct {
	SSID  SSID
	BSSID [6]byte
	// Signal strength in dBm.
	SignalStrength int16
	// Maximum data rate in kilobits per second.
	MaxDataRate uint32
	BSSType     BSSType
	Security    Security
	Band        Band
	Channel     uint8
}

// SameNetwork reports whether r and o describe the same network: equal BSSID,
// band, channel, SSID, BSS type and security. Signal strength and data rate are ignored.
func (r *ScanResult) SameNetwork(o *ScanResult) bool {
	return r.BSSID == o.BSSID &&
		r.Band == o.Band &&
		r.Channel == o.Channel &&
		r.SSID.Equal(o.SSID) &&
		r.BSSType == o.BSSType &&
		r.Security == o.Security
}

// HardwareAddr returns the BSSID as a net.HardwareAddr.
func (r *ScanResult) HardwareAddr() net.HardwareAddr { return net.HardwareAddr(r.BSSID[:]) }

// Escan result framing. All fields are little-endian.
const (
	ESCAN_HEADER_LEN = 12
	BSS_INFO_LEN     = 128
	escanBSSCountOff = 10

	bssVersionOff   = 0
	bssLengthOff    = 4
	bssBSSIDOff     = 8
	bssCapOff       = 16
	bssSSIDLenOff   = 18
	bssSSIDOff      = 19
	bssRateCountOff = 52
	bssRatesOff     = 56
	bssChanSpecOff  = 72
	bssRSSIOff      = 78
	bssCtlChOff     = 88
	bssIEOffsetOff  = 116
	bssIELengthOff  = 120
	bssMaxRates     = 16
)

var (
	errShortEscan    = errors.New("buffer too small for escan result")
	errNoBSS         = errors.New("escan result carries no bss info")
	errShortBSS      = errors.New("bss info length exceeds buffer")
	errIEOutOfBounds = errors.New("IE end exceeds bss length")
	errBadSSIDLen    = errors.New("bss ssid length exceeds 32")
)

// ParseScanResult decodes the first BSS record of an escan result event payload.
// reference: cyw43_ll_wifi_parse_scan_result
func ParseScanResult(buf []byte) (sr ScanResult, err error) {
	if len(buf) < ESCAN_HEADER_LEN+BSS_INFO_LEN {
		return sr, errShortEscan
	}
	if binary.LittleEndian.Uint16(buf[escanBSSCountOff:]) == 0 {
		return sr, errNoBSS
	}
	bss := buf[ESCAN_HEADER_LEN:]
	bssLen := binary.LittleEndian.Uint32(bss[bssLengthOff:])
	if bssLen < BSS_INFO_LEN || int(bssLen) > len(bss) {
		return sr, errShortBSS
	}
	bss = bss[:bssLen]
	ieOff := uint32(binary.LittleEndian.Uint16(bss[bssIEOffsetOff:]))
	ieLen := binary.LittleEndian.Uint32(bss[bssIELengthOff:])
	if ieOff < BSS_INFO_LEN || ieOff > bssLen || ieLen > bssLen-ieOff {
		return sr, errIEOutOfBounds
	}
	ssidLen := bss[bssSSIDLenOff]
	if ssidLen > MaxSSIDLength {
		return sr, errBadSSIDLen
	}
	copy(sr.BSSID[:], bss[bssBSSIDOff:bssBSSIDOff+6])
	sr.SSID.Length = ssidLen
	copy(sr.SSID.Value[:], bss[bssSSIDOff:bssSSIDOff+int(ssidLen)])
	sr.SignalStrength = int16(binary.LittleEndian.Uint16(bss[bssRSSIOff:]))

	rateCount := min(binary.LittleEndian.Uint32(bss[bssRateCountOff:]), bssMaxRates)
	for _, rate := range bss[bssRatesOff : bssRatesOff+rateCount] {
		kbps := uint32(rate&0x7f) * 500
		sr.MaxDataRate = max(sr.MaxDataRate, kbps)
	}

	chanspec := binary.LittleEndian.Uint16(bss[bssChanSpecOff:])
	sr.Channel = uint8(chanspec & WL_CHANSPEC_CHAN_MASK)
	if ctl := bss[bssCtlChOff]; ctl != 0 {
		sr.Channel = ctl
	}
	if chanspec&WL_CHANSPEC_BAND_MASK == WL_CHANSPEC_BAND_5G {
		sr.Band = Band5GHz
	} else {
		sr.Band = Band2_4GHz
	}

	capability := binary.LittleEndian.Uint16(bss[bssCapOff:])
	switch {
	case capability&DOT11_CAP_IBSS != 0:
		sr.BSSType = BSSAdhoc
	case capability&DOT11_CAP_ESS != 0:
		sr.BSSType = BSSInfrastructure
	default:
		sr.BSSType = BSSUnknown
	}
	sr.Security = securityFromIEs(capability, bss[ieOff:ieOff+ieLen])
	return sr, nil
}

// securityFromIEs derives the network security from the capability privacy
// bit and the RSN/WPA information elements. RSN takes precedence over WPA.
func securityFromIEs(capability uint16, ies []byte) Security {
	if capability&DOT11_CAP_PRIVACY == 0 {
		return SecurityOpen
	}
	var rsn, wpa Security
	for len(ies) >= 2 {
		id, n := ies[0], int(ies[1])
		if 2+n > len(ies) {
			break
		}
		body := ies[2 : 2+n]
		ies = ies[2+n:]
		switch {
		case id == DOT11_IE_ID_RSN && len(body) >= 2:
			rsn = secWPA2 | parseSuites(body[2:], RSN_OUI)
		case id == DOT11_IE_ID_VENDOR_SPECIFIC && len(body) >= 6 && string(body[:4]) == WPA_OUI_TYPE1:
			wpa = secWPA | parseSuites(body[6:], WPA_OUI)
		}
	}
	switch {
	case rsn != 0:
		return rsn
	case wpa != 0:
		return wpa
	}
	return SecurityWEPPSK
}

// parseSuites reads group cipher, pairwise ciphers and AKM suites following
// the IE version field and returns the cipher and enterprise bits.
func parseSuites(b []byte, oui string) (sec Security) {
	const suiteLen = 4
	if len(b) < suiteLen {
		return secAES // No suite list, assume default CCMP.
	}
	b = b[suiteLen:] // Group cipher.
	if len(b) < 2 {
		return secAES
	}
	count := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	for i := 0; i < count && len(b) >= suiteLen; i++ {
		if string(b[:3]) == oui {
			switch b[3] {
			case suiteTKIP:
				sec |= secTKIP
			case suiteCCMP:
				sec |= secAES
			}
		}
		b = b[suiteLen:]
	}
	if len(b) >= 2 {
		count = int(binary.LittleEndian.Uint16(b))
		b = b[2:]
		for i := 0; i < count && len(b) >= suiteLen; i++ {
			if string(b[:3]) == oui && b[3] == akm8021X {
				sec |= secEnterprise
			}
			b = b[suiteLen:]
		}
	}
	if sec&(secTKIP|secAES) == 0 {
		sec |= secAES
	}
	return sec
}

// AppendScanResult appends an escan result event payload carrying sr to dst.
// The encoding round-trips through ParseScanResult.
func AppendScanResult(dst []byte, sr *ScanResult) []byte {
	ies := appendSecurityIEs(nil, sr.Security)
	bssLen := BSS_INFO_LEN + len(ies)
	total := ESCAN_HEADER_LEN + bssLen
	start := len(dst)
	dst = append(dst, make([]byte, total)...)
	buf := dst[start:]
	binary.LittleEndian.PutUint32(buf[0:], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:], 109)
	binary.LittleEndian.PutUint16(buf[escanBSSCountOff:], 1)

	bss := buf[ESCAN_HEADER_LEN:]
	binary.LittleEndian.PutUint32(bss[bssVersionOff:], 109)
	binary.LittleEndian.PutUint32(bss[bssLengthOff:], uint32(bssLen))
	copy(bss[bssBSSIDOff:], sr.BSSID[:])
	var capability uint16 = DOT11_CAP_ESS
	if sr.BSSType == BSSAdhoc {
		capability = DOT11_CAP_IBSS
	}
	if sr.Security != SecurityOpen {
		capability |= DOT11_CAP_PRIVACY
	}
	binary.LittleEndian.PutUint16(bss[bssCapOff:], capability)
	bss[bssSSIDLenOff] = sr.SSID.Length
	copy(bss[bssSSIDOff:], sr.SSID.Value[:sr.SSID.Length])
	if sr.MaxDataRate != 0 {
		binary.LittleEndian.PutUint32(bss[bssRateCountOff:], 1)
		bss[bssRatesOff] = byte(min(sr.MaxDataRate/500, 0x7f))
	}
	chanspec := uint16(sr.Channel)
	if sr.Band == Band5GHz {
		chanspec |= WL_CHANSPEC_BAND_5G
	}
	binary.LittleEndian.PutUint16(bss[bssChanSpecOff:], chanspec)
	binary.LittleEndian.PutUint16(bss[bssRSSIOff:], uint16(sr.SignalStrength))
	bss[bssCtlChOff] = sr.Channel
	binary.LittleEndian.PutUint16(bss[bssIEOffsetOff:], BSS_INFO_LEN)
	binary.LittleEndian.PutUint32(bss[bssIELengthOff:], uint32(len(ies)))
	copy(bss[BSS_INFO_LEN:], ies)
	return dst
}

func appendSecurityIEs(dst []byte, sec Security) []byte {
	if sec&(secWPA|secWPA2) == 0 {
		return dst
	}
	var oui string
	var body []byte
	if sec&secWPA2 != 0 {
		oui = RSN_OUI
		body = append(body, 1, 0) // Version.
	} else {
		oui = WPA_OUI
		body = append(body, WPA_OUI_TYPE1...)
		body = append(body, 1, 0)
	}
	var ciphers []byte
	if sec&secTKIP != 0 {
		ciphers = append(ciphers, suiteTKIP)
	}
	if sec&secAES != 0 || len(ciphers) == 0 {
		ciphers = append(ciphers, suiteCCMP)
	}
	group := ciphers[0]
	body = append(body, oui...)
	body = append(body, group)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(ciphers)))
	for _, c := range ciphers {
		body = append(body, oui...)
		body = append(body, c)
	}
	akm := byte(akmPSK)
	if sec&secEnterprise != 0 {
		akm = akm8021X
	}
	body = binary.LittleEndian.AppendUint16(body, 1)
	body = append(body, oui...)
	body = append(body, akm)

	id := byte(DOT11_IE_ID_RSN)
	if sec&secWPA2 == 0 {
		id = DOT11_IE_ID_VENDOR_SPECIFIC
	}
	dst = append(dst, id, byte(len(body)))
	return append(dst, body...)
}
