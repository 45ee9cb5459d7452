package iwldvm

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// MPDU status word bits.
const (
	RxStatusNoCRC32Error       = 1 << 0
	RxStatusNoRxeOverflow      = 1 << 1
	RxStatusStationFound       = 1 << 6
	RxStatusNoStationMismatch  = 1 << 7
	RxStatusSecTypeMask        = 0x7 << 8
	RxStatusSecTypeNone        = 0x0 << 8
	RxStatusSecTypeWEP         = 0x1 << 8
	RxStatusSecTypeCCMP        = 0x2 << 8
	RxStatusSecTypeTKIP        = 0x3 << 8
	RxStatusSecTypeExt         = 0x4 << 8
	RxStatusSecTypeErr         = 0x7 << 8
	RxStatusDecryptTypeMask    = 0x3 << 11
	RxStatusNotDecrypted       = 0x0 << 11
	RxStatusBadICVMIC          = 0x1 << 11
	RxStatusBadKeyTTAK         = 0x2 << 11
	RxStatusDecryptOK          = 0x3 << 11
	RxMpduStatusICVOK          = 0x20
	RxMpduStatusMICOK          = 0x40
	RxMpduStatusTTAKOK         = 1 << 7
	RxMpduStatusDecDone        = 0x800
	mpduResStartBytes          = 4
	rssiOffset                 = 44
	agcIndex                   = 1
	rssiABIndex                = 2
	rssiCIndex                 = 3
	agcMask                    = 0xfe00
	agcPos                     = 9
	rssiAMask                  = 0x0000ff
	rssiBMask                  = 0xff0000
	rssiBPos                   = 16
	rssiCMask                  = 0x0000ff
	frameControlProtected      = 0x4000
	frameControlTypeMask       = 0x000c
	frameControlTypeMgmt       = 0x0000
	frameControlStypeMask      = 0x00f0
	frameControlStypeBeacon    = 0x0080
)

// Rate flags of rate_n_flags.
const (
	RateMCSHT   = 1 << 8
	RateMCSCCK  = 1 << 9
	RateMCSGF   = 1 << 10
	RateMCSHT40 = 1 << 11
	RateMCSDup  = 1 << 12
	RateMCSSGI  = 1 << 13
)

// Cipher is the security suite the firmware reports for a frame.
type Cipher uint8

const (
	CipherNone Cipher = iota
	CipherWEP
	CipherCCMP
	CipherTKIP
	CipherExt
	CipherUnknown
)

func (c Cipher) String() string {
	switch c {
	case CipherNone:
		return "none"
	case CipherWEP:
		return "wep"
	case CipherCCMP:
		return "ccmp"
	case CipherTKIP:
		return "tkip"
	case CipherExt:
		return "ext"
	default:
		return "unknown"
	}
}

// DecryptOutcome is the verdict of the hardware decryption engine.
type DecryptOutcome uint8

const (
	// DecryptNotDone means the frame passes through unclassified.
	DecryptNotDone DecryptOutcome = iota
	DecryptOK
	DecryptBadIntegrity
	DecryptBadKey
)

func (o DecryptOutcome) String() string {
	switch o {
	case DecryptOK:
		return "decrypted-ok"
	case DecryptBadIntegrity:
		return "bad-integrity"
	case DecryptBadKey:
		return "bad-key"
	default:
		return "not-done"
	}
}

// DecryptResult is the classified MPDU security status.
type DecryptResult struct {
	Cipher       Cipher
	Outcome      DecryptOutcome
	StationFound bool
}

func cipherOf(status uint32) Cipher {
	switch status & RxStatusSecTypeMask {
	case RxStatusSecTypeNone:
		return CipherNone
	case RxStatusSecTypeWEP:
		return CipherWEP
	case RxStatusSecTypeCCMP:
		return CipherCCMP
	case RxStatusSecTypeTKIP:
		return CipherTKIP
	case RxStatusSecTypeExt:
		return CipherExt
	default:
		return CipherUnknown
	}
}

// ClassifyDecrypt interprets the raw MPDU status word.
func ClassifyDecrypt(status uint32) DecryptResult {
	res := DecryptResult{
		Cipher:       cipherOf(status),
		StationFound: status&RxStatusStationFound != 0,
	}

	switch {
	case res.Cipher == CipherNone, status&RxStatusSecTypeMask == RxStatusSecTypeErr:
		return res
	case status&RxMpduStatusDecDone != RxMpduStatusDecDone:
		// Decryption was not done in hardware.
		return res
	}

	switch res.Cipher {
	case CipherCCMP:
		res.Outcome = outcomeOf(status&RxMpduStatusMICOK != 0)
	case CipherTKIP:
		if status&RxMpduStatusTTAKOK == 0 {
			res.Outcome = DecryptBadKey
			break
		}
		res.Outcome = outcomeOf(status&RxMpduStatusICVOK != 0)
	default:
		res.Outcome = outcomeOf(status&RxMpduStatusICVOK != 0)
	}
	return res
}

func outcomeOf(ok bool) DecryptOutcome {
	if ok {
		return DecryptOK
	}
	return DecryptBadIntegrity
}

// CalcRSSI returns the strongest chain's signal in dBm.
func CalcRSSI(res *PhyResult) int {
	agc := (res.nonCfgWord(agcIndex) & agcMask) >> agcPos
	ab := res.nonCfgWord(rssiABIndex)
	a := ab & rssiAMask
	b := (ab & rssiBMask) >> rssiBPos
	c := res.nonCfgWord(rssiCIndex) & rssiCMask

	maxRSSI := max(a, b, c)
	if debugEnabled() {
		globalLogger.Debug(fmt.Sprintf("Rssi In A %d B %d C %d Max %d AGC dB %d", a, b, c, maxRSSI, agc))
	}
	// Higher AGC means lower signal.
	return int(maxRSSI) - int(agc) - rssiOffset
}

// Band is the frequency band a frame was received on.
type Band uint8

const (
	Band2GHz Band = iota
	Band5GHz
)

func (b Band) String() string {
	if b == Band2GHz {
		return "2.4GHz"
	}
	return "5GHz"
}

// ChannelFrequency returns the center frequency of an 802.11 channel.
func ChannelFrequency(channel uint16, band Band) physic.Frequency {
	var mhz int64
	switch band {
	case Band2GHz:
		switch {
		case channel == 14:
			mhz = 2484
		case channel < 14:
			mhz = 2407 + int64(channel)*5
		}
	case Band5GHz:
		if channel >= 182 {
			mhz = 4000 + int64(channel)*5
		} else {
			mhz = 5000 + int64(channel)*5
		}
	}
	return physic.Frequency(mhz) * physic.MegaHertz
}

// legacyPlcp is the PLCP code of each legacy rate, CCK rates first.
var legacyPlcp = []uint8{10, 20, 55, 110, 0x0d, 0x0f, 0x05, 0x07, 0x09, 0x0b, 0x01, 0x03}

const firstOFDMRate = 4

// RateIndex maps rate_n_flags to an MCS index for HT or a legacy rate
// index within the band's rate table; -1 when unknown.
func RateIndex(rateNFlags uint32, band Band) int {
	if rateNFlags&RateMCSHT != 0 {
		return int(rateNFlags & 0xff)
	}
	offset := 0
	if band == Band5GHz {
		offset = firstOFDMRate
	}
	for idx := offset; idx < len(legacyPlcp); idx++ {
		if legacyPlcp[idx] == uint8(rateNFlags&0xff) {
			return idx - offset
		}
	}
	return -1
}

// Encoding is the PHY encoding of a received frame.
type Encoding uint8

const (
	EncodingLegacy Encoding = iota
	EncodingHT
)

// RxStatus describes one received frame.
type RxStatus struct {
	MACTime       uint64
	Band          Band
	Frequency     physic.Frequency
	Channel       uint16
	RateIndex     int
	Signal        int
	Antennas      uint8
	ShortPreamble bool
	Encoding      Encoding
	Bandwidth40   bool
	ShortGI       bool
	Greenfield    bool
	AMPDU         bool
	AMPDURef      uint32
	Decrypted     bool
	Decrypt       DecryptResult
}

func buildRxStatus(res *PhyResult, ampduRef uint32) RxStatus {
	st := RxStatus{
		MACTime:  res.Timestamp,
		Band:     Band5GHz,
		Channel:  res.Channel,
		Antennas: res.Antennas(),
	}
	if res.PhyFlags&PhyFlagBand24 != 0 {
		st.Band = Band2GHz
	}
	st.Frequency = ChannelFrequency(res.Channel, st.Band)
	st.RateIndex = RateIndex(res.RateNFlags, st.Band)
	st.Signal = CalcRSSI(res)
	st.ShortPreamble = res.PhyFlags&PhyFlagShortPreamble != 0

	// Subframes of one A-MPDU share a single PHY result.
	if res.PhyFlags&PhyFlagAgg != 0 {
		st.AMPDU = true
		st.AMPDURef = ampduRef
	}

	rnf := res.RateNFlags
	if rnf&RateMCSHT != 0 {
		st.Encoding = EncodingHT
	}
	st.Bandwidth40 = rnf&RateMCSHT40 != 0
	st.ShortGI = rnf&RateMCSSGI != 0
	st.Greenfield = rnf&RateMCSGF != 0
	return st
}

// mpdu is a decoded REPLY_RX_MPDU_CMD payload.
type mpdu struct {
	frame  []byte
	status uint32
}

func parseMPDU(payload []byte) (mpdu, error) {
	if len(payload) < mpduResStartBytes {
		return mpdu{}, fmt.Errorf("%w: %w: mpdu %d bytes", ErrPkg, ErrMalformed, len(payload))
	}
	n := int(le16(payload, 0))
	end := mpduResStartBytes + n
	if end+4 > len(payload) {
		return mpdu{}, fmt.Errorf("%w: %w: mpdu byte count %d exceeds payload %d", ErrPkg, ErrMalformed, n, len(payload))
	}
	return mpdu{frame: payload[mpduResStartBytes:end], status: le32(payload, end)}, nil
}

func frameControl(frame []byte) uint16 {
	if len(frame) < 2 {
		return 0
	}
	return le16(frame, 0)
}
