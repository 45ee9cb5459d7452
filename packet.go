package iwldvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrPkg           = errors.New("iwldvm")
	ErrMalformed     = errors.New("malformed notification")
	ErrTimeout       = errors.New("timeout waiting for notification")
	ErrAborted       = errors.New("notification wait aborted")
	ErrNotAssociated = errors.New("not associated")
	ErrRateLimited   = errors.New("rf reset rate limited")
	ErrExitPending   = errors.New("device is shutting down")
)

// CommandID is the firmware command/notification identifier.
type CommandID uint8

// Firmware command and notification identifiers.
const (
	ReplyAlive                  CommandID = 0x01
	ReplyError                  CommandID = 0x02
	ReplyEcho                   CommandID = 0x03
	ReplyRxon                   CommandID = 0x10
	ReplyRxonAssoc              CommandID = 0x11
	ReplyQosParam               CommandID = 0x13
	ReplyRxonTiming             CommandID = 0x14
	ReplyAddSta                 CommandID = 0x18
	ReplyRemoveSta              CommandID = 0x19
	ReplyTx                     CommandID = 0x1c
	ReplyTxLinkQuality          CommandID = 0x4e
	CalibrationCompleteNotif    CommandID = 0x67
	ReplyChannelSwitch          CommandID = 0x72
	ChannelSwitchNotification   CommandID = 0x73
	ReplySpectrumMeasurement    CommandID = 0x74
	SpectrumMeasureNotification CommandID = 0x75
	PowerTableCmd               CommandID = 0x77
	PMSleepNotification         CommandID = 0x7a
	PMDebugStatisticNotif       CommandID = 0x7b
	ReplyScanCmd                CommandID = 0x80
	ReplyScanAbortCmd           CommandID = 0x81
	ScanStartNotification       CommandID = 0x82
	ScanResultsNotification     CommandID = 0x83
	ScanCompleteNotification    CommandID = 0x84
	BeaconNotification          CommandID = 0x90
	ReplyTxBeacon               CommandID = 0x91
	ReplyStatisticsCmd          CommandID = 0x9c
	StatisticsNotification      CommandID = 0x9d
	ReplyCardStateCmd           CommandID = 0xa0
	CardStateNotification       CommandID = 0xa1
	MissedBeaconsNotification   CommandID = 0xa2
	SensitivityCmd              CommandID = 0xa8
	ReplyRxPhyCmd               CommandID = 0xc0
	ReplyRxMpduCmd              CommandID = 0xc1
	ReplyCompressedBA           CommandID = 0xc5
	ReplyWipanNoaNotification   CommandID = 0xbc
	ReplyDebugCmd               CommandID = 0xf0
)

var commandNames = map[CommandID]string{
	ReplyAlive:                  "REPLY_ALIVE",
	ReplyError:                  "REPLY_ERROR",
	ReplyEcho:                   "REPLY_ECHO",
	ReplyRxon:                   "REPLY_RXON",
	ReplyRxonAssoc:              "REPLY_RXON_ASSOC",
	ReplyQosParam:               "REPLY_QOS_PARAM",
	ReplyRxonTiming:             "REPLY_RXON_TIMING",
	ReplyAddSta:                 "REPLY_ADD_STA",
	ReplyRemoveSta:              "REPLY_REMOVE_STA",
	ReplyTx:                     "REPLY_TX",
	ReplyTxLinkQuality:          "REPLY_TX_LINK_QUALITY_CMD",
	CalibrationCompleteNotif:    "CALIBRATION_COMPLETE_NOTIFICATION",
	ReplyChannelSwitch:          "REPLY_CHANNEL_SWITCH",
	ChannelSwitchNotification:   "CHANNEL_SWITCH_NOTIFICATION",
	ReplySpectrumMeasurement:    "REPLY_SPECTRUM_MEASUREMENT_CMD",
	SpectrumMeasureNotification: "SPECTRUM_MEASURE_NOTIFICATION",
	PowerTableCmd:               "POWER_TABLE_CMD",
	PMSleepNotification:         "PM_SLEEP_NOTIFICATION",
	PMDebugStatisticNotif:       "PM_DEBUG_STATISTIC_NOTIFIC",
	ReplyScanCmd:                "REPLY_SCAN_CMD",
	ReplyScanAbortCmd:           "REPLY_SCAN_ABORT_CMD",
	ScanStartNotification:       "SCAN_START_NOTIFICATION",
	ScanResultsNotification:     "SCAN_RESULTS_NOTIFICATION",
	ScanCompleteNotification:    "SCAN_COMPLETE_NOTIFICATION",
	BeaconNotification:          "BEACON_NOTIFICATION",
	ReplyTxBeacon:               "REPLY_TX_BEACON",
	ReplyStatisticsCmd:          "REPLY_STATISTICS_CMD",
	StatisticsNotification:      "STATISTICS_NOTIFICATION",
	ReplyCardStateCmd:           "REPLY_CARD_STATE_CMD",
	CardStateNotification:       "CARD_STATE_NOTIFICATION",
	MissedBeaconsNotification:   "MISSED_BEACONS_NOTIFICATION",
	SensitivityCmd:              "SENSITIVITY_CMD",
	ReplyRxPhyCmd:               "REPLY_RX_PHY_CMD",
	ReplyRxMpduCmd:              "REPLY_RX_MPDU_CMD",
	ReplyCompressedBA:           "REPLY_COMPRESSED_BA",
	ReplyWipanNoaNotification:   "REPLY_WIPAN_NOA_NOTIFICATION",
	ReplyDebugCmd:               "REPLY_DEBUG_CMD",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

const (
	frameSizeMask  = 0x3fff
	lenFieldSize   = 4
	cmdHeaderSize  = 4
	packetHdrBytes = lenFieldSize + cmdHeaderSize
)

// Packet is one decoded notification or command response.
type Packet struct {
	Cmd      CommandID
	Group    uint8
	Sequence uint16
	// LenNFlags is the raw length/flags word from the receive buffer.
	LenNFlags uint32
	Payload   []byte
}

// ParsePacket decodes the receive buffer header. The returned packet's
// payload aliases raw.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < packetHdrBytes {
		return nil, fmt.Errorf("%w: %w: %d byte buffer", ErrPkg, ErrMalformed, len(raw))
	}
	lnf := binary.LittleEndian.Uint32(raw[0:4])
	size := int(lnf & frameSizeMask)
	if size < cmdHeaderSize || lenFieldSize+size > len(raw) {
		return nil, fmt.Errorf("%w: %w: frame size %d, buffer %d", ErrPkg, ErrMalformed, size, len(raw))
	}
	return &Packet{
		Cmd:       CommandID(raw[4]),
		Group:     raw[5],
		Sequence:  binary.LittleEndian.Uint16(raw[6:8]),
		LenNFlags: lnf,
		Payload:   raw[packetHdrBytes : lenFieldSize+size],
	}, nil
}

// EncodePacket builds a receive buffer for the given header and payload.
func EncodePacket(cmd CommandID, seq uint16, payload []byte) []byte {
	buf := make([]byte, packetHdrBytes+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmdHeaderSize+len(payload))&frameSizeMask)
	buf[4] = byte(cmd)
	binary.LittleEndian.PutUint16(buf[6:8], seq)
	copy(buf[packetHdrBytes:], payload)
	return buf
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Payload = append([]byte(nil), p.Payload...)
	return &c
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s (0x%02x) seq 0x%04x len %d", p.Cmd, uint8(p.Cmd), p.Sequence, len(p.Payload))
}

func le16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func le32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func le64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }
