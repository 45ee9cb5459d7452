package iwldvm

import (
	"context"
	"fmt"
	"time"
)

func (d *Device) setupHandlers() {
	d.handlers = map[CommandID]Handler{
		ReplyError:                  HandlerFunc(d.handleReplyError),
		ChannelSwitchNotification:   HandlerFunc(d.handleChannelSwitch),
		SpectrumMeasureNotification: HandlerFunc(d.handleSpectrumMeasure),
		PMSleepNotification:         HandlerFunc(d.handlePMSleep),
		PMDebugStatisticNotif:       HandlerFunc(d.handlePMDebugStatistics),
		BeaconNotification:          HandlerFunc(d.handleBeacon),
		ReplyWipanNoaNotification:   HandlerFunc(d.handleNoticeOfAbsence),
		// Replies to an explicit request and the periodic notifications
		// after beacons share one path.
		ReplyStatisticsCmd:        HandlerFunc(func(pkt *Packet) { d.handleStatistics(pkt, false) }),
		StatisticsNotification:    HandlerFunc(func(pkt *Packet) { d.handleStatistics(pkt, true) }),
		CardStateNotification:     HandlerFunc(d.handleCardState),
		MissedBeaconsNotification: HandlerFunc(d.handleMissedBeacons),
		ReplyRxPhyCmd:             HandlerFunc(d.handleRxPhy),
		ReplyRxMpduCmd:            HandlerFunc(d.handleRxMpdu),
	}
}

// ErrorReply is the payload of REPLY_ERROR.
type ErrorReply struct {
	ErrorType uint32
	Cmd       CommandID
	BadSeq    uint16
	ErrorInfo uint32
}

// ParseErrorReply decodes a REPLY_ERROR payload.
func ParseErrorReply(b []byte) (ErrorReply, error) {
	if len(b) < 12 {
		return ErrorReply{}, fmt.Errorf("%w: %w: error reply %d bytes", ErrPkg, ErrMalformed, len(b))
	}
	return ErrorReply{
		ErrorType: le32(b, 0),
		Cmd:       CommandID(b[4]),
		BadSeq:    le16(b, 6),
		ErrorInfo: le32(b, 8),
	}, nil
}

func (d *Device) handleReplyError(pkt *Packet) {
	e, err := ParseErrorReply(pkt.Payload)
	if err != nil {
		globalLogger.Warn(err.Error())
		return
	}
	globalLogger.Error(fmt.Sprintf("Error Reply type 0x%08X cmd %s (0x%02X) seq 0x%04X ser 0x%08X",
		e.ErrorType, e.Cmd, uint8(e.Cmd), e.BadSeq, e.ErrorInfo))
}

// BeginChannelSwitch marks a channel switch to channel as pending.
func (d *Device) BeginChannelSwitch(channel uint16) {
	d.mu.Lock()
	d.switchChannel = channel
	d.mu.Unlock()
	d.status.Set(StatusChannelSwitchPending)
}

func (d *Device) handleChannelSwitch(pkt *Packet) {
	if !d.status.Test(StatusChannelSwitchPending) {
		return
	}
	if len(pkt.Payload) < 8 {
		globalLogger.Warn(fmt.Sprintf("CSA notif: short payload %d", len(pkt.Payload)))
		return
	}
	channel := le16(pkt.Payload, 2)
	status := le32(pkt.Payload, 4)

	d.mu.Lock()
	target := d.switchChannel
	d.mu.Unlock()

	ok := status == 0 && channel == target
	if ok {
		globalLogger.Debug(fmt.Sprintf("CSA notif: channel %d", channel))
	} else {
		globalLogger.Error(fmt.Sprintf("CSA notif (fail) : channel %d", channel))
	}
	d.status.Clear(StatusChannelSwitchPending)
	if d.config.Hooks.ChannelSwitched != nil {
		d.config.Hooks.ChannelSwitched(ok, channel)
	}
}

const spectrumReportBytes = 100

func (d *Device) handleSpectrumMeasure(pkt *Packet) {
	if len(pkt.Payload) < 4 {
		return
	}
	if pkt.Payload[3] == 0 {
		globalLogger.Debug("Spectrum Measure Notification: Start")
		return
	}
	n := min(len(pkt.Payload), spectrumReportBytes)
	report := append([]byte(nil), pkt.Payload[:n]...)

	d.mu.Lock()
	d.measureReport = report
	d.mu.Unlock()
	d.status.Set(StatusMeasurementReady)
}

// MeasurementReport returns the last spectrum measurement report and clears
// the ready flag.
func (d *Device) MeasurementReport() ([]byte, bool) {
	if !d.status.Test(StatusMeasurementReady) {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Clear(StatusMeasurementReady)
	return append([]byte(nil), d.measureReport...), true
}

func (d *Device) handlePMSleep(pkt *Packet) {
	if len(pkt.Payload) < 2 || !debugEnabled() {
		return
	}
	globalLogger.Debug(fmt.Sprintf("sleep mode: %d, src: %d", pkt.Payload[0], pkt.Payload[1]))
}

func (d *Device) handlePMDebugStatistics(pkt *Packet) {
	if debugEnabled() {
		globalLogger.Debug(fmt.Sprintf("Dumping %d bytes of unhandled notification for PM_DEBUG_STATISTIC_NOTIFIC", len(pkt.Payload)))
	}
}

const (
	beaconNotifBytes = 48
	txStatusMask     = 0xff
)

func (d *Device) handleBeacon(pkt *Packet) {
	b := pkt.Payload
	if len(b) < beaconNotifBytes {
		globalLogger.Warn(fmt.Sprintf("beacon notif: short payload %d", len(b)))
		return
	}
	mgr := le32(b, 44)
	if debugEnabled() {
		globalLogger.Debug(fmt.Sprintf("beacon status %#x, retries:%d ibssmgr:%d tsf:0x%.8x%.8x rate:%d",
			le16(b, 32)&txStatusMask, b[3], mgr, le32(b, 40), le32(b, 36), le32(b, 4)&0xff))
	}
	d.mu.Lock()
	d.ibssManager = mgr
	d.mu.Unlock()
}

// IBSSManager returns the IBSS manager status of the last beacon notification.
func (d *Device) IBSSManager() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ibssManager
}

func (d *Device) handleStatistics(pkt *Packet, periodic bool) {
	if debugEnabled() {
		globalLogger.Debug(fmt.Sprintf("Statistics notification received (%d bytes).", len(pkt.Payload)))
	}
	d.stats.Update(pkt.Payload, periodic, time.Now())
}

func (d *Device) handleCardState(pkt *Packet) {
	if len(pkt.Payload) < 4 {
		globalLogger.Warn(fmt.Sprintf("card state notif: short payload %d", len(pkt.Payload)))
		return
	}
	d.card.OnCardState(CardFlags(le32(pkt.Payload, 0)))
}

// MissedBeacons is the payload of MISSED_BEACONS_NOTIFICATION.
type MissedBeacons struct {
	Consecutive uint32
	Total       uint32
	Expected    uint32
	Received    uint32
}

func (d *Device) handleMissedBeacons(pkt *Packet) {
	b := pkt.Payload
	if len(b) < 16 {
		globalLogger.Warn(fmt.Sprintf("missed beacon notif: short payload %d", len(b)))
		return
	}
	mb := MissedBeacons{
		Consecutive: le32(b, 0),
		Total:       le32(b, 4),
		Expected:    le32(b, 8),
		Received:    le32(b, 12),
	}
	d.mu.Lock()
	d.lastMissedBeacon = mb
	d.mu.Unlock()

	if mb.Consecutive <= d.config.MissedBeaconThreshold {
		return
	}
	globalLogger.Debug(fmt.Sprintf("missed bcn cnsq %d totl %d rcd %d expctd %d",
		mb.Consecutive, mb.Total, mb.Received, mb.Expected))
	if !d.status.Scanning() && d.config.Hooks.Sensitivity != nil {
		d.config.Hooks.Sensitivity()
	}
}

// MissedBeacons returns the last missed beacon report.
func (d *Device) MissedBeacons() MissedBeacons {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMissedBeacon
}

// P2P notice-of-absence information element constants.
const (
	eidVendorSpecific = 0xdd
	ouiWFA            = 0x506f9a
	ouiTypeWFAP2P     = 9
	noaAttrHeader     = 3
)

func (d *Device) handleNoticeOfAbsence(pkt *Packet) {
	b := pkt.Payload
	if len(b) < 4+noaAttrHeader {
		globalLogger.Warn(fmt.Sprintf("noa notif: short payload %d", len(b)))
		return
	}

	var ie []byte
	if le32(b, 0) != 0 {
		attr := b[4:]
		attrLen := int(le16(attr, 1))
		copyLen := attrLen + noaAttrHeader
		if copyLen > len(attr) {
			globalLogger.Warn(fmt.Sprintf("noa notif: attribute length %d exceeds payload", attrLen))
			return
		}
		// EID, len, OUI, subtype, then the P2P attribute.
		ie = make([]byte, 0, 6+copyLen)
		ie = append(ie, eidVendorSpecific, byte(4+copyLen),
			byte(ouiWFA>>16&0xff), byte(ouiWFA>>8&0xff), byte(ouiWFA&0xff), ouiTypeWFAP2P)
		ie = append(ie, attr[:copyLen]...)
	}

	d.mu.Lock()
	d.noa = ie
	d.mu.Unlock()
}

// NoticeOfAbsence returns the P2P NoA information element to advertise, or
// nil when none is active.
func (d *Device) NoticeOfAbsence() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.noa...)
}

func (d *Device) handleRxPhy(pkt *Packet) {
	res, err := ParsePhyResult(pkt.Payload)
	if err != nil {
		// The MPDU that follows must not pick up an older reception.
		d.phy.Invalidate()
		globalLogger.Warn(err.Error())
		return
	}
	d.phy.Store(res)
}

func (d *Device) handleRxMpdu(pkt *Packet) {
	res, ampduRef, ok := d.phy.Load()
	if !ok {
		globalLogger.Error("MPDU frame without cached PHY data")
		d.drop()
		return
	}

	m, err := parseMPDU(pkt.Payload)
	if err != nil {
		globalLogger.Warn(err.Error())
		d.drop()
		return
	}

	if res.CfgPhyCount > MaxCfgPhyCount {
		globalLogger.Debug(fmt.Sprintf("dsp size out of range [0,%d]: %d", MaxCfgPhyCount, res.CfgPhyCount))
		d.drop()
		return
	}
	if m.status&RxStatusNoCRC32Error == 0 || m.status&RxStatusNoRxeOverflow == 0 {
		globalLogger.Debug(fmt.Sprintf("Bad CRC or FIFO: 0x%08X.", m.status))
		d.drop()
		return
	}

	st := buildRxStatus(&res, ampduRef)
	d.mu.Lock()
	d.beaconTime = res.BeaconTimestamp
	d.mu.Unlock()

	// With software crypto the hardware verdict is ignored altogether.
	if !d.config.SoftwareCrypto && !d.config.DisableHWDecrypt &&
		frameControl(m.frame)&frameControlProtected != 0 {
		st.Decrypt = ClassifyDecrypt(m.status)
		if st.Decrypt.Outcome == DecryptBadIntegrity {
			// The decryption is in place, the frame is destroyed.
			globalLogger.Debug("Packet destroyed")
			d.drop()
			return
		}
		st.Decrypted = st.Decrypt.Outcome == DecryptOK
	}

	d.deliver(m.frame, st)
}

func (d *Device) drop() {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
}

func (d *Device) deliver(frame []byte, st RxStatus) {
	fc := frameControl(frame)
	if debugEnabled() && d.status.Scanning() &&
		fc&frameControlTypeMask == frameControlTypeMgmt && fc&frameControlStypeMask == frameControlStypeBeacon {
		globalLogger.Debug(fmt.Sprintf("BEACON => FC: 0x%x; freq %s; signal %d dBm", fc, st.Frequency, st.Signal))
	}

	d.mu.Lock()
	d.delivered++
	d.mu.Unlock()
	if d.config.Frames != nil {
		d.config.Frames.Deliver(append([]byte(nil), frame...), st)
	}
}

// BeaconTime returns the firmware beacon timestamp of the last received frame.
func (d *Device) BeaconTime() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beaconTime
}

// statisticsRequestClear asks the firmware to clear its counters after the reply.
const statisticsRequestClear = 0x1

// RequestStatistics asks the firmware for a statistics reply and waits for
// it. The reply is folded into the running counters by the dispatcher.
func (d *Device) RequestStatistics(ctx context.Context, reset bool, timeout time.Duration) error {
	var flag uint32
	if reset {
		flag = statisticsRequestClear
	}
	payload := []byte{byte(flag), byte(flag >> 8), byte(flag >> 16), byte(flag >> 24)}
	_, err := d.IssueCommand(ctx, ReplyStatisticsCmd, payload, WaitSpec{Timeout: timeout})
	return err
}
