package iwldvm

import (
	"encoding/binary"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// --- Mocks ---

type mockPin struct {
	mode    string
	pull    Pull
	level   Level
	handler func()
	watched bool
}

func (m *mockPin) In(pull Pull) error {
	m.mode = "input"
	m.pull = pull
	return nil
}

func (m *mockPin) Read() Level { return m.level }

func (m *mockPin) Watch(edge Edge, handler func()) error {
	m.handler = handler
	m.watched = true
	return nil
}

func (m *mockPin) Unwatch() error {
	m.watched = false
	return nil
}

type mockSPIConn struct {
	tx      []byte
	rxQueue [][]byte // Queue of responses to return for subsequent Tx calls
}

func (m *mockSPIConn) Tx(w, r []byte) error {
	m.tx = append(m.tx, w...)

	if len(m.rxQueue) > 0 {
		// Pop the next response
		nextRx := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		n := min(len(r), len(nextRx))
		copy(r, nextRx[:n])
	}
	return nil
}

func (m *mockSPIConn) queueRx(data []byte) {
	m.rxQueue = append(m.rxQueue, data)
}

func (m *mockSPIConn) Duplex() conn.Duplex            { return conn.Full }
func (m *mockSPIConn) TxPackets(p []spi.Packet) error { return nil }
func (m *mockSPIConn) String() string                 { return "mockSPI" }
func (m *mockSPIConn) Close() error                   { return nil }
func (m *mockSPIConn) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return m, nil
}
func (m *mockSPIConn) LimitSpeed(f physic.Frequency) error { return nil }

type regWrite struct {
	direct bool
	addr   uint32
	val    uint32
}

type mockBus struct {
	writes []regWrite
}

func (m *mockBus) Write32(addr, val uint32) error {
	m.writes = append(m.writes, regWrite{false, addr, val})
	return nil
}

func (m *mockBus) WriteDirect32(addr, val uint32) error {
	m.writes = append(m.writes, regWrite{true, addr, val})
	return nil
}

type mockScanner struct {
	mu        sync.Mutex
	short     int
	cancelled int
}

func (m *mockScanner) ShortScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.short++
	return nil
}

func (m *mockScanner) CancelScan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func (m *mockScanner) counts() (short, cancelled int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.short, m.cancelled
}

type delivered struct {
	frame  []byte
	status RxStatus
}

type mockSink struct {
	frames []delivered
}

func (m *mockSink) Deliver(frame []byte, status RxStatus) {
	m.frames = append(m.frames, delivered{frame, status})
}

// mockSender answers every command by dispatching a reply into dev from
// another goroutine, like the firmware would.
type mockSender struct {
	dev   *Device
	reply func(id CommandID, payload []byte) []byte
	sent  []CommandID
	mu    sync.Mutex
}

func (m *mockSender) SendCommand(id CommandID, payload []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, id)
	m.mu.Unlock()
	if m.reply == nil {
		return nil
	}
	raw := m.reply(id, payload)
	if raw != nil {
		go m.dev.Dispatch(raw)
	}
	return nil
}

type mockSource struct {
	queue [][]byte
}

func (m *mockSource) Receive() ([]byte, error) {
	if len(m.queue) == 0 {
		return nil, nil
	}
	raw := m.queue[0]
	m.queue = m.queue[1:]
	return raw, nil
}

// batchSource reports an empty queue between batches, the way a device
// does when more buffers land after the queue was read dry.
type batchSource struct {
	batches [][][]byte
}

func (m *batchSource) Receive() ([]byte, error) {
	if len(m.batches) == 0 {
		return nil, nil
	}
	if len(m.batches[0]) == 0 {
		m.batches = m.batches[1:]
		return nil, nil
	}
	raw := m.batches[0][0]
	m.batches[0] = m.batches[0][1:]
	return raw, nil
}

// --- Payload builders ---

func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func put16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }

// statsPayload returns a normal-layout statistics payload.
func statsPayload() []byte { return make([]byte, statsSizeNormal) }

func setWord(b []byte, sectionOff, idx int, v uint32) { put32(b, sectionOff+4*idx, v) }

// phyPayload builds a PHY result on channel ch with the given RSSI inputs.
func phyPayload(ch uint16, flags uint16, rnf uint32, agc, a, b, c uint32) []byte {
	p := make([]byte, phyResBytes)
	p[1] = 4 // cfg_phy_cnt
	put64 := func(off int, v uint64) { binary.LittleEndian.PutUint64(p[off:], v) }
	put64(4, 0x1122334455)
	put32(p, 12, 0xabcd)
	put16(p, 16, flags)
	put16(p, 18, ch)
	put32(p, 20+4*agcIndex, agc<<agcPos)
	put32(p, 20+4*rssiABIndex, a|b<<rssiBPos)
	put32(p, 20+4*rssiCIndex, c)
	put32(p, 52, rnf)
	return p
}

// mpduPayload wraps frame with its byte count and the trailing status word.
func mpduPayload(frame []byte, status uint32) []byte {
	p := make([]byte, mpduResStartBytes+len(frame)+4)
	put16(p, 0, uint16(len(frame)))
	copy(p[mpduResStartBytes:], frame)
	put32(p, mpduResStartBytes+len(frame), status)
	return p
}
