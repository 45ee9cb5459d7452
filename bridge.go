package iwldvm

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Bridge opcodes. These belong to this package's example SPI bridge, a
// small MCU that forwards register writes and host commands to the card
// and buffers its receive queue. They are not an interface of the card.
const (
	_BRIDGE_WRITE32        = 0x01
	_BRIDGE_WRITE_DIRECT32 = 0x02
	_BRIDGE_COMMAND        = 0x10
	_BRIDGE_RX_LEN         = 0x20
	_BRIDGE_RX_READ        = 0x21
	_BRIDGE_NOP            = 0xff
)

const (
	// MaxCommandPayload is the largest host command the bridge accepts.
	MaxCommandPayload = 320
	rxEmpty           = 0xffffffff
	bridgeScratchSize = 1 + lenFieldSize + frameSizeMask
)

// spiBridge talks to the card through an SPI bridge. It implements
// RegisterBus, CommandSender and RxSource.
type spiBridge struct {
	mu      sync.Mutex
	conn    SPI
	scratch [bridgeScratchSize]byte
}

func newSPIBridge(conn SPI) *spiBridge {
	return &spiBridge{conn: conn}
}

// transfer runs a full-duplex transaction on the first n scratch bytes and
// returns the bytes clocked in after the opcode.
func (b *spiBridge) transfer(n int) ([]byte, error) {
	slice := b.scratch[:n]
	if err := b.conn.Tx(slice, slice); err != nil {
		globalLogger.Error("SPI Transfer Error")
		return nil, fmt.Errorf("spi transfer: %w", err)
	}
	return b.scratch[1:n], nil
}

func (b *spiBridge) writeReg(op byte, addr, val uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scratch[0] = op
	binary.LittleEndian.PutUint32(b.scratch[1:5], addr)
	binary.LittleEndian.PutUint32(b.scratch[5:9], val)
	_, err := b.transfer(9)
	return err
}

func (b *spiBridge) Write32(addr, val uint32) error {
	return b.writeReg(_BRIDGE_WRITE32, addr, val)
}

func (b *spiBridge) WriteDirect32(addr, val uint32) error {
	return b.writeReg(_BRIDGE_WRITE_DIRECT32, addr, val)
}

func (b *spiBridge) SendCommand(id CommandID, payload []byte) error {
	if len(payload) > MaxCommandPayload {
		return fmt.Errorf("%w: command %s payload %d exceeds %d bytes", ErrPkg, id, len(payload), MaxCommandPayload)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scratch[0] = _BRIDGE_COMMAND
	b.scratch[1] = byte(id)
	binary.LittleEndian.PutUint16(b.scratch[2:4], uint16(len(payload)))
	copy(b.scratch[4:], payload)
	_, err := b.transfer(4 + len(payload))
	return err
}

// Receive reads one notification from the bridge queue, or returns nil when
// the queue is empty.
func (b *spiBridge) Receive() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 1. Ask the bridge for the len_n_flags word of the head entry
	b.scratch[0] = _BRIDGE_RX_LEN
	for i := 1; i <= lenFieldSize; i++ {
		b.scratch[i] = _BRIDGE_NOP
	}
	data, err := b.transfer(1 + lenFieldSize)
	if err != nil {
		return nil, err
	}
	lnf := binary.LittleEndian.Uint32(data)
	if lnf == rxEmpty || lnf == 0 {
		return nil, nil
	}
	size := int(lnf & frameSizeMask)
	if size < cmdHeaderSize {
		// The entry is consumed by the read below; a short one is just dropped.
		globalLogger.Warn(fmt.Sprintf("bridge reported frame size %d", size))
	}

	// 2. Read the whole entry, header word included
	n := lenFieldSize + size
	b.scratch[0] = _BRIDGE_RX_READ
	for i := 1; i <= n; i++ {
		b.scratch[i] = _BRIDGE_NOP
	}
	data, err = b.transfer(1 + n)
	if err != nil {
		return nil, err
	}

	// Copy result to safe buffer before the scratch is reused
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}
