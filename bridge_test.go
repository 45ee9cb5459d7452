package iwldvm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeRegisterWrites(t *testing.T) {
	spiConn := &mockSPIConn{}
	b := newSPIBridge(spiConn)

	require.NoError(t, b.Write32(CSRUcodeDrvGP1Set, CSRGP1BitCmdBlocked))
	require.NoError(t, b.WriteDirect32(HbusTargMbxC, 0))

	assert.Equal(t, []byte{
		_BRIDGE_WRITE32, 0x58, 0, 0, 0, 4, 0, 0, 0,
		_BRIDGE_WRITE_DIRECT32, 0x30, 0x04, 0, 0, 0, 0, 0, 0,
	}, spiConn.tx)
}

func TestBridgeSendCommand(t *testing.T) {
	spiConn := &mockSPIConn{}
	b := newSPIBridge(spiConn)

	require.NoError(t, b.SendCommand(ReplyStatisticsCmd, []byte{1, 0, 0, 0}))
	assert.Equal(t, []byte{_BRIDGE_COMMAND, 0x9c, 4, 0, 1, 0, 0, 0}, spiConn.tx)

	err := b.SendCommand(ReplyStatisticsCmd, make([]byte, MaxCommandPayload+1))
	assert.ErrorIs(t, err, ErrPkg)
}

func TestBridgeReceive(t *testing.T) {
	spiConn := &mockSPIConn{}
	b := newSPIBridge(spiConn)

	raw := EncodePacket(CardStateNotification, 5, []byte{1, 0, 0, 0})
	lenResp := make([]byte, 5)
	copy(lenResp[1:], raw[:4])
	spiConn.queueRx(lenResp)
	spiConn.queueRx(append([]byte{0}, raw...))

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// The opcodes clocked out: length query, then the read.
	assert.Equal(t, byte(_BRIDGE_RX_LEN), spiConn.tx[0])
	assert.Equal(t, byte(_BRIDGE_RX_READ), spiConn.tx[5])
	assert.Len(t, spiConn.tx, 5+1+len(raw))
}

func TestBridgeReceiveEmpty(t *testing.T) {
	spiConn := &mockSPIConn{}
	b := newSPIBridge(spiConn)

	resp := make([]byte, 5)
	binary.LittleEndian.PutUint32(resp[1:], rxEmpty)
	spiConn.queueRx(resp)

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, spiConn.tx, 5)
}

func TestBridgeFeedsDevice(t *testing.T) {
	spiConn := &mockSPIConn{}
	b := newSPIBridge(spiConn)
	dev, err := NewWithHardware(HardwareConfig{Bus: b, Source: b, Commands: b})
	require.NoError(t, err)

	raw := EncodePacket(CardStateNotification, 0, []byte{byte(CardHWDisabled), 0, 0, 0})
	lenResp := make([]byte, 5)
	copy(lenResp[1:], raw[:4])
	spiConn.queueRx(lenResp)
	spiConn.queueRx(append([]byte{0}, raw...))

	got, err := b.Receive()
	require.NoError(t, err)
	spiConn.tx = nil
	dev.Dispatch(got)

	assert.True(t, dev.CardState().HardwareRFKill)
	// Four marker writes of nine bytes each went out over SPI.
	assert.Len(t, spiConn.tx, 4*9)
}
