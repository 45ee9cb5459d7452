package iwldvm

import (
	"fmt"
	"sync"
)

const (
	phyResBytes      = 60
	nonCfgPhyBufSize = 32
	// MaxCfgPhyCount is the largest valid DSP descriptor count.
	MaxCfgPhyCount = 20
)

// PHY result flags.
const (
	PhyFlagBand24        = 1 << 0
	PhyFlagModCCK        = 1 << 1
	PhyFlagShortPreamble = 1 << 2
	PhyFlagNarrowBand    = 1 << 3
	PhyFlagAntennaMask   = 0x70
	PhyFlagAntennaPos    = 4
	PhyFlagAgg           = 1 << 7
)

// PhyResult is the PHY metadata of REPLY_RX_PHY_CMD.
type PhyResult struct {
	NonCfgPhyCount  uint8
	CfgPhyCount     uint8
	StatID          uint8
	Timestamp       uint64
	BeaconTimestamp uint32
	PhyFlags        uint16
	Channel         uint16
	NonCfgPhy       [nonCfgPhyBufSize]byte
	RateNFlags      uint32
	ByteCount       uint16
	FrameTime       uint16
}

// ParsePhyResult decodes the fixed 60-byte PHY result.
func ParsePhyResult(b []byte) (PhyResult, error) {
	if len(b) < phyResBytes {
		return PhyResult{}, fmt.Errorf("%w: %w: phy result %d bytes", ErrPkg, ErrMalformed, len(b))
	}
	r := PhyResult{
		NonCfgPhyCount:  b[0],
		CfgPhyCount:     b[1],
		StatID:          b[2],
		Timestamp:       le64(b, 4),
		BeaconTimestamp: le32(b, 12),
		PhyFlags:        le16(b, 16),
		Channel:         le16(b, 18),
		RateNFlags:      le32(b, 52),
		ByteCount:       le16(b, 56),
		FrameTime:       le16(b, 58),
	}
	copy(r.NonCfgPhy[:], b[20:52])
	return r, nil
}

// nonCfgWord returns the idx-th little-endian word of the DSP buffer.
func (r *PhyResult) nonCfgWord(idx int) uint32 {
	return le32(r.NonCfgPhy[:], 4*idx)
}

// Antennas returns the receive chain mask.
func (r *PhyResult) Antennas() uint8 {
	return uint8((r.PhyFlags & PhyFlagAntennaMask) >> PhyFlagAntennaPos)
}

// PhyCache holds the single PHY result that the following MPDU
// notifications refer to.
type PhyCache struct {
	mu       sync.Mutex
	valid    bool
	ampduRef uint32
	res      PhyResult
}

// Store caches res and starts a new aggregation group.
func (c *PhyCache) Store(res PhyResult) {
	c.mu.Lock()
	c.valid = true
	c.ampduRef++
	c.res = res
	c.mu.Unlock()
}

// Load returns the cached result and aggregation reference.
// This method is concurrent safe.
func (c *PhyCache) Load() (res PhyResult, ampduRef uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res, c.ampduRef, c.valid
}

// Invalidate drops the cached result.
func (c *PhyCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
