package iwldvm

import (
	"fmt"
	"sync"
	"time"
)

// Statistics notification flags.
const (
	StatsFlagClear     = 0x1
	StatsFlagBand24G   = 0x2
	StatsFlagHT40Mode  = 0x8
	NoiseUnavailable   = -127
	noiseFloorOffset   = 107
	inBandFilter       = 0xff
	minHealthInterval  = 99 * time.Millisecond
	statsSizeNormal    = 488
	statsSizeBT        = 532
	commonStatsBytes   = 80
	rxNonPhyStatsBytes = 84
	rxPhyStatsBytes    = 80
	rxHTPhyStatsBytes  = 40
	txStatsBytes       = 112
	btActivityBytes    = 32
)

// Word indices of the counters the driver interprets.
const (
	CommonTemperature      = 0
	RxNonPhySilenceRSSIA   = 9
	RxNonPhySilenceRSSIB   = 10
	RxNonPhySilenceRSSIC   = 11
	RxPhyPLCPErr           = 2
	RxPhyCRC32Err          = 3
	RxHTPhyPLCPErr         = 0
	TxAckTimeout           = 6
	BTHiPriorityTxReqCount = 0
)

// statsLayout gives the byte offset of each category inside one of the two
// statistics payload shapes; -1 marks an absent section.
type statsLayout struct {
	name       string
	size       int
	rxOFDM     int
	rxCCK      int
	rxNonPhy   int
	numBTKills int
	rxOFDMHT   int
	tx         int
	common     int
	btActivity int
}

var (
	layoutNormal = statsLayout{
		name: "normal", size: statsSizeNormal,
		rxOFDM: 4, rxCCK: 84, rxNonPhy: 164, numBTKills: -1, rxOFDMHT: 248,
		tx: 288, common: 400, btActivity: -1,
	}
	layoutBT = statsLayout{
		name: "bt", size: statsSizeBT,
		rxOFDM: 4, rxCCK: 84, rxNonPhy: 164, numBTKills: 248, rxOFDMHT: 260,
		tx: 300, common: 412, btActivity: 492,
	}
)

func layoutFor(n int) (statsLayout, bool) {
	switch n {
	case statsSizeNormal:
		return layoutNormal, true
	case statsSizeBT:
		return layoutBT, true
	}
	return statsLayout{}, false
}

// Counters tracks one statistics category, word by word.
type Counters struct {
	Current     []uint32
	Delta       []uint32
	MaxDelta    []uint32
	Accumulated []uint32
}

func newCounters(bytes int) Counters {
	n := bytes / 4
	return Counters{
		Current:     make([]uint32, n),
		Delta:       make([]uint32, n),
		MaxDelta:    make([]uint32, n),
		Accumulated: make([]uint32, n),
	}
}

// accumulate folds cur into the running counters. A counter that went
// backwards is a firmware-side reset and contributes nothing.
func (c *Counters) accumulate(cur []uint32) {
	for i, v := range cur {
		prev := c.Current[i]
		if v <= prev {
			c.Delta[i] = 0
			continue
		}
		d := v - prev
		c.Delta[i] = d
		c.Accumulated[i] += d
		if d > c.MaxDelta[i] {
			c.MaxDelta[i] = d
		}
	}
	copy(c.Current, cur)
}

func (c *Counters) reset() {
	clear(c.Delta)
	clear(c.MaxDelta)
	clear(c.Accumulated)
}

func (c Counters) clone() Counters {
	return Counters{
		Current:     append([]uint32(nil), c.Current...),
		Delta:       append([]uint32(nil), c.Delta...),
		MaxDelta:    append([]uint32(nil), c.MaxDelta...),
		Accumulated: append([]uint32(nil), c.Accumulated...),
	}
}

// Statistics is a snapshot of the firmware statistics.
type Statistics struct {
	Flag       uint32
	Common     Counters
	RxNonPhy   Counters
	RxOFDM     Counters
	RxOFDMHT   Counters
	RxCCK      Counters
	Tx         Counters
	BTActivity Counters
	// HasBTActivity is true when the last update used the bluetooth layout.
	HasBTActivity   bool
	NumBTKills      uint32
	AccumNumBTKills uint32
	// Noise is the last beacon-silence noise estimate in dBm.
	Noise      int
	LastUpdate time.Time
	Updates    uint64
	Rejected   uint64
}

func newStatistics() Statistics {
	return Statistics{
		Common:     newCounters(commonStatsBytes),
		RxNonPhy:   newCounters(rxNonPhyStatsBytes),
		RxOFDM:     newCounters(rxPhyStatsBytes),
		RxOFDMHT:   newCounters(rxHTPhyStatsBytes),
		RxCCK:      newCounters(rxPhyStatsBytes),
		Tx:         newCounters(txStatsBytes),
		BTActivity: newCounters(btActivityBytes),
		Noise:      NoiseUnavailable,
	}
}

func (s *Statistics) categories() []*Counters {
	return []*Counters{&s.Common, &s.RxNonPhy, &s.RxOFDM, &s.RxOFDMHT, &s.RxCCK, &s.Tx, &s.BTActivity}
}

func (s *Statistics) clone() Statistics {
	c := *s
	c.Common = s.Common.clone()
	c.RxNonPhy = s.RxNonPhy.clone()
	c.RxOFDM = s.RxOFDM.clone()
	c.RxOFDMHT = s.RxOFDMHT.clone()
	c.RxCCK = s.RxCCK.clone()
	c.Tx = s.Tx.clone()
	c.BTActivity = s.BTActivity.clone()
	return c
}

// StatsAggregator keeps the running statistics. Update is called from the
// dispatch goroutine only; Snapshot may be called from anywhere.
type StatsAggregator struct {
	mu     sync.Mutex
	stats  Statistics
	status *Status
	health *HealthMonitor
	onTemp TemperatureFunc
}

// NewStatsAggregator returns an aggregator with zeroed counters.
func NewStatsAggregator(status *Status, health *HealthMonitor, onTemp TemperatureFunc) *StatsAggregator {
	return &StatsAggregator{
		stats:  newStatistics(),
		status: status,
		health: health,
		onTemp: onTemp,
	}
}

func decodeWords(payload []byte, off, bytes int) []uint32 {
	words := make([]uint32, bytes/4)
	for i := range words {
		words[i] = le32(payload, off+4*i)
	}
	return words
}

// Update folds one statistics payload into the running counters. periodic
// is true for the firmware's unsolicited notification and false for a reply
// to an explicit request. It reports whether the payload was recognized.
func (a *StatsAggregator) Update(payload []byte, periodic bool, now time.Time) bool {
	layout, ok := layoutFor(len(payload))
	if !ok {
		globalLogger.Debug(fmt.Sprintf("statistics: len %d doesn't match bt (%d) or normal (%d)",
			len(payload), statsSizeBT, statsSizeNormal))
		a.mu.Lock()
		a.stats.Rejected++
		a.mu.Unlock()
		return false
	}

	flag := le32(payload, 0)
	common := decodeWords(payload, layout.common, commonStatsBytes)
	nonPhy := decodeWords(payload, layout.rxNonPhy, rxNonPhyStatsBytes)
	ofdm := decodeWords(payload, layout.rxOFDM, rxPhyStatsBytes)
	ofdmHT := decodeWords(payload, layout.rxOFDMHT, rxHTPhyStatsBytes)
	cck := decodeWords(payload, layout.rxCCK, rxPhyStatsBytes)
	tx := decodeWords(payload, layout.tx, txStatsBytes)

	a.mu.Lock()
	s := &a.stats
	if flag&StatsFlagClear != 0 {
		for _, c := range s.categories() {
			c.reset()
		}
		globalLogger.Debug("statistics: counters cleared")
	}

	change := common[CommonTemperature] != s.Common.Current[CommonTemperature] ||
		flag&StatsFlagHT40Mode != s.Flag&StatsFlagHT40Mode

	prev := PLCPCounters{
		OFDM: s.RxOFDM.Current[RxPhyPLCPErr],
		HT:   s.RxOFDMHT.Current[RxHTPhyPLCPErr],
	}
	cur := PLCPCounters{OFDM: ofdm[RxPhyPLCPErr], HT: ofdmHT[RxHTPhyPLCPErr]}
	elapsed := now.Sub(s.LastUpdate)
	evaluate := !s.LastUpdate.IsZero() && a.status.Associated() && elapsed >= minHealthInterval

	s.Common.accumulate(common)
	s.RxNonPhy.accumulate(nonPhy)
	s.RxOFDM.accumulate(ofdm)
	s.RxOFDMHT.accumulate(ofdmHT)
	s.RxCCK.accumulate(cck)
	s.Tx.accumulate(tx)
	s.HasBTActivity = layout.btActivity >= 0
	if s.HasBTActivity {
		s.BTActivity.accumulate(decodeWords(payload, layout.btActivity, btActivityBytes))
		s.NumBTKills = le32(payload, layout.numBTKills)
		s.AccumNumBTKills += s.NumBTKills
	}

	s.Flag = flag
	s.LastUpdate = now
	s.Updates++
	if !a.status.Scanning() && periodic {
		s.Noise = beaconSilenceNoise(s.RxNonPhy.Current)
	}
	temp := s.Common.Current[CommonTemperature]
	a.mu.Unlock()

	a.status.Set(StatusStatistics)

	// Recovery runs outside the lock; it may call into the scan collaborator.
	if evaluate && a.health != nil {
		a.health.Evaluate(cur, prev, elapsed)
	}
	if change && a.onTemp != nil {
		a.onTemp(temp, flag&StatsFlagHT40Mode != 0)
	}
	return true
}

// beaconSilenceNoise averages the in-band silence RSSI of the chains that
// reported one.
func beaconSilenceNoise(nonPhy []uint32) int {
	total, active := 0, 0
	for _, idx := range []int{RxNonPhySilenceRSSIA, RxNonPhySilenceRSSIB, RxNonPhySilenceRSSIC} {
		v := int(nonPhy[idx] & inBandFilter)
		if v != 0 {
			total += v
			active++
		}
	}
	if active == 0 {
		return NoiseUnavailable
	}
	noise := total/active - noiseFloorOffset
	globalLogger.Debug(fmt.Sprintf("inband silence a %d, b %d, c %d, dBm %d",
		nonPhy[RxNonPhySilenceRSSIA]&inBandFilter, nonPhy[RxNonPhySilenceRSSIB]&inBandFilter,
		nonPhy[RxNonPhySilenceRSSIC]&inBandFilter, noise))
	return noise
}

// Snapshot returns a deep copy of the current statistics.
// This method is concurrent safe.
func (a *StatsAggregator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.clone()
}

// Noise returns the last noise estimate in dBm, or NoiseUnavailable.
// This method is concurrent safe.
func (a *StatsAggregator) Noise() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.Noise
}
