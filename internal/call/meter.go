package call

import (
	"sync"
	"time"

	"github.com/meetsy/callcore/internal/util"
)

// defaultMeterInterval approximates an animation-frame cadence.
const defaultMeterInterval = 33 * time.Millisecond

// recentLevelCount is how many samples the diagnostic ring keeps (~1s).
const recentLevelCount = 30

// AudioAnalyzer exposes the loudness of the local audio capture. The value is
// updated out-of-band by the platform provider's PCM tap, so reading it on
// every tick allocates nothing.
type AudioAnalyzer interface {
	// Level returns the normalized RMS loudness in [0,1]. ok is false
	// until the first chunk has been observed.
	Level() (level float64, ok bool)
}

// Meter periodically samples the analyzer and emits CallMetrics together with
// a read-only snapshot of the connection/ICE state. Metering is best-effort:
// with a nil analyzer the meter never starts and the call proceeds without it.
type Meter struct {
	analyzer AudioAnalyzer
	interval time.Duration
	snapshot func() (conn, ice string)
	emit     func(CallMetrics)

	recent *util.RingBuffer[float32]

	stopOnce sync.Once
	stop     chan struct{}
}

func newMeter(analyzer AudioAnalyzer, interval time.Duration, snapshot func() (string, string), emit func(CallMetrics)) *Meter {
	if interval <= 0 {
		interval = defaultMeterInterval
	}
	return &Meter{
		analyzer: analyzer,
		interval: interval,
		snapshot: snapshot,
		emit:     emit,
		recent:   util.NewRingBuffer[float32](recentLevelCount),
		stop:     make(chan struct{}),
	}
}

// Start launches the metering loop. No-op when no analyzer is available.
func (m *Meter) Start() {
	if m.analyzer == nil {
		return
	}
	go m.run()
}

func (m *Meter) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			level, ok := m.analyzer.Level()
			if !ok {
				continue
			}
			if level < 0 {
				level = 0
			} else if level > 1 {
				level = 1
			}
			conn, ice := m.snapshot()
			m.recent.Push(float32(level))
			m.emit(CallMetrics{
				AudioLevel:      float32(level),
				ConnectionState: conn,
				ICEState:        ice,
			})
		}
	}
}

// Recent returns the latest recorded levels, oldest first.
func (m *Meter) Recent() []float32 {
	return m.recent.Snapshot()
}

// Stop halts the loop. Idempotent; the ticker never outlives the session.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
