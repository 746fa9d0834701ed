package transfer

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Meter turns landed-byte samples into a throughput over the last few
// intervals.
type Meter struct {
	window int
	rates  []float64
	last   int64
	lastAt time.Time
}

// NewMeter creates a meter averaging over window intervals.
func NewMeter(window int, start time.Time) *Meter {
	if window < 1 {
		window = 1
	}
	return &Meter{window: window, lastAt: start}
}

// Observe records the landed total at now and returns the current rate in
// bytes per second.
func (m *Meter) Observe(landed int64, now time.Time) float64 {
	elapsed := now.Sub(m.lastAt).Seconds()
	if elapsed > 0 {
		delta := landed - m.last
		if delta < 0 {
			delta = 0
		}
		m.rates = append(m.rates, float64(delta)/elapsed)
		if len(m.rates) > m.window {
			m.rates = m.rates[len(m.rates)-m.window:]
		}
		m.last = landed
		m.lastAt = now
	}
	return m.Rate()
}

// Rate returns the mean rate over the window.
func (m *Meter) Rate() float64 {
	if len(m.rates) == 0 {
		return 0
	}
	return stat.Mean(m.rates, nil)
}

// ETA estimates the time until total bytes have landed. It returns -1
// when the total or the rate is unknown.
func ETA(landed, total int64, rate float64) time.Duration {
	if total <= 0 || rate <= 0 {
		return -1
	}
	remaining := total - landed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}
