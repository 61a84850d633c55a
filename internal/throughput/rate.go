package throughput

import (
	"errors"
	"time"
)

// ErrCounterWrap is returned when a byte counter went backwards, which
// happens on wrap or when the interface was reset.
var ErrCounterWrap = errors.New("counter wrap detected")

// CounterSample is one reading of an interface's byte counters.
type CounterSample struct {
	RxBytes   uint64
	TxBytes   uint64
	Timestamp time.Time
}

// Rate is a bits-per-second measurement between two counter samples.
type Rate struct {
	Timestamp time.Time
	RxBps     float64
	TxBps     float64
}

func CalculateRate(prev, curr CounterSample) (Rate, error) {
	elapsed := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return Rate{}, errors.New("zero or negative elapsed time")
	}
	if curr.RxBytes < prev.RxBytes || curr.TxBytes < prev.TxBytes {
		return Rate{}, ErrCounterWrap
	}
	return Rate{
		Timestamp: curr.Timestamp,
		RxBps:     float64(curr.RxBytes-prev.RxBytes) * 8 / elapsed,
		TxBps:     float64(curr.TxBytes-prev.TxBytes) * 8 / elapsed,
	}, nil
}

// smooth applies an exponential moving average. alpha weighs the newest
// value; the first value seeds the average.
func smooth(prev *float64, next, alpha float64) float64 {
	if next < 0 {
		next = 0
	}
	if prev == nil {
		return next
	}
	v := alpha*next + (1-alpha)*(*prev)
	if v < 0 {
		return 0
	}
	return v
}
