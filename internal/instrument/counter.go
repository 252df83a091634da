package instrument

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Monotonic origin for wall clock handles
var processStart = time.Now()

// WallClock approximates instruction counts with elapsed nanoseconds. It is
// the fallback on hosts without hardware counters.
type WallClock struct{}

// Begin records the current monotonic time.
func (WallClock) Begin() CounterHandle {
	return CounterHandle{fd: -1, start: uint64(time.Since(processStart))}
}

// End returns the nanoseconds elapsed since h.
func (WallClock) End(h CounterHandle) (uint64, error) {
	now := uint64(time.Since(processStart))
	if now < h.start {
		return 0, fmt.Errorf("clock went backwards: %d < %d", now, h.start)
	}
	return now - h.start, nil
}

// Unit names the counted quantity.
func (WallClock) Unit() string { return "ns" }

// NewInstructionCounter returns a hardware instruction counter when the
// platform provides one and a WallClock otherwise.
func NewInstructionCounter(logger *zap.Logger) InstructionCounter {
	counter, err := newHardwareCounter()
	if err != nil {
		logger.Warn("hardware instruction counter unavailable, falling back to wall clock",
			zap.Error(err))
		return WallClock{}
	}
	return counter
}
