// Package instrument provides the scoped cpu/allocation measurement windows
// used by calibration.
package instrument

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

// ErrCounter is wrapped by every instruction counter failure.
var ErrCounter = errors.New("instruction counter failed")

// CounterHandle is an open instruction count started by Begin. A Begin that
// could not start a count records why in err, and End reports it.
type CounterHandle struct {
	fd    int
	start uint64
	err   error
}

// InstructionCounter counts retired instructions on the calling thread.
type InstructionCounter interface {
	// Begin starts a count.
	Begin() CounterHandle

	// End stops the count started by h and returns the number of
	// instructions. A count that could not be read is an error, never zero.
	End(h CounterHandle) (uint64, error)

	// Unit names what End counts.
	Unit() string
}

// AllocationTracker hooks process-wide heap allocation accounting.
type AllocationTracker interface {
	// Install registers sink for the window. The returned Guard uninstalls the
	// hook and reports the bytes allocated since Install to sink exactly once.
	// Installing while another Guard is live panics.
	Install(sink func(bytes uint64)) *Guard
}

// Guard owns an installed allocation hook.
type Guard struct {
	released atomic.Bool
	release  func()
}

// NewGuard wraps a release function. Tracker implementations use it.
func NewGuard(release func()) *Guard {
	return &Guard{release: release}
}

// Release uninstalls the hook. It is safe to call more than once.
func (g *Guard) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	g.release()
}

// Reading is the cost observed in one window.
type Reading struct {
	CPU uint64 `json:"cpu"`
	Mem uint64 `json:"mem"`
}

// Context is the instrumentation handed to a measurement harness. Only one
// window may be open on a Context at a time.
type Context struct {
	counter InstructionCounter
	allocs  AllocationTracker
	active  atomic.Bool
}

// NewContext combines a counter and an allocation tracker.
func NewContext(counter InstructionCounter, allocs AllocationTracker) *Context {
	return &Context{counter: counter, allocs: allocs}
}

// Unit names the cpu unit of the underlying counter.
func (c *Context) Unit() string {
	return c.counter.Unit()
}

// Measure runs fn inside a window and returns what it cost. The goroutine is
// pinned to its OS thread for the window, and the allocation hook and
// instruction counter are released on every exit path including panics.
// A counter failure is returned wrapping ErrCounter. Opening a window while
// another is open panics.
func (c *Context) Measure(fn func() error) (Reading, error) {
	if !c.active.CompareAndSwap(false, true) {
		panic("instrument: nested measurement window")
	}
	defer c.active.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		reading    Reading
		err        error
		counterErr error
	)

	func() {
		guard := c.allocs.Install(func(bytes uint64) { reading.Mem = bytes })
		defer guard.Release()

		h := c.counter.Begin()
		defer func() { reading.CPU, counterErr = c.counter.End(h) }()

		err = fn()
	}()

	if counterErr != nil {
		counterErr = fmt.Errorf("%w: %w", ErrCounter, counterErr)
	}
	return reading, errors.Join(err, counterErr)
}
