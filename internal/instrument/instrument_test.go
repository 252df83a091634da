package instrument_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/instrument"
)

// fakeCounter advances a virtual clock by the cost each window declares.
type fakeCounter struct {
	clock  uint64
	begins int
	ends   int
	err    error
}

func (c *fakeCounter) Begin() instrument.CounterHandle {
	c.begins++
	return instrument.CounterHandle{}
}

func (c *fakeCounter) End(_ instrument.CounterHandle) (uint64, error) {
	c.ends++
	if c.err != nil {
		return 0, c.err
	}
	return c.clock, nil
}

func (c *fakeCounter) Unit() string { return "fake" }

type fakeAllocs struct {
	bytes     uint64
	installed bool
	releases  int
}

func (a *fakeAllocs) Install(sink func(uint64)) *instrument.Guard {
	if a.installed {
		panic("second install")
	}
	a.installed = true
	return instrument.NewGuard(func() {
		a.installed = false
		a.releases++
		sink(a.bytes)
	})
}

func TestContext_Measure(t *testing.T) {
	t.Run("should report counter and allocation readings", func(t *testing.T) {
		counter := &fakeCounter{clock: 120}
		allocs := &fakeAllocs{bytes: 64}
		ctx := instrument.NewContext(counter, allocs)

		reading, err := ctx.Measure(func() error { return nil })
		require.NoError(t, err)
		require.Equal(t, instrument.Reading{CPU: 120, Mem: 64}, reading)
		require.Equal(t, 1, counter.begins)
		require.Equal(t, 1, counter.ends)
		require.Equal(t, 1, allocs.releases)
		require.Equal(t, "fake", ctx.Unit())
	})

	t.Run("should release instruments when fn fails", func(t *testing.T) {
		allocs := &fakeAllocs{}
		ctx := instrument.NewContext(&fakeCounter{}, allocs)

		boom := errors.New("boom")
		_, err := ctx.Measure(func() error { return boom })
		require.ErrorIs(t, err, boom)
		require.False(t, allocs.installed)

		_, err = ctx.Measure(func() error { return nil })
		require.NoError(t, err)
	})

	t.Run("should release instruments when fn panics", func(t *testing.T) {
		counter := &fakeCounter{}
		allocs := &fakeAllocs{}
		ctx := instrument.NewContext(counter, allocs)

		require.Panics(t, func() {
			_, _ = ctx.Measure(func() error { panic("operation crashed") })
		})
		require.False(t, allocs.installed)
		require.Equal(t, 1, counter.ends)

		_, err := ctx.Measure(func() error { return nil })
		require.NoError(t, err)
	})

	t.Run("should fail when the counter cannot be read", func(t *testing.T) {
		readErr := errors.New("read counter: bad file descriptor")
		allocs := &fakeAllocs{bytes: 64}
		ctx := instrument.NewContext(&fakeCounter{clock: 120, err: readErr}, allocs)

		_, err := ctx.Measure(func() error { return nil })
		require.ErrorIs(t, err, instrument.ErrCounter)
		require.ErrorIs(t, err, readErr)
		require.False(t, allocs.installed)
	})

	t.Run("should report both fn and counter failures", func(t *testing.T) {
		readErr := errors.New("short counter read")
		boom := errors.New("boom")
		ctx := instrument.NewContext(&fakeCounter{err: readErr}, &fakeAllocs{})

		_, err := ctx.Measure(func() error { return boom })
		require.ErrorIs(t, err, boom)
		require.ErrorIs(t, err, instrument.ErrCounter)
	})

	t.Run("should reject nested windows", func(t *testing.T) {
		ctx := instrument.NewContext(&fakeCounter{}, &fakeAllocs{})

		require.PanicsWithValue(t, "instrument: nested measurement window", func() {
			_, _ = ctx.Measure(func() error {
				_, err := ctx.Measure(func() error { return nil })
				return err
			})
		})
	})
}

func TestGuard_Release(t *testing.T) {
	calls := 0
	guard := instrument.NewGuard(func() { calls++ })

	guard.Release()
	guard.Release()
	require.Equal(t, 1, calls)

	var nilGuard *instrument.Guard
	require.NotPanics(t, nilGuard.Release)
}

var (
	sink  []byte
	small [][]byte
)

func TestHeapTracker(t *testing.T) {
	t.Run("should observe allocations inside the window", func(t *testing.T) {
		tracker := instrument.NewHeapTracker()

		var allocated uint64
		guard := tracker.Install(func(n uint64) { allocated = n })
		sink = make([]byte, 1<<20)
		guard.Release()

		require.GreaterOrEqual(t, allocated, uint64(1<<20))
	})

	t.Run("should observe many small allocations", func(t *testing.T) {
		const (
			count = 50
			size  = 96
		)
		tracker := instrument.NewHeapTracker()
		small = make([][]byte, 0, count)

		var allocated uint64
		guard := tracker.Install(func(n uint64) { allocated = n })
		for range count {
			small = append(small, make([]byte, size))
		}
		guard.Release()

		require.GreaterOrEqual(t, allocated, uint64(count*size))
	})

	t.Run("should observe a single small allocation", func(t *testing.T) {
		tracker := instrument.NewHeapTracker()

		var allocated uint64
		guard := tracker.Install(func(n uint64) { allocated = n })
		sink = make([]byte, 96)
		guard.Release()

		require.GreaterOrEqual(t, allocated, uint64(96))
	})

	t.Run("should refuse a second tracker", func(t *testing.T) {
		tracker := instrument.NewHeapTracker()

		guard := tracker.Install(func(uint64) {})
		defer guard.Release()

		require.PanicsWithValue(t, "instrument: allocation tracker already installed", func() {
			tracker.Install(func(uint64) {})
		})
	})

	t.Run("should allow reinstalling after release", func(t *testing.T) {
		tracker := instrument.NewHeapTracker()

		tracker.Install(func(uint64) {}).Release()
		require.NotPanics(t, func() {
			tracker.Install(func(uint64) {}).Release()
		})
	})
}

func TestWallClock(t *testing.T) {
	var clock instrument.WallClock

	h := clock.Begin()
	sink = make([]byte, 1024)
	require.Equal(t, "ns", clock.Unit())

	elapsed, err := clock.End(h)
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed, uint64(0))
}
