//go:build linux

package instrument

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PerfCounter reads PERF_COUNT_HW_INSTRUCTIONS for the calling thread.
type PerfCounter struct{}

func newHardwareCounter() (InstructionCounter, error) {
	fd, err := openInstructionEvent()
	if err != nil {
		return nil, err
	}
	_ = unix.Close(fd)
	return PerfCounter{}, nil
}

func openInstructionEvent() (int, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_INSTRUCTIONS,
		Bits:   unix.PerfBitDisabled | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("perf_event_open: %w", err)
	}
	return fd, nil
}

// Begin opens and enables a counter bound to the current thread. Callers
// must keep the goroutine locked to its thread until End.
func (PerfCounter) Begin() CounterHandle {
	fd, err := openInstructionEvent()
	if err != nil {
		return CounterHandle{fd: -1, err: err}
	}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
		_ = unix.Close(fd)
		return CounterHandle{fd: -1, err: fmt.Errorf("reset counter: %w", err)}
	}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		_ = unix.Close(fd)
		return CounterHandle{fd: -1, err: fmt.Errorf("enable counter: %w", err)}
	}
	return CounterHandle{fd: fd}
}

// End disables the counter and returns the retired instruction count.
func (PerfCounter) End(h CounterHandle) (uint64, error) {
	if h.err != nil {
		return 0, h.err
	}
	if h.fd < 0 {
		return 0, errors.New("counter was not started")
	}
	defer unix.Close(h.fd)

	if err := unix.IoctlSetInt(h.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		return 0, fmt.Errorf("disable counter: %w", err)
	}

	var buf [8]byte
	n, err := unix.Read(h.fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("short counter read: %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf[:]) - h.start, nil
}

// Unit names the counted quantity.
func (PerfCounter) Unit() string { return "insns" }
