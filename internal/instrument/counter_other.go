//go:build !linux

package instrument

import "errors"

func newHardwareCounter() (InstructionCounter, error) {
	return nil, errors.New("hardware instruction counters are only supported on linux")
}
