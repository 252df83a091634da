package host

import (
	"bytes"

	"github.com/davidbz/hostmeter/internal/domain"
)

// MemAlloc allocates a zeroed buffer of n bytes.
func (h *Host) MemAlloc(n uint64) ([]byte, error) {
	if err := h.charger.Charge(domain.MemAlloc, domain.InputOf(n)); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// MemCpy copies src into a fresh buffer.
func (h *Host) MemCpy(src []byte) ([]byte, error) {
	if err := h.charger.Charge(domain.MemCpy, domain.InputOf(uint64(len(src)))); err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

// MemCmp compares two buffers, charged by the shorter length.
func (h *Host) MemCmp(a, b []byte) (int, error) {
	n := min(len(a), len(b))
	if err := h.charger.Charge(domain.MemCmp, domain.InputOf(uint64(n))); err != nil {
		return 0, err
	}
	return bytes.Compare(a, b), nil
}
