package host

import (
	"crypto/sha256"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/davidbz/hostmeter/internal/domain"
)

// Sha256 hashes data.
func (h *Host) Sha256(data []byte) ([32]byte, error) {
	if err := h.charger.Charge(domain.ComputeSha256Hash, domain.InputOf(uint64(len(data)))); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// Keccak256 hashes data with the pre-standard keccak padding.
func (h *Host) Keccak256(data []byte) ([32]byte, error) {
	if err := h.charger.Charge(domain.ComputeKeccak256Hash, domain.InputOf(uint64(len(data)))); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	hasher.Sum(out[:0])
	return out, nil
}

// Blake3 hashes data.
func (h *Host) Blake3(data []byte) ([32]byte, error) {
	if err := h.charger.Charge(domain.ComputeBlake3Hash, domain.InputOf(uint64(len(data)))); err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(data), nil
}
