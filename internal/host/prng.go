package host

import (
	"golang.org/x/crypto/chacha20"

	"github.com/davidbz/hostmeter/internal/domain"
)

// PRNG is the chacha20 keystream the host draws guest randomness from.
type PRNG struct {
	cipher *chacha20.Cipher
}

func newPRNG(seed [32]byte) *PRNG {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed above.
		panic(err)
	}
	return &PRNG{cipher: c}
}

// ChaCha20DrawBytes draws n bytes from the host PRNG.
func (h *Host) ChaCha20DrawBytes(n uint64) ([]byte, error) {
	if err := h.charger.Charge(domain.ChaCha20DrawBytes, domain.InputOf(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	h.prng.cipher.XORKeyStream(out, out)
	return out, nil
}
