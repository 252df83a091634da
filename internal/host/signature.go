package host

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/davidbz/hostmeter/internal/domain"
)

const (
	// SignatureSize is the length of an r||s encoded ecdsa signature.
	SignatureSize = 64
	// UncompressedPointSize is the length of a sec1 uncompressed point.
	UncompressedPointSize = 65

	compactRecoveryBase = 27
)

var (
	// ErrInvalidSignature is returned for signatures that fail to decode.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPublicKey is returned for keys that fail to decode.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Secp256k1Signature is a decoded secp256k1 signature.
type Secp256k1Signature struct {
	R, S btcec.ModNScalar
}

// Ed25519PubKey validates and decodes an ed25519 public key.
func (h *Host) Ed25519PubKey(raw []byte) (ed25519.PublicKey, error) {
	if err := h.charger.Charge(domain.ComputeEd25519PubKey, domain.NoInput()); err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 key is %d bytes", ErrInvalidPublicKey, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyEd25519Sig verifies sig over msg.
func (h *Host) VerifyEd25519Sig(pub ed25519.PublicKey, msg, sig []byte) error {
	if err := h.charger.Charge(domain.VerifyEd25519Sig, domain.InputOf(uint64(len(msg)))); err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("%w: ed25519 verification failed", ErrInvalidSignature)
	}
	return nil
}

// DecodeEcdsaCurve256Sig decodes an r||s signature with both scalars in [1, n).
func (h *Host) DecodeEcdsaCurve256Sig(raw []byte) (*Secp256k1Signature, error) {
	if err := h.charger.Charge(domain.DecodeEcdsaCurve256Sig, domain.NoInput()); err != nil {
		return nil, err
	}
	if len(raw) != SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(raw))
	}

	var sig Secp256k1Signature
	if overflow := sig.R.SetByteSlice(raw[:32]); overflow || sig.R.IsZero() {
		return nil, fmt.Errorf("%w: r out of range", ErrInvalidSignature)
	}
	if overflow := sig.S.SetByteSlice(raw[32:]); overflow || sig.S.IsZero() {
		return nil, fmt.Errorf("%w: s out of range", ErrInvalidSignature)
	}
	return &sig, nil
}

// RecoverEcdsaSecp256k1Key recovers the compressed public key that signed hash.
func (h *Host) RecoverEcdsaSecp256k1Key(hash []byte, sig *Secp256k1Signature, recoveryID byte) ([]byte, error) {
	if err := h.charger.Charge(domain.RecoverEcdsaSecp256k1Key, domain.NoInput()); err != nil {
		return nil, err
	}
	if recoveryID > 3 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, recoveryID)
	}

	compact := make([]byte, 1, 1+SignatureSize)
	compact[0] = compactRecoveryBase + recoveryID
	r, s := sig.R.Bytes(), sig.S.Bytes()
	compact = append(compact, r[:]...)
	compact = append(compact, s[:]...)

	pub, _, err := btcecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub.SerializeCompressed(), nil
}

// Sec1DecodePointUncompressed decodes a p-256 public key.
func (h *Host) Sec1DecodePointUncompressed(raw []byte) (*ecdsa.PublicKey, error) {
	if err := h.charger.Charge(domain.Sec1DecodePointUncompressed, domain.NoInput()); err != nil {
		return nil, err
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// VerifyEcdsaSecp256r1Sig verifies an r||s signature over a prehashed message.
func (h *Host) VerifyEcdsaSecp256r1Sig(pub *ecdsa.PublicKey, hash, sig []byte) error {
	if err := h.charger.Charge(domain.VerifyEcdsaSecp256r1Sig, domain.NoInput()); err != nil {
		return err
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(pub, hash, r, s) {
		return fmt.Errorf("%w: p-256 verification failed", ErrInvalidSignature)
	}
	return nil
}
