package host

import (
	"errors"
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/davidbz/hostmeter/internal/domain"
)

var (
	// ErrBlsLengthMismatch is returned when points and scalars differ in count.
	ErrBlsLengthMismatch = errors.New("bls12-381: length mismatch")

	// ErrBlsEmptyInput is returned for an empty msm or pairing input.
	ErrBlsEmptyInput = errors.New("bls12-381: empty input")
)

// Bls12381G1Add adds two g1 points.
func (h *Host) Bls12381G1Add(a, b *bls12381.G1Affine) (*bls12381.G1Affine, error) {
	if err := h.charger.Charge(domain.Bls12381G1Add, domain.NoInput()); err != nil {
		return nil, err
	}
	var acc bls12381.G1Jac
	acc.FromAffine(a)
	acc.AddMixed(b)
	return new(bls12381.G1Affine).FromJacobian(&acc), nil
}

// Bls12381G1Mul multiplies a g1 point by a scalar.
func (h *Host) Bls12381G1Mul(p *bls12381.G1Affine, k *fr.Element) (*bls12381.G1Affine, error) {
	if err := h.charger.Charge(domain.Bls12381G1Mul, domain.NoInput()); err != nil {
		return nil, err
	}
	return new(bls12381.G1Affine).ScalarMultiplication(p, k.BigInt(new(big.Int))), nil
}

// Bls12381G1Msm computes the sum of scalars[i]*points[i] on the calling
// goroutine.
func (h *Host) Bls12381G1Msm(points []bls12381.G1Affine, scalars []fr.Element) (*bls12381.G1Affine, error) {
	if err := checkMsm(len(points), len(scalars)); err != nil {
		return nil, err
	}
	if err := h.charger.Charge(domain.Bls12381G1Msm, domain.InputOf(uint64(len(points)))); err != nil {
		return nil, err
	}

	var acc, term bls12381.G1Jac
	k := new(big.Int)
	for i := range points {
		term.FromAffine(&points[i])
		term.ScalarMultiplication(&term, scalars[i].BigInt(k))
		acc.AddAssign(&term)
	}
	return new(bls12381.G1Affine).FromJacobian(&acc), nil
}

// Bls12381MapFpToG1 maps a field element onto g1.
func (h *Host) Bls12381MapFpToG1(u *fp.Element) (*bls12381.G1Affine, error) {
	if err := h.charger.Charge(domain.Bls12381MapFpToG1, domain.NoInput()); err != nil {
		return nil, err
	}
	p := bls12381.MapToG1(*u)
	return &p, nil
}

// Bls12381HashToG1 hashes msg onto g1 under domain separation tag dst.
func (h *Host) Bls12381HashToG1(msg, dst []byte) (*bls12381.G1Affine, error) {
	if err := h.charger.Charge(domain.Bls12381HashToG1, domain.InputOf(uint64(len(msg)))); err != nil {
		return nil, err
	}
	p, err := bls12381.HashToG1(msg, dst)
	if err != nil {
		return nil, fmt.Errorf("hash to g1: %w", err)
	}
	return &p, nil
}

// Bls12381G2Add adds two g2 points.
func (h *Host) Bls12381G2Add(a, b *bls12381.G2Affine) (*bls12381.G2Affine, error) {
	if err := h.charger.Charge(domain.Bls12381G2Add, domain.NoInput()); err != nil {
		return nil, err
	}
	var acc bls12381.G2Jac
	acc.FromAffine(a)
	acc.AddMixed(b)
	return new(bls12381.G2Affine).FromJacobian(&acc), nil
}

// Bls12381G2Mul multiplies a g2 point by a scalar.
func (h *Host) Bls12381G2Mul(p *bls12381.G2Affine, k *fr.Element) (*bls12381.G2Affine, error) {
	if err := h.charger.Charge(domain.Bls12381G2Mul, domain.NoInput()); err != nil {
		return nil, err
	}
	return new(bls12381.G2Affine).ScalarMultiplication(p, k.BigInt(new(big.Int))), nil
}

// Bls12381G2Msm computes the sum of scalars[i]*points[i] on the calling
// goroutine.
func (h *Host) Bls12381G2Msm(points []bls12381.G2Affine, scalars []fr.Element) (*bls12381.G2Affine, error) {
	if err := checkMsm(len(points), len(scalars)); err != nil {
		return nil, err
	}
	if err := h.charger.Charge(domain.Bls12381G2Msm, domain.InputOf(uint64(len(points)))); err != nil {
		return nil, err
	}

	var acc, term bls12381.G2Jac
	k := new(big.Int)
	for i := range points {
		term.FromAffine(&points[i])
		term.ScalarMultiplication(&term, scalars[i].BigInt(k))
		acc.AddAssign(&term)
	}
	return new(bls12381.G2Affine).FromJacobian(&acc), nil
}

// Bls12381HashToG2 hashes msg onto g2 under domain separation tag dst.
func (h *Host) Bls12381HashToG2(msg, dst []byte) (*bls12381.G2Affine, error) {
	if err := h.charger.Charge(domain.Bls12381HashToG2, domain.InputOf(uint64(len(msg)))); err != nil {
		return nil, err
	}
	p, err := bls12381.HashToG2(msg, dst)
	if err != nil {
		return nil, fmt.Errorf("hash to g2: %w", err)
	}
	return &p, nil
}

// Bls12381Pairing reports whether the product of e(g1s[i], g2s[i]) is one.
func (h *Host) Bls12381Pairing(g1s []bls12381.G1Affine, g2s []bls12381.G2Affine) (bool, error) {
	if err := checkMsm(len(g1s), len(g2s)); err != nil {
		return false, err
	}
	if err := h.charger.Charge(domain.Bls12381Pairing, domain.InputOf(uint64(len(g1s)))); err != nil {
		return false, err
	}
	ok, err := bls12381.PairingCheck(g1s, g2s)
	if err != nil {
		return false, fmt.Errorf("pairing: %w", err)
	}
	return ok, nil
}

func checkMsm(points, scalars int) error {
	if points != scalars {
		return fmt.Errorf("%w: %d points, %d scalars", ErrBlsLengthMismatch, points, scalars)
	}
	if points == 0 {
		return ErrBlsEmptyInput
	}
	return nil
}
