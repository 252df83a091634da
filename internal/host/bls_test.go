package host_test

import (
	"testing"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/host"
)

func TestHost_BlsG1(t *testing.T) {
	h, b := newHost(t)
	_, _, g1, _ := bls12381.Generators()

	var two, three fr.Element
	two.SetUint64(2)
	three.SetUint64(3)

	doubled, err := h.Bls12381G1Add(&g1, &g1)
	require.NoError(t, err)

	viaMul, err := h.Bls12381G1Mul(&g1, &two)
	require.NoError(t, err)
	require.True(t, doubled.Equal(viaMul))

	// 2*g + 3*g == 5*g
	msm, err := h.Bls12381G1Msm([]bls12381.G1Affine{g1, g1}, []fr.Element{two, three})
	require.NoError(t, err)

	var five fr.Element
	five.SetUint64(5)
	expected, err := h.Bls12381G1Mul(&g1, &five)
	require.NoError(t, err)
	require.True(t, msm.Equal(expected))
	require.Equal(t, domain.InputOf(2), b.Tracker(domain.Bls12381G1Msm).InputSum)

	_, err = h.Bls12381G1Msm([]bls12381.G1Affine{g1}, nil)
	require.ErrorIs(t, err, host.ErrBlsLengthMismatch)
	_, err = h.Bls12381G1Msm(nil, nil)
	require.ErrorIs(t, err, host.ErrBlsEmptyInput)

	var u fp.Element
	u.SetUint64(42)
	mapped, err := h.Bls12381MapFpToG1(&u)
	require.NoError(t, err)
	require.True(t, mapped.IsInSubGroup())

	hashed, err := h.Bls12381HashToG1([]byte("msg"), []byte("DST"))
	require.NoError(t, err)
	require.True(t, hashed.IsInSubGroup())
}

func TestHost_BlsG2AndPairing(t *testing.T) {
	h, _ := newHost(t)
	_, _, g1, g2 := bls12381.Generators()

	var two fr.Element
	two.SetUint64(2)

	doubled, err := h.Bls12381G2Add(&g2, &g2)
	require.NoError(t, err)
	viaMul, err := h.Bls12381G2Mul(&g2, &two)
	require.NoError(t, err)
	require.True(t, doubled.Equal(viaMul))

	msm, err := h.Bls12381G2Msm([]bls12381.G2Affine{g2}, []fr.Element{two})
	require.NoError(t, err)
	require.True(t, msm.Equal(viaMul))

	hashed, err := h.Bls12381HashToG2([]byte("msg"), []byte("DST"))
	require.NoError(t, err)
	require.True(t, hashed.IsInSubGroup())

	// e(2*g1, g2) * e(-g1, 2*g2) == 1
	twoG1, err := h.Bls12381G1Add(&g1, &g1)
	require.NoError(t, err)
	var negG1 bls12381.G1Affine
	negG1.Neg(&g1)

	ok, err := h.Bls12381Pairing([]bls12381.G1Affine{*twoG1, negG1}, []bls12381.G2Affine{g2, *viaMul})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Bls12381Pairing([]bls12381.G1Affine{*twoG1}, []bls12381.G2Affine{g2})
	require.NoError(t, err)
	require.False(t, ok)
}
