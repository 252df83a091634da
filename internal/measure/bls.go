package measure

import (
	"math/big"
	"math/rand/v2"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
)

const (
	curveIterations = 20
	msmIterations   = 2
	hashToCurveStep = 64
)

var (
	hashToG1DST = []byte("HOSTMETER-V01-CS01-with-BLS12381G1_XMD:SHA-256_SSWU_RO_")
	hashToG2DST = []byte("HOSTMETER-V01-CS01-with-BLS12381G2_XMD:SHA-256_SSWU_RO_")
)

func randomScalar(rng *rand.Rand) fr.Element {
	var k fr.Element
	k.SetBytes(randomBytes(rng, fr.Bytes))
	return k
}

func randomG1(rng *rand.Rand) bls12381.G1Affine {
	_, _, g1, _ := bls12381.Generators()
	k := randomScalar(rng)
	var p bls12381.G1Affine
	p.ScalarMultiplication(&g1, k.BigInt(new(big.Int)))
	return p
}

func randomG2(rng *rand.Rand) bls12381.G2Affine {
	_, _, _, g2 := bls12381.Generators()
	k := randomScalar(rng)
	var p bls12381.G2Affine
	p.ScalarMultiplication(&g2, k.BigInt(new(big.Int)))
	return p
}

type pointPair[P any] struct {
	a, b P
}

type pointScalar[P any] struct {
	p P
	k fr.Element
}

type msmInput[P any] struct {
	points  []P
	scalars []fr.Element
}

// msmOfScale builds scale+1 point/scalar pairs so the smallest level is
// still a valid input.
func msmOfScale[P any](point func(*rand.Rand) P) func(calibration.Case, *rand.Rand, uint64) (*sample[msmInput[P]], error) {
	return func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[msmInput[P]], error) {
		n := scale + 1
		in := msmInput[P]{points: make([]P, n), scalars: make([]fr.Element, n)}
		for i := range n {
			in.points[i] = point(rng)
			in.scalars[i] = randomScalar(rng)
		}
		return newSample(in, domain.InputOf(n)), nil
	}
}

func blsMeasurements(env *Env) []calibration.Measurement {
	h := env.host
	return []calibration.Measurement{
		newOp(domain.Bls12381G1Add, curveIterations,
			fixedSize(func(rng *rand.Rand) (pointPair[bls12381.G1Affine], error) {
				return pointPair[bls12381.G1Affine]{a: randomG1(rng), b: randomG1(rng)}, nil
			}),
			func(in pointPair[bls12381.G1Affine]) error {
				return ignore(func() (*bls12381.G1Affine, error) { return h.Bls12381G1Add(&in.a, &in.b) })
			}),
		newOp(domain.Bls12381G1Mul, curveIterations,
			fixedSize(func(rng *rand.Rand) (pointScalar[bls12381.G1Affine], error) {
				return pointScalar[bls12381.G1Affine]{p: randomG1(rng), k: randomScalar(rng)}, nil
			}),
			func(in pointScalar[bls12381.G1Affine]) error {
				return ignore(func() (*bls12381.G1Affine, error) { return h.Bls12381G1Mul(&in.p, &in.k) })
			}),
		newOp(domain.Bls12381G1Msm, msmIterations, msmOfScale(randomG1),
			func(in msmInput[bls12381.G1Affine]) error {
				return ignore(func() (*bls12381.G1Affine, error) { return h.Bls12381G1Msm(in.points, in.scalars) })
			}),
		newOp(domain.Bls12381MapFpToG1, curveIterations,
			fixedSize(func(rng *rand.Rand) (fp.Element, error) {
				var u fp.Element
				u.SetBytes(randomBytes(rng, fp.Bytes))
				return u, nil
			}),
			func(u fp.Element) error {
				return ignore(func() (*bls12381.G1Affine, error) { return h.Bls12381MapFpToG1(&u) })
			}),
		newOp(domain.Bls12381HashToG1, curveIterations, bytesOfScale(hashToCurveStep),
			func(msg []byte) error {
				return ignore(func() (*bls12381.G1Affine, error) { return h.Bls12381HashToG1(msg, hashToG1DST) })
			}),
		newOp(domain.Bls12381G2Add, curveIterations,
			fixedSize(func(rng *rand.Rand) (pointPair[bls12381.G2Affine], error) {
				return pointPair[bls12381.G2Affine]{a: randomG2(rng), b: randomG2(rng)}, nil
			}),
			func(in pointPair[bls12381.G2Affine]) error {
				return ignore(func() (*bls12381.G2Affine, error) { return h.Bls12381G2Add(&in.a, &in.b) })
			}),
		newOp(domain.Bls12381G2Mul, curveIterations,
			fixedSize(func(rng *rand.Rand) (pointScalar[bls12381.G2Affine], error) {
				return pointScalar[bls12381.G2Affine]{p: randomG2(rng), k: randomScalar(rng)}, nil
			}),
			func(in pointScalar[bls12381.G2Affine]) error {
				return ignore(func() (*bls12381.G2Affine, error) { return h.Bls12381G2Mul(&in.p, &in.k) })
			}),
		newOp(domain.Bls12381G2Msm, msmIterations, msmOfScale(randomG2),
			func(in msmInput[bls12381.G2Affine]) error {
				return ignore(func() (*bls12381.G2Affine, error) { return h.Bls12381G2Msm(in.points, in.scalars) })
			}),
		newOp(domain.Bls12381HashToG2, curveIterations, bytesOfScale(hashToCurveStep),
			func(msg []byte) error {
				return ignore(func() (*bls12381.G2Affine, error) { return h.Bls12381HashToG2(msg, hashToG2DST) })
			}),
		newOp(domain.Bls12381Pairing, 1, pairingOfScale,
			func(in pairingInput) error {
				return ignore(func() (bool, error) { return h.Bls12381Pairing(in.g1s, in.g2s) })
			}),
	}
}

type pairingInput struct {
	g1s []bls12381.G1Affine
	g2s []bls12381.G2Affine
}

func pairingOfScale(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[pairingInput], error) {
	n := scale + 1
	in := pairingInput{g1s: make([]bls12381.G1Affine, n), g2s: make([]bls12381.G2Affine, n)}
	for i := range n {
		in.g1s[i] = randomG1(rng)
		in.g2s[i] = randomG2(rng)
	}
	return newSample(in, domain.InputOf(n)), nil
}
