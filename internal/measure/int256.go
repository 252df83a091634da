package measure

import (
	"math/rand/v2"

	"github.com/holiman/uint256"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/host"
)

type int256Input struct {
	a, b *uint256.Int
}

// randomInt256 draws a value of at most bits significant bits.
func randomInt256(rng *rand.Rand, bits uint) *uint256.Int {
	v := new(uint256.Int).SetBytes(randomBytes(rng, 32))
	if bits < 256 {
		v.Rsh(v, 256-bits)
	}
	return v
}

// int256Op measures op over operands small enough to never fail: sums of
// 255-bit values, products of 128-bit values, nonzero divisors and shifts
// below 256.
func int256Op(env *Env, ct domain.CostType, op host.Int256Op) *Op[int256Input] {
	gen := func(c calibration.Case, rng *rand.Rand, _ uint64) (*sample[int256Input], error) {
		var in int256Input
		switch op {
		case host.OpAdd, host.OpSub:
			in.a, in.b = randomInt256(rng, 255), randomInt256(rng, 255)
			if op == host.OpSub && in.a.Lt(in.b) {
				in.a, in.b = in.b, in.a
			}
		case host.OpMul:
			in.a, in.b = randomInt256(rng, 128), randomInt256(rng, 128)
		case host.OpDiv, host.OpRem:
			in.a, in.b = randomInt256(rng, 256), randomInt256(rng, 128)
			if in.b.IsZero() {
				in.b.SetOne()
			}
		case host.OpPow:
			in.a = randomInt256(rng, 256)
			if c == calibration.Worst {
				in.b = new(uint256.Int).SetAllOne()
			} else {
				in.b = randomInt256(rng, 256)
			}
		default:
			in.a, in.b = randomInt256(rng, 256), uint256.NewInt(rng.Uint64N(256))
		}
		return newSample(in, domain.NoInput()), nil
	}
	return newOp(ct, cheapIterations, gen,
		func(in int256Input) error {
			return ignore(func() (*uint256.Int, error) { return env.host.Int256(op, in.a, in.b) })
		})
}

func int256Measurements(env *Env) []calibration.Measurement {
	return []calibration.Measurement{
		int256Op(env, domain.Int256AddSub, host.OpAdd),
		int256Op(env, domain.Int256Mul, host.OpMul),
		int256Op(env, domain.Int256Div, host.OpDiv),
		int256Op(env, domain.Int256Pow, host.OpPow).withCases(calibration.Random, calibration.Worst),
		int256Op(env, domain.Int256Shift, host.OpShl),
	}
}
