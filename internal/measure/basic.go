package measure

import (
	"math/rand/v2"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/host"
	"github.com/davidbz/hostmeter/internal/vm"
)

const (
	cheapIterations = 100
	memStep         = 1024
	hashStep        = 256
	valueStep       = 8
	drawStep        = 256
)

// bytesOfScale generates random buffers of step*scale bytes.
func bytesOfScale(step uint64) func(calibration.Case, *rand.Rand, uint64) (*sample[[]byte], error) {
	return func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[[]byte], error) {
		n := step * scale
		return newSample(randomBytes(rng, n), domain.InputOf(n)), nil
	}
}

func sizeOfScale(step uint64) func(calibration.Case, *rand.Rand, uint64) (*sample[uint64], error) {
	return func(_ calibration.Case, _ *rand.Rand, scale uint64) (*sample[uint64], error) {
		n := step * scale
		return newSample(n, domain.InputOf(n)), nil
	}
}

func memAlloc(env *Env) calibration.Measurement {
	return newOp(domain.MemAlloc, cheapIterations, sizeOfScale(memStep),
		func(n uint64) error {
			return ignore(func() ([]byte, error) { return env.host.MemAlloc(n) })
		})
}

func memCpy(env *Env) calibration.Measurement {
	return newOp(domain.MemCpy, cheapIterations, bytesOfScale(memStep),
		func(src []byte) error {
			return ignore(func() ([]byte, error) { return env.host.MemCpy(src) })
		})
}

type cmpInput struct {
	a, b []byte
}

// memCmp compares equal buffers in the worst case and buffers that differ
// in their first byte in the best case.
func memCmp(env *Env) calibration.Measurement {
	gen := func(c calibration.Case, rng *rand.Rand, scale uint64) (*sample[cmpInput], error) {
		n := memStep * scale
		a := randomBytes(rng, n)
		b := append([]byte(nil), a...)
		if c == calibration.Best && n > 0 {
			b[0] = ^a[0]
		}
		return newSample(cmpInput{a: a, b: b}, domain.InputOf(n)), nil
	}
	return newOp(domain.MemCmp, cheapIterations, gen,
		func(in cmpInput) error {
			return ignore(func() (int, error) { return env.host.MemCmp(in.a, in.b) })
		}).withCases(calibration.Best, calibration.Worst)
}

func dispatchHostFunction(env *Env) calibration.Measurement {
	return newOp(domain.DispatchHostFunction, cheapIterations,
		fixedSize(func(rng *rand.Rand) (uint64, error) { return rng.Uint64(), nil }),
		func(arg uint64) error {
			return ignore(func() (uint64, error) { return env.host.Dispatch(vm.ImportDispatch, arg) })
		})
}

func visitObject(env *Env) calibration.Measurement {
	return newOp(domain.VisitObject, cheapIterations,
		fixedSize(func(rng *rand.Rand) (host.Handle, error) { return env.host.AddObject(rng.Uint64()), nil }),
		func(handle host.Handle) error {
			return ignore(func() (any, error) { return env.host.VisitObject(handle) })
		})
}

// randomValue builds a list of scale entries, each a small map.
func randomValue(rng *rand.Rand, scale uint64) []any {
	items := make([]any, 0, scale*valueStep)
	for range scale * valueStep {
		items = append(items, map[string]any{
			"n": rng.Int64(),
			"b": randomBytes(rng, 16),
		})
	}
	return items
}

func valSer(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[[]any], error) {
		v := randomValue(rng, scale)
		encoded, err := msgpack.Marshal(v)
		if err != nil {
			return nil, err
		}
		return newSample(v, domain.InputOf(uint64(len(encoded)))), nil
	}
	return newOp(domain.ValSer, cheapIterations, gen,
		func(v []any) error {
			return ignore(func() ([]byte, error) { return env.host.ValSer(v) })
		})
}

func valDeser(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[[]byte], error) {
		encoded, err := msgpack.Marshal(randomValue(rng, scale))
		if err != nil {
			return nil, err
		}
		return newSample(encoded, domain.InputOf(uint64(len(encoded)))), nil
	}
	return newOp(domain.ValDeser, cheapIterations, gen,
		func(data []byte) error {
			return ignore(func() (any, error) { return env.host.ValDeser(data) })
		})
}

func hashOp(ct domain.CostType, hash func([]byte) ([32]byte, error)) calibration.Measurement {
	return newOp(ct, cheapIterations, bytesOfScale(hashStep),
		func(data []byte) error {
			return ignore(func() ([32]byte, error) { return hash(data) })
		})
}

func chaCha20DrawBytes(env *Env) calibration.Measurement {
	return newOp(domain.ChaCha20DrawBytes, cheapIterations, sizeOfScale(drawStep),
		func(n uint64) error {
			return ignore(func() ([]byte, error) { return env.host.ChaCha20DrawBytes(n) })
		})
}
