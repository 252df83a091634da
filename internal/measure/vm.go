package measure

import (
	"errors"
	"math/rand/v2"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/vm"
)

const (
	insnStep       = 1000
	insnIterations = 10
	moduleFuncStep = 8
	moduleInsnStep = 64
	nonceSize      = 16
	vmIterations   = 100
)

// guestModule generates a module that grows with scale. The nonce keeps
// every sample distinct so the engine's compile cache never serves it.
func guestModule(rng *rand.Rand, scale uint64) []byte {
	return vm.BuildModule(vm.ModuleSpec{
		Functions:    int(scale * moduleFuncStep),
		Instructions: int(scale * moduleInsnStep),
		MemoryPages:  1,
		Nonce:        randomBytes(rng, nonceSize),
	})
}

// guest holds whatever a VM sample creates, so it can be closed after the
// windows.
type guest struct {
	wasm     []byte
	module   *vm.Module
	instance *vm.Instance
}

func (e *Env) release(g *guest) func() error {
	return func() error {
		var errs []error
		if g.instance != nil {
			errs = append(errs, g.instance.Close(e.ctx))
		}
		if g.module != nil {
			errs = append(errs, g.module.Close(e.ctx))
		}
		return errors.Join(errs...)
	}
}

func parseWasmModule(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[*guest], error) {
		g := &guest{wasm: guestModule(rng, scale)}
		s := newSample(g, domain.InputOf(uint64(len(g.wasm))))
		s.release = env.release(g)
		return s, nil
	}
	return newOp(domain.ParseWasmModule, 1, gen,
		func(g *guest) error {
			mod, err := env.host.ParseWasmModule(env.ctx, g.wasm)
			g.module = mod
			return err
		})
}

func vmInstantiation(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[*guest], error) {
		g := &guest{wasm: guestModule(rng, scale)}
		s := newSample(g, domain.InputOf(uint64(len(g.wasm))))
		s.release = env.release(g)
		return s, nil
	}
	return newOp(domain.VmInstantiation, 1, gen,
		func(g *guest) error {
			inst, mod, err := env.host.VmInstantiation(env.ctx, g.wasm)
			g.instance, g.module = inst, mod
			return err
		})
}

func vmCachedInstantiation(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[*guest], error) {
		g := &guest{wasm: guestModule(rng, scale)}
		mod, err := env.engine.CompileModule(env.ctx, g.wasm)
		if err != nil {
			return nil, err
		}
		g.module = mod
		s := newSample(g, domain.InputOf(uint64(mod.Size())))
		s.release = env.release(g)
		return s, nil
	}
	return newOp(domain.VmCachedInstantiation, 1, gen,
		func(g *guest) error {
			inst, err := env.host.VmCachedInstantiation(env.ctx, g.module)
			g.instance = inst
			return err
		})
}

type insnInput struct {
	full, empty *guest
	n           uint64
}

// wasmInsnExec runs a block of additions against a baseline that calls an
// empty function, leaving only the cost of the block. Each sample counts as
// one unit per instruction.
func wasmInsnExec(env *Env) calibration.Measurement {
	instantiate := func(rng *rand.Rand, n uint64) (*guest, error) {
		g := &guest{wasm: vm.BuildModule(vm.ModuleSpec{Instructions: int(n), Nonce: randomBytes(rng, nonceSize)})}
		mod, err := env.engine.CompileModule(env.ctx, g.wasm)
		if err != nil {
			return nil, err
		}
		g.module = mod
		inst, err := env.engine.Instantiate(env.ctx, mod)
		if err != nil {
			return nil, errors.Join(err, env.release(g)())
		}
		g.instance = inst
		return g, nil
	}

	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[insnInput], error) {
		n := (scale + 1) * insnStep
		full, err := instantiate(rng, n)
		if err != nil {
			return nil, err
		}
		empty, err := instantiate(rng, 0)
		if err != nil {
			return nil, errors.Join(err, env.release(full)())
		}
		s := newSample(insnInput{full: full, empty: empty, n: n}, domain.NoInput())
		s.units = n
		s.release = func() error {
			return errors.Join(env.release(full)(), env.release(empty)())
		}
		return s, nil
	}

	run := func(in insnInput) error {
		if err := env.host.ChargeWasmInsns(in.n); err != nil {
			return err
		}
		_, err := in.full.instance.Call(env.ctx, vm.ExportRun)
		return err
	}
	baseline := func(in insnInput) error {
		_, err := in.empty.instance.Call(env.ctx, vm.ExportRun)
		return err
	}
	return newOp(domain.WasmInsnExec, insnIterations, gen, run).withBaseline(baseline)
}

func invokeVmFunction(env *Env) calibration.Measurement {
	return newOp(domain.InvokeVmFunction, vmIterations,
		fixedSize(func(*rand.Rand) (struct{}, error) { return struct{}{}, nil }),
		func(struct{}) error {
			return ignore(func() ([]uint64, error) {
				return env.host.InvokeVmFunction(env.ctx, env.shared, vm.ExportRun)
			})
		})
}

// memoryOfScale sizes guest memory accesses, capped at the shared memory.
func memoryOfScale(scale uint64) uint32 {
	return uint32(min(scale*memStep*2, sharedMemoryPages*wasmPageSize))
}

func vmMemRead(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, _ *rand.Rand, scale uint64) (*sample[uint32], error) {
		n := memoryOfScale(scale)
		return newSample(n, domain.InputOf(uint64(n))), nil
	}
	return newOp(domain.VmMemRead, vmIterations, gen,
		func(n uint32) error {
			return ignore(func() ([]byte, error) { return env.host.VmMemRead(env.shared, 0, n) })
		})
}

func vmMemWrite(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[[]byte], error) {
		data := randomBytes(rng, uint64(memoryOfScale(scale)))
		return newSample(data, domain.InputOf(uint64(len(data)))), nil
	}
	return newOp(domain.VmMemWrite, vmIterations, gen,
		func(data []byte) error {
			return env.host.VmMemWrite(env.shared, 0, data)
		})
}
