package measure

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/host"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/vm"
)

// Stage is one step of bringing a guest up.
type Stage string

const (
	StageEngine   Stage = "engine"
	StageModule   Stage = "module"
	StageLinker   Stage = "linker"
	StageInstance Stage = "instance"
	StageInvoke   Stage = "invoke"
)

// ComponentReading is what one stage cost for a module of Size bytes.
type ComponentReading struct {
	Stage Stage              `json:"stage"`
	Size  int                `json:"size"`
	Cost  instrument.Reading `json:"cost"`
}

// componentRun carries everything a sweep step creates so it can be
// torn down in reverse.
type componentRun struct {
	engine *vm.Engine
	module *vm.Module
	linker *vm.Linker
	inst   *vm.Instance
}

func (r *componentRun) close(ctx context.Context) error {
	var errs []error
	if r.inst != nil {
		errs = append(errs, r.inst.Close(ctx))
	}
	if r.module != nil {
		errs = append(errs, r.module.Close(ctx))
	}
	if r.linker != nil {
		errs = append(errs, r.linker.Close(ctx))
	}
	if r.engine != nil {
		errs = append(errs, r.engine.Close(ctx))
	}
	return errors.Join(errs...)
}

// MeasureComponents measures each construction stage separately over a
// sweep of module sizes. Every step builds a fresh engine so no stage is
// served from an earlier one's cache.
func MeasureComponents(
	ctx context.Context,
	inst *instrument.Context,
	cfg *config.VMConfig,
	h *host.Host,
	seed [32]byte,
	levels int,
) ([]ComponentReading, error) {
	rng := rand.New(rand.NewChaCha8(seed))
	out := make([]ComponentReading, 0, levels*5)

	for scale := range uint64(levels) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		wasm := vm.BuildModule(vm.ModuleSpec{
			Functions:      int(scale * moduleFuncStep),
			Instructions:   int(scale * moduleInsnStep),
			MemoryPages:    1,
			ImportDispatch: true,
			Nonce:          randomBytes(rng, nonceSize),
		})

		readings, err := measureStages(ctx, inst, cfg, h, wasm)
		if err != nil {
			return out, fmt.Errorf("scale %d: %w", scale, err)
		}
		out = append(out, readings...)
	}
	return out, nil
}

func measureStages(
	ctx context.Context,
	inst *instrument.Context,
	cfg *config.VMConfig,
	h *host.Host,
	wasm []byte,
) (readings []ComponentReading, err error) {
	run := &componentRun{}
	defer func() {
		err = errors.Join(err, run.close(ctx))
	}()

	stages := []struct {
		stage Stage
		fn    func() error
	}{
		{StageEngine, func() (err error) {
			run.engine, err = vm.NewEngine(ctx, cfg)
			return err
		}},
		{StageModule, func() (err error) {
			run.module, err = run.engine.CompileModule(ctx, wasm)
			return err
		}},
		{StageLinker, func() (err error) {
			run.linker, err = run.engine.NewLinker(ctx, h.LinkFunction(vm.ImportDispatch))
			return err
		}},
		{StageInstance, func() (err error) {
			run.inst, err = run.engine.Instantiate(ctx, run.module)
			return err
		}},
		{StageInvoke, func() error {
			_, err := run.inst.Call(ctx, vm.ExportCallHost)
			return err
		}},
	}

	readings = make([]ComponentReading, 0, len(stages))
	for _, s := range stages {
		reading, err := inst.Measure(s.fn)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", s.stage, err)
		}
		readings = append(readings, ComponentReading{Stage: s.stage, Size: len(wasm), Cost: reading})
	}
	return readings, nil
}
