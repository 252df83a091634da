package measure

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/host"
	"github.com/davidbz/hostmeter/internal/vm"
)

const (
	// sharedMemoryPages sizes the guest memory that reads and writes target.
	sharedMemoryPages = 2
	wasmPageSize      = 65536
)

// Env is the host every measurement runs against. Its budget is unlimited so
// that metering stays on the measured path without ever refusing work.
type Env struct {
	// ctx is used by operations whose Measurement signature has no context.
	ctx    context.Context
	budget *budget.Budget
	host   *host.Host
	engine *vm.Engine
	linker *vm.Linker
	shared *vm.Instance
	module *vm.Module
}

// NewEnv builds the measurement host on engine. engine may be nil, in which
// case the VM measurements are not registered by Default.
func NewEnv(ctx context.Context, engine *vm.Engine) (*Env, error) {
	b := budget.NewUnlimited()
	h := host.New(b, engine, [32]byte{})
	if err := h.RegisterFunction(vm.ImportDispatch, func(arg uint64) uint64 { return arg }); err != nil {
		return nil, err
	}

	env := &Env{ctx: ctx, budget: b, host: h, engine: engine}
	if engine == nil {
		return env, nil
	}

	linker, err := engine.NewLinker(ctx, h.LinkFunction(vm.ImportDispatch))
	if err != nil {
		return nil, err
	}
	env.linker = linker

	wasm := vm.BuildModule(vm.ModuleSpec{MemoryPages: sharedMemoryPages, ImportDispatch: true})
	mod, err := engine.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Join(err, env.Close())
	}
	env.module = mod

	inst, err := engine.Instantiate(ctx, mod)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("shared instance: %w", err), env.Close())
	}
	env.shared = inst
	return env, nil
}

// Host returns the metered host.
func (e *Env) Host() *host.Host { return e.host }

// Budget returns the unlimited budget the host charges.
func (e *Env) Budget() *budget.Budget { return e.budget }

// HasVM reports whether VM operations can be measured.
func (e *Env) HasVM() bool { return e.engine != nil }

// Close releases the shared guest. The engine belongs to the caller.
func (e *Env) Close() error {
	var errs []error
	if e.shared != nil {
		errs = append(errs, e.shared.Close(e.ctx))
	}
	if e.module != nil {
		errs = append(errs, e.module.Close(e.ctx))
	}
	if e.linker != nil {
		errs = append(errs, e.linker.Close(e.ctx))
	}
	return errors.Join(errs...)
}
