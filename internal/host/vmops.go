package host

import (
	"context"
	"errors"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/vm"
)

// ErrNoEngine is returned by VM operations on a host built without an engine.
var ErrNoEngine = errors.New("host has no vm engine")

// ParseWasmModule parses, validates and compiles a guest module.
func (h *Host) ParseWasmModule(ctx context.Context, wasm []byte) (*vm.Module, error) {
	if h.engine == nil {
		return nil, ErrNoEngine
	}
	if err := h.charger.Charge(domain.ParseWasmModule, domain.InputOf(uint64(len(wasm)))); err != nil {
		return nil, err
	}
	return h.engine.CompileModule(ctx, wasm)
}

// VmInstantiation compiles and instantiates a guest module from its binary.
func (h *Host) VmInstantiation(ctx context.Context, wasm []byte) (*vm.Instance, *vm.Module, error) {
	if h.engine == nil {
		return nil, nil, ErrNoEngine
	}
	if err := h.charger.Charge(domain.VmInstantiation, domain.InputOf(uint64(len(wasm)))); err != nil {
		return nil, nil, err
	}
	mod, err := h.engine.CompileModule(ctx, wasm)
	if err != nil {
		return nil, nil, err
	}
	inst, err := h.engine.Instantiate(ctx, mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, nil, err
	}
	return inst, mod, nil
}

// VmCachedInstantiation instantiates an already compiled module.
func (h *Host) VmCachedInstantiation(ctx context.Context, mod *vm.Module) (*vm.Instance, error) {
	if h.engine == nil {
		return nil, ErrNoEngine
	}
	if err := h.charger.Charge(domain.VmCachedInstantiation, domain.InputOf(uint64(mod.Size()))); err != nil {
		return nil, err
	}
	return h.engine.Instantiate(ctx, mod)
}

// InvokeVmFunction calls an exported guest function.
func (h *Host) InvokeVmFunction(ctx context.Context, inst *vm.Instance, name string, args ...uint64) ([]uint64, error) {
	if err := h.charger.Charge(domain.InvokeVmFunction, domain.NoInput()); err != nil {
		return nil, err
	}
	return inst.Call(ctx, name, args...)
}

// VmMemRead copies n bytes out of guest memory.
func (h *Host) VmMemRead(inst *vm.Instance, offset, n uint32) ([]byte, error) {
	if err := h.charger.Charge(domain.VmMemRead, domain.InputOf(uint64(n))); err != nil {
		return nil, err
	}
	return inst.ReadMemory(offset, n)
}

// VmMemWrite copies data into guest memory.
func (h *Host) VmMemWrite(inst *vm.Instance, offset uint32, data []byte) error {
	if err := h.charger.Charge(domain.VmMemWrite, domain.InputOf(uint64(len(data)))); err != nil {
		return err
	}
	return inst.WriteMemory(offset, data)
}
