// Package vm adapts the wazero runtime into the engine, module, linker and
// instance stages that the metered host charges for.
package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/davidbz/hostmeter/internal/config"
)

// Mode selects when guest code is translated.
type Mode string

const (
	// ModeEager compiles every function to native code when the module is parsed.
	ModeEager Mode = "eager"
	// ModeLazy interprets functions, translating each one on first use.
	ModeLazy Mode = "lazy"
)

// HostModuleName is the import namespace of host functions.
const HostModuleName = "env"

var (
	// ErrMissingExport is returned when a guest lacks a required export.
	ErrMissingExport = errors.New("missing export")

	// ErrOutOfBounds is returned for guest memory accesses past the end of memory.
	ErrOutOfBounds = errors.New("guest memory access out of bounds")
)

// ParseMode validates a compilation mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeEager:
		return ModeEager, nil
	case ModeLazy, "lazytranslation":
		return ModeLazy, nil
	default:
		return "", fmt.Errorf("unknown compilation mode: %q (want eager or lazy)", s)
	}
}

// Engine owns a wazero runtime.
type Engine struct {
	runtime wazero.Runtime
	mode    Mode
}

// NewEngine creates an engine for cfg.
func NewEngine(ctx context.Context, cfg *config.VMConfig) (*Engine, error) {
	mode, err := ParseMode(cfg.CompilationMode)
	if err != nil {
		return nil, err
	}

	var rc wazero.RuntimeConfig
	if mode == ModeLazy {
		rc = wazero.NewRuntimeConfigInterpreter()
	} else {
		rc = wazero.NewRuntimeConfig()
	}
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		mode:    mode,
	}, nil
}

// Mode returns the engine's compilation mode.
func (e *Engine) Mode() Mode { return e.mode }

// Close releases the runtime and everything compiled in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Module is a parsed, validated and compiled guest module.
type Module struct {
	compiled wazero.CompiledModule
	size     int
}

// CompileModule parses and validates wasm. In eager mode it also compiles
// every function.
func (e *Engine) CompileModule(ctx context.Context, wasm []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}
	return &Module{compiled: compiled, size: len(wasm)}, nil
}

// Size returns the byte length of the module's binary.
func (m *Module) Size() int { return m.size }

// Close evicts the module from the engine.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// HostFunc is an i64 -> i64 function exported to guests.
type HostFunc struct {
	Name string
	Fn   func(ctx context.Context, arg uint64) uint64
}

// Linker holds the instantiated host module that guests import from.
type Linker struct {
	module api.Module
}

// NewLinker instantiates funcs under HostModuleName. An engine has at most one
// live linker.
func (e *Engine) NewLinker(ctx context.Context, funcs ...HostFunc) (*Linker, error) {
	builder := e.runtime.NewHostModuleBuilder(HostModuleName)
	for _, f := range funcs {
		fn := f.Fn
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				stack[0] = fn(ctx, stack[0])
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			WithParameterNames("arg").
			Export(f.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return &Linker{module: mod}, nil
}

// Close removes the host module.
func (l *Linker) Close(ctx context.Context) error {
	return l.module.Close(ctx)
}

// Instance is a running guest.
type Instance struct {
	module api.Module
}

// Instantiate creates an anonymous instance of m. Imports resolve against
// the engine's live linker.
func (e *Engine) Instantiate(ctx context.Context, m *Module) (*Instance, error) {
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}
	return &Instance{module: mod}, nil
}

// Call invokes an exported function.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: function %s", ErrMissingExport, name)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return results, nil
}

// MemorySize returns the size of the guest's linear memory in bytes.
func (i *Instance) MemorySize() uint32 {
	mem := i.module.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// ReadMemory copies n bytes out of guest memory.
func (i *Instance) ReadMemory(offset, n uint32) ([]byte, error) {
	mem := i.module.Memory()
	if mem == nil {
		return nil, fmt.Errorf("%w: memory", ErrMissingExport)
	}
	view, ok := mem.Read(offset, n)
	if !ok {
		return nil, fmt.Errorf("%w: read %d bytes at %d", ErrOutOfBounds, n, offset)
	}
	out := make([]byte, n)
	copy(out, view)
	return out, nil
}

// WriteMemory copies data into guest memory.
func (i *Instance) WriteMemory(offset uint32, data []byte) error {
	mem := i.module.Memory()
	if mem == nil {
		return fmt.Errorf("%w: memory", ErrMissingExport)
	}
	if !mem.Write(offset, data) {
		return fmt.Errorf("%w: write %d bytes at %d", ErrOutOfBounds, len(data), offset)
	}
	return nil
}

// Close tears the instance down.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
