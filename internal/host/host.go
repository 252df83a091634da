// Package host implements the metered operations exposed to guest code.
// Every operation charges its CostType before doing the work, so an
// operation that would exceed the budget never runs.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/vm"
)

var (
	// ErrInvalidObject is returned for a handle outside the object table.
	ErrInvalidObject = errors.New("invalid object handle")

	// ErrUnknownFunction is returned when dispatching to an unregistered host function.
	ErrUnknownFunction = errors.New("unknown host function")
)

// Handle refers to an entry of the host object table.
type Handle uint32

// Func is a host function callable through Dispatch.
type Func func(arg uint64) uint64

// Host is the metered execution environment of one invocation. Like the
// budget it charges, it is owned by a single invocation.
type Host struct {
	charger   domain.Charger
	engine    *vm.Engine
	objects   []any
	functions map[string]Func
	prng      *PRNG
}

// New creates a host that bills charger. engine may be nil when no VM
// operation is used.
func New(charger domain.Charger, engine *vm.Engine, prngSeed [32]byte) *Host {
	return &Host{
		charger:   charger,
		engine:    engine,
		objects:   make([]any, 0),
		functions: make(map[string]Func),
		prng:      newPRNG(prngSeed),
	}
}

// Charger returns the ledger the host bills.
func (h *Host) Charger() domain.Charger {
	return h.charger
}

// ChargeWasmInsns bills n executed guest instructions.
func (h *Host) ChargeWasmInsns(n uint64) error {
	return h.charger.BulkCharge(domain.WasmInsnExec, n, domain.NoInput())
}

// AddObject stores v in the object table.
func (h *Host) AddObject(v any) Handle {
	h.objects = append(h.objects, v)
	return Handle(len(h.objects) - 1)
}

// VisitObject resolves a handle.
func (h *Host) VisitObject(handle Handle) (any, error) {
	if err := h.charger.Charge(domain.VisitObject, domain.NoInput()); err != nil {
		return nil, err
	}
	if int(handle) >= len(h.objects) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObject, handle)
	}
	return h.objects[handle], nil
}

// RegisterFunction adds fn to the dispatch table.
func (h *Host) RegisterFunction(name string, fn Func) error {
	if name == "" {
		return errors.New("function name cannot be empty")
	}
	if fn == nil {
		return errors.New("function cannot be nil")
	}
	if _, exists := h.functions[name]; exists {
		return fmt.Errorf("host function %s already registered", name)
	}
	h.functions[name] = fn
	return nil
}

// Dispatch calls a registered host function on behalf of a guest.
func (h *Host) Dispatch(name string, arg uint64) (uint64, error) {
	if err := h.charger.Charge(domain.DispatchHostFunction, domain.NoInput()); err != nil {
		return 0, err
	}
	fn, ok := h.functions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(arg), nil
}

// LinkFunction exposes a dispatched host function to guests. A charge
// failure traps the guest.
func (h *Host) LinkFunction(name string) vm.HostFunc {
	return vm.HostFunc{
		Name: name,
		Fn: func(_ context.Context, arg uint64) uint64 {
			out, err := h.Dispatch(name, arg)
			if err != nil {
				panic(err)
			}
			return out
		},
	}
}
