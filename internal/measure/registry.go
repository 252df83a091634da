package measure

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
)

// Registry maps cost types to their measurements.
type Registry struct {
	mu           sync.RWMutex
	measurements map[domain.CostType]calibration.Measurement
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:           sync.RWMutex{},
		measurements: make(map[domain.CostType]calibration.Measurement),
	}
}

// Default registers a measurement for every cost type env can exercise.
func Default(env *Env) (*Registry, error) {
	h := env.host
	ms := []calibration.Measurement{
		memAlloc(env),
		memCpy(env),
		memCmp(env),
		dispatchHostFunction(env),
		visitObject(env),
		valSer(env),
		valDeser(env),
		hashOp(domain.ComputeSha256Hash, h.Sha256),
		hashOp(domain.ComputeKeccak256Hash, h.Keccak256),
		hashOp(domain.ComputeBlake3Hash, h.Blake3),
		chaCha20DrawBytes(env),
		computeEd25519PubKey(env),
		verifyEd25519Sig(env),
		decodeEcdsaCurve256Sig(env),
		recoverEcdsaSecp256k1Key(env),
		sec1DecodePointUncompressed(env),
		verifyEcdsaSecp256r1Sig(env),
	}
	ms = append(ms, int256Measurements(env)...)
	ms = append(ms, blsMeasurements(env)...)
	if env.HasVM() {
		ms = append(ms,
			wasmInsnExec(env),
			parseWasmModule(env),
			vmInstantiation(env),
			vmCachedInstantiation(env),
			invokeVmFunction(env),
			vmMemRead(env),
			vmMemWrite(env),
		)
	}

	r := NewRegistry()
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a measurement to the registry.
func (r *Registry) Register(m calibration.Measurement) error {
	if m == nil {
		return errors.New("measurement cannot be nil")
	}

	ct := m.CostType()
	if !ct.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrUnknownCostType, ct)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.measurements[ct]; exists {
		return fmt.Errorf("measurement for %s already registered", ct)
	}

	r.measurements[ct] = m
	return nil
}

// Get retrieves the measurement of ct.
func (r *Registry) Get(ct domain.CostType) (calibration.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.measurements[ct]
	if !exists {
		return nil, fmt.Errorf("no measurement for %s", ct)
	}
	return m, nil
}

// List returns every registered measurement in cost type order.
func (r *Registry) List() []calibration.Measurement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]calibration.Measurement, 0, len(r.measurements))
	for _, m := range r.measurements {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b calibration.Measurement) int {
		return int(a.CostType()) - int(b.CostType())
	})
	return out
}

// Select returns the measurements named in names, or every measurement
// available under version when names is empty.
func (r *Registry) Select(version domain.ProtocolVersion, names []string) ([]calibration.Measurement, error) {
	if len(names) == 0 {
		out := make([]calibration.Measurement, 0)
		for _, m := range r.List() {
			if m.CostType().Descriptor().Since <= version {
				out = append(out, m)
			}
		}
		return out, nil
	}

	out := make([]calibration.Measurement, 0, len(names))
	for _, name := range names {
		ct, err := domain.ParseCostType(name)
		if err != nil {
			return nil, err
		}
		m, err := r.Get(ct)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
