package measure_test

import (
	"context"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/measure"
	"github.com/davidbz/hostmeter/internal/vm"
)

func newEnv(t *testing.T) *measure.Env {
	t.Helper()

	ctx := context.Background()
	engine, err := vm.NewEngine(ctx, &config.VMConfig{CompilationMode: "lazy", MemoryLimitPages: 64})
	require.NoError(t, err)

	env, err := measure.NewEnv(ctx, engine)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, env.Close())
		require.NoError(t, engine.Close(ctx))
	})
	return env
}

func newRegistry(t *testing.T) *measure.Registry {
	t.Helper()

	r, err := measure.Default(newEnv(t))
	require.NoError(t, err)
	return r
}

func TestDefault_CoversTaxonomy(t *testing.T) {
	r := newRegistry(t)

	list := r.List()
	require.Len(t, list, len(domain.AllCostTypes()))
	for i, m := range list {
		require.Equal(t, domain.AllCostTypes()[i], m.CostType())
		require.NotZero(t, m.Iterations(), m.CostType().String())
		require.NotEmpty(t, m.Cases(), m.CostType().String())
	}
}

func TestDefault_WithoutEngine(t *testing.T) {
	env, err := measure.NewEnv(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, env.HasVM())

	r, err := measure.Default(env)
	require.NoError(t, err)

	_, err = r.Get(domain.VmInstantiation)
	require.Error(t, err)
	_, err = r.Get(domain.ComputeSha256Hash)
	require.NoError(t, err)
}

func TestDefault_SamplesAreDeterministic(t *testing.T) {
	r := newRegistry(t)

	for _, ct := range []domain.CostType{domain.ValSer, domain.VmInstantiation, domain.ComputeSha256Hash} {
		t.Run(ct.String(), func(t *testing.T) {
			m, err := r.Get(ct)
			require.NoError(t, err)

			draw := func() domain.Input {
				s, err := m.NewSample(calibration.Random, rand.New(rand.NewChaCha8([32]byte{1})), 4)
				require.NoError(t, err)
				if c, ok := s.(io.Closer); ok {
					require.NoError(t, c.Close())
				}
				return s.InputSize()
			}

			first := draw()
			require.True(t, first.Set)
			require.NotZero(t, first.Value)
			require.Equal(t, first, draw())
		})
	}
}

func TestDefault_SampleShapes(t *testing.T) {
	r := newRegistry(t)
	rng := rand.New(rand.NewChaCha8([32]byte{}))

	t.Run("constant types declare no input", func(t *testing.T) {
		m, err := r.Get(domain.RecoverEcdsaSecp256k1Key)
		require.NoError(t, err)
		s, err := m.NewSample(calibration.Random, rng, 3)
		require.NoError(t, err)
		require.False(t, s.InputSize().Set)
		require.NoError(t, m.Run(s))
	})

	t.Run("wasm instructions count as units", func(t *testing.T) {
		m, err := r.Get(domain.WasmInsnExec)
		require.NoError(t, err)
		s, err := m.NewSample(calibration.Random, rng, 2)
		require.NoError(t, err)

		batched, ok := s.(calibration.Batched)
		require.True(t, ok)
		require.Equal(t, uint64(3000), batched.Units())

		require.NoError(t, m.Baseline(s))
		require.NoError(t, m.Run(s))
		require.NoError(t, s.(io.Closer).Close())
	})

	t.Run("memcmp measures best and worst", func(t *testing.T) {
		m, err := r.Get(domain.MemCmp)
		require.NoError(t, err)
		require.Equal(t, []calibration.Case{calibration.Best, calibration.Worst}, m.Cases())
		require.Equal(t, calibration.Worst, calibration.FitCase(m.Cases()))
	})

	t.Run("msm sizes grow with scale", func(t *testing.T) {
		m, err := r.Get(domain.Bls12381G1Msm)
		require.NoError(t, err)
		s, err := m.NewSample(calibration.Random, rng, 3)
		require.NoError(t, err)
		require.Equal(t, domain.InputOf(4), s.InputSize())
		require.NoError(t, m.Run(s))
	})
}

func TestDefault_RunsUnderHarness(t *testing.T) {
	if testing.Short() {
		t.Skip("sweeps every cost type")
	}

	r := newRegistry(t)
	inst := instrument.NewContext(instrument.WallClock{}, instrument.NewHeapTracker())
	h := calibration.NewHarness(inst, calibration.Options{Seed: calibration.DefaultSeed(), ScaleLevels: 2}, nil)

	for _, m := range r.List() {
		t.Run(m.CostType().String(), func(t *testing.T) {
			res, err := h.Measure(context.Background(), m)
			require.NoError(t, err)
			require.Len(t, res.Series, len(m.Cases()))
			for _, series := range res.Series {
				require.Len(t, series.Trackers, 2)
				require.Equal(t, m.CostType().HasInput(), series.Trackers[1].InputSum.Set)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	env := newEnv(t)
	r, err := measure.Default(env)
	require.NoError(t, err)

	t.Run("duplicate registration fails", func(t *testing.T) {
		m, err := r.Get(domain.MemCpy)
		require.NoError(t, err)
		require.Error(t, r.Register(m))
	})

	t.Run("nil registration fails", func(t *testing.T) {
		require.Error(t, measure.NewRegistry().Register(nil))
	})

	t.Run("select filters by protocol version", func(t *testing.T) {
		ms, err := r.Select(20, nil)
		require.NoError(t, err)
		require.Len(t, ms, len(domain.CostTypesFor(20)))
		for _, m := range ms {
			require.Equal(t, domain.ProtocolVersion(20), m.CostType().Descriptor().Since)
		}
	})

	t.Run("select by name", func(t *testing.T) {
		ms, err := r.Select(22, []string{"memcpy", "Bls12381Pairing"})
		require.NoError(t, err)
		require.Len(t, ms, 2)
		require.Equal(t, domain.MemCpy, ms[0].CostType())
		require.Equal(t, domain.Bls12381Pairing, ms[1].CostType())
	})

	t.Run("select unknown name", func(t *testing.T) {
		_, err := r.Select(22, []string{"NoSuchOp"})
		require.ErrorIs(t, err, domain.ErrUnknownCostType)
	})
}

func TestMeasureComponents(t *testing.T) {
	env := newEnv(t)
	inst := instrument.NewContext(instrument.WallClock{}, instrument.NewHeapTracker())

	readings, err := measure.MeasureComponents(context.Background(), inst,
		&config.VMConfig{CompilationMode: "lazy", MemoryLimitPages: 64}, env.Host(), [32]byte{}, 2)
	require.NoError(t, err)
	require.Len(t, readings, 10)
	require.Equal(t, measure.StageEngine, readings[0].Stage)
	require.Equal(t, measure.StageInvoke, readings[4].Stage)
	require.Less(t, readings[0].Size, readings[5].Size)
}
