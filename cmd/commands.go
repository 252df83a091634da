package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/http"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/measure"
	"github.com/davidbz/hostmeter/internal/observability"
	"github.com/davidbz/hostmeter/internal/report"
	"github.com/davidbz/hostmeter/internal/vm"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd(container *dig.Container) *cobra.Command {
	var out string

	root := &cobra.Command{
		Use:           "hostmeter",
		Short:         "Calibrate and serve host operation cost models",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&out, "out", "o", "", "write reports to this file instead of stdout")

	output := func() (io.WriteCloser, error) {
		if out == "" {
			return nopCloser{os.Stdout}, nil
		}
		return os.Create(out)
	}

	root.AddCommand(
		newCalibrateCmd(container, output),
		newComponentsCmd(container, output),
		newReportCmd(container, output),
		newListCmd(container),
		newRunsCmd(container),
		newServeCmd(container),
	)
	return root
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newCalibrateCmd(container *dig.Container, output func() (io.WriteCloser, error)) *cobra.Command {
	var (
		fitModels bool
		verbose   bool
		levels    int
		seed      string
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate [cost-type...]",
		Short: "Measure cost types and fit their models",
		Long: "Measure the named cost types, or every cost type of the configured protocol\n" +
			"when none are named, and print the fixed-column calibration report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := container.Invoke(func(cfg *config.CalibrationConfig) {
				flags := cmd.Flags()
				if flags.Changed("fit") {
					cfg.Fit = fitModels
				}
				if flags.Changed("verbose") {
					cfg.Verbose = verbose
				}
				if flags.Changed("levels") {
					cfg.ScaleLevels = levels
				}
				if flags.Changed("seed") {
					cfg.Seed = seed
				}
				if len(args) > 0 {
					cfg.CostTypes = args
				}
			})
			if err != nil {
				return err
			}

			return container.Invoke(func(
				cfg *config.CalibrationConfig,
				vmCfg *config.VMConfig,
				budgetCfg *config.BudgetConfig,
				harness *calibration.Harness,
				store domain.ParamsStore,
			) error {
				defer closeStore(store)

				w, err := output()
				if err != nil {
					return err
				}
				defer w.Close()

				return runCalibrate(cmd.Context(), calibrateDeps{
					cfg:     cfg,
					vm:      vmCfg,
					version: domain.ProtocolVersion(budgetCfg.ProtocolVersion),
					limits:  domain.Limits{CPU: budgetCfg.CPULimit, Mem: budgetCfg.MemLimit},
					harness: harness,
					store:   store,
					save:    save,
				}, w)
			})
		},
	}

	cmd.Flags().BoolVar(&fitModels, "fit", true, "fit cost models (false reports raw measurements only)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print per-scale observations")
	cmd.Flags().IntVar(&levels, "levels", calibration.DefaultScaleLevels, "number of scale levels")
	cmd.Flags().StringVar(&seed, "seed", "", "hex encoded 32 byte sample seed")
	cmd.Flags().BoolVar(&save, "save", true, "store the fitted params")
	return cmd
}

type calibrateDeps struct {
	cfg     *config.CalibrationConfig
	vm      *config.VMConfig
	version domain.ProtocolVersion
	limits  domain.Limits
	harness *calibration.Harness
	store   domain.ParamsStore
	save    bool
}

func runCalibrate(ctx context.Context, deps calibrateDeps, w io.Writer) error {
	runID := uuid.New()
	ctx = observability.WithRunID(ctx, runID.String())
	logger := observability.FromContext(ctx)

	engine, err := vm.NewEngine(ctx, deps.vm)
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	env, err := measure.NewEnv(ctx, engine)
	if err != nil {
		return err
	}
	defer env.Close()

	registry, err := measure.Default(env)
	if err != nil {
		return err
	}
	ms, err := registry.Select(deps.version, deps.cfg.CostTypes)
	if err != nil {
		return err
	}

	logger.Info("calibration started",
		observability.Int("cost_types", len(ms)),
		observability.Int("scale_levels", deps.cfg.ScaleLevels),
		observability.Bool("fit", deps.cfg.Fit),
		observability.String("compilation_mode", string(engine.Mode())),
	)

	outcomes, calErr := deps.harness.Calibrate(ctx, ms, deps.cfg.Fit)
	if err := report.WriteCalibration(w, outcomes, report.Options{
		Verbose: deps.cfg.Verbose,
		Limits:  deps.limits,
	}); err != nil {
		return errors.Join(calErr, err)
	}
	if calErr != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "calibration failed for some cost types; nothing was saved")
		return calErr
	}

	if !deps.cfg.Fit || !deps.save {
		return nil
	}

	base := domain.DefaultParams()
	if latest, err := deps.store.Latest(ctx); err == nil {
		base = latest.Params()
	} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}

	snap := domain.NewParamsSnapshot(calibration.Params(base, outcomes), deps.version, deps.cfg.Seed, time.Now())
	snap.RunID = runID
	if err := deps.store.Save(ctx, snap); err != nil {
		return err
	}

	logger.Info("params saved", observability.Int("models", len(snap.Models)))
	color.New(color.FgGreen).Fprintf(os.Stderr, "saved run %s\n", runID)
	return nil
}

func newComponentsCmd(container *dig.Container, output func() (io.WriteCloser, error)) *cobra.Command {
	var levels int

	cmd := &cobra.Command{
		Use:   "components",
		Short: "Measure each VM construction stage separately",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return container.Invoke(func(
				cfg *config.CalibrationConfig,
				vmCfg *config.VMConfig,
				inst *instrument.Context,
			) error {
				ctx := cmd.Context()

				seed, err := cfg.SeedBytes()
				if err != nil {
					return err
				}

				env, err := measure.NewEnv(ctx, nil)
				if err != nil {
					return err
				}
				defer env.Close()

				readings, err := measure.MeasureComponents(ctx, inst, vmCfg, env.Host(), seed, levels)
				if err != nil {
					return err
				}

				w, err := output()
				if err != nil {
					return err
				}
				defer w.Close()

				report.WriteComponents(w, readings, inst.Unit())
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&levels, "levels", 8, "number of module sizes")
	return cmd
}

func newReportCmd(container *dig.Container, output func() (io.WriteCloser, error)) *cobra.Command {
	var asBudget bool

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print a stored params snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return container.Invoke(func(store domain.ParamsStore, budgetCfg *config.BudgetConfig) error {
				defer closeStore(store)
				ctx := cmd.Context()

				var (
					snap *domain.ParamsSnapshot
					err  error
				)
				if len(args) == 1 {
					snap, err = store.Get(ctx, args[0])
				} else {
					snap, err = store.Latest(ctx)
				}
				if err != nil {
					return err
				}

				w, err := output()
				if err != nil {
					return err
				}
				defer w.Close()

				if !asBudget {
					return report.WriteSnapshot(w, snap)
				}

				b, err := budget.New(snap.Params(), domain.Limits{
					CPU: budgetCfg.CPULimit,
					Mem: budgetCfg.MemLimit,
				}, snap.Protocol)
				if err != nil {
					return err
				}
				return report.WriteBudget(w, b)
			})
		},
	}

	cmd.Flags().BoolVar(&asBudget, "budget", false, "render as the fixed-column budget table")
	return cmd
}

func newListCmd(container *dig.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cost types of the configured protocol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return container.Invoke(func(budgetCfg *config.BudgetConfig) {
				version := domain.ProtocolVersion(budgetCfg.ProtocolVersion)
				for _, ct := range domain.CostTypesFor(version) {
					d := ct.Descriptor()
					fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-9s %3d  %s\n", d.Name, d.Shape, d.Since, d.Description)
				}
			})
		},
	}
}

func newRunsCmd(container *dig.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored calibration runs, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return container.Invoke(func(store domain.ParamsStore) error {
				defer closeStore(store)

				ids, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newServeCmd(container *dig.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored params over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return container.Invoke(func(server *http.Server, store domain.ParamsStore) error {
				defer closeStore(store)

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				g, gCtx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return server.Start(gCtx)
				})
				g.Go(func() error {
					<-gCtx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
}
