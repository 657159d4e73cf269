// Package cli builds Pakman's command line interface on top of Cobra:
// a root command holding the shared --config flag, and one subcommand
// per Controller algorithm (sweep, rejection, smc). Each subcommand
// loads internal/config.Config from the --config YAML file (the
// subcommand flags name the executables and algorithm settings; they do
// not override Config fields), builds a Master and Controller, and drives the cooperative event loop from spec.md §3
// directly: for !done { master.Iterate(); controller.Iterate(master);
// sleep(mainLoopSleep) }.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/pakman/internal/config"
	"github.com/ChuLiYu/pakman/internal/controller"
	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/internal/metrics"
	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/protocol"
	"github.com/ChuLiYu/pakman/pkg/types"
)

var configFile string

// BuildCLI assembles the root Pakman command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "pakman",
		Short:   "Pakman: a parallel approximate Bayesian computation dispatch core",
		Version: "1.0.0",
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	root.AddCommand(buildSweepCommand())
	root.AddCommand(buildRejectionCommand())
	root.AddCommand(buildSMCCommand())

	return root
}

func loadConfigOrDefault() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildMaster constructs either a Serial or Parallel master per
// --master, driving worker handles that exec simulatorCmd.
func buildMaster(kind string, cfg config.Config, simulatorCmd command.Command) (master.Master, error) {
	switch kind {
	case "serial":
		h := workerhandler.NewForkedHandle(simulatorCmd, cfg.Worker.KillTimeout, cfg.Worker.DiscardChildStderr)
		return master.NewSerial(h), nil
	case "parallel", "":
		handles := make([]workerhandler.Handle, cfg.Worker.Count)
		for i := range handles {
			handles[i] = workerhandler.NewForkedHandle(simulatorCmd, cfg.Worker.KillTimeout, cfg.Worker.DiscardChildStderr)
		}
		return master.NewParallel(handles), nil
	default:
		return nil, fmt.Errorf("cli: unknown master kind %q (want serial or parallel)", kind)
	}
}

func startMetricsIfEnabled(cfg config.Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	collector := metrics.NewCollector()
	go func() {
		if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return collector
}

// runLoop drives ctrl to completion against m, polling for SIGINT/SIGTERM
// to request an early, graceful termination. An error from ctrl.Iterate
// is always fatal: per spec.md §7, protocol and system errors "abort
// the current run" unconditionally. The global ignore-errors flag only
// governs how a Controller treats a simulator's own non-zero exit
// code, which is handled inside each Controller, not here.
func runLoop(m master.Master, ctrl controller.Controller, cfg config.Config) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	terminating := false
	for !ctrl.Done() {
		select {
		case <-sig:
			if !terminating {
				slog.Info("received shutdown signal, terminating workers")
				m.RequestTerminate()
				terminating = true
			}
		default:
		}

		m.Iterate()
		if err := ctrl.Iterate(m); err != nil {
			return err
		}

		if terminating && m.Terminated() {
			return fmt.Errorf("cli: terminated before completion")
		}

		time.Sleep(cfg.Loop.MainLoopSleep)
	}
	return nil
}

// metricsAttacher is implemented by Master and Controller values that
// can report real dispatch state into a metrics.Collector.
type metricsAttacher interface {
	AttachMetrics(*metrics.Collector)
}

func attachMetrics(collector *metrics.Collector, targets ...interface{}) {
	if collector == nil {
		return
	}
	for _, t := range targets {
		if a, ok := t.(metricsAttacher); ok {
			a.AttachMetrics(collector)
		}
	}
}

func writeJSONOutput(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: encoding output: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cli: writing %s: %w", path, err)
	}
	return nil
}

func mustCommand(raw string, flagName string) (command.Command, error) {
	if raw == "" {
		return command.Command{}, fmt.Errorf("cli: --%s is required", flagName)
	}
	return command.New(raw)
}

func parseEpsilonsCSV(csv string) ([]types.Epsilon, error) {
	if csv == "" {
		return nil, fmt.Errorf("cli: --epsilons is required unless --adaptive is set")
	}
	var epsilons []types.Epsilon
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			token := csv[start:i]
			if token == "" {
				return nil, fmt.Errorf("cli: --epsilons contains an empty entry")
			}
			epsilons = append(epsilons, types.Epsilon(token))
			start = i + 1
		}
	}
	return epsilons, nil
}

func buildSweepCommand() *cobra.Command {
	var simulator, generator string
	var epsilon string
	var masterKind string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Enumerate a fixed parameter list and run the simulator once per parameter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			simCmd, err := mustCommand(simulator, "simulator")
			if err != nil {
				return err
			}
			genCmd, err := mustCommand(generator, "generator")
			if err != nil {
				return err
			}

			genProc := genCmd.Cmd()
			out, err := genProc.Output()
			if err != nil {
				return fmt.Errorf("cli: running generator: %w", err)
			}
			params, err := protocol.ParseGeneratorOutput(string(out))
			if err != nil {
				return fmt.Errorf("cli: parsing generator output: %w", err)
			}

			m, err := buildMaster(masterKind, cfg, simCmd)
			if err != nil {
				return err
			}
			collector := startMetricsIfEnabled(cfg)

			sweep := controller.NewSweep(types.Epsilon(epsilon), params, cfg.Errors.Ignore)
			attachMetrics(collector, m, sweep)
			if err := runLoop(m, sweep, cfg); err != nil {
				return err
			}
			return writeJSONOutput(cfg.Output.Path, sweep.Results())
		},
	}

	cmd.Flags().StringVar(&simulator, "simulator", "", "simulator executable")
	cmd.Flags().StringVar(&generator, "generator", "", "generator executable producing the swept parameter list")
	cmd.Flags().StringVar(&epsilon, "epsilon", "", "epsilon token passed to the simulator")
	cmd.Flags().StringVar(&masterKind, "master", "parallel", "master kind: serial or parallel")
	return cmd
}

func buildRejectionCommand() *cobra.Command {
	var simulator, priorSampler string
	var epsilon string
	var target int
	var masterKind string

	cmd := &cobra.Command{
		Use:   "rejection",
		Short: "Run ABC-Rejection until N parameters are accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			simCmd, err := mustCommand(simulator, "simulator")
			if err != nil {
				return err
			}
			priorCmd, err := mustCommand(priorSampler, "prior-sampler")
			if err != nil {
				return err
			}

			m, err := buildMaster(masterKind, cfg, simCmd)
			if err != nil {
				return err
			}
			collector := startMetricsIfEnabled(cfg)

			rej := controller.NewRejection(types.Epsilon(epsilon), priorCmd, target, cfg.Errors.Ignore)
			attachMetrics(collector, m, rej)
			if err := runLoop(m, rej, cfg); err != nil {
				return err
			}
			return writeJSONOutput(cfg.Output.Path, rej.Accepted())
		},
	}

	cmd.Flags().StringVar(&simulator, "simulator", "", "simulator executable")
	cmd.Flags().StringVar(&priorSampler, "prior-sampler", "", "prior sampler executable")
	cmd.Flags().StringVar(&epsilon, "epsilon", "", "epsilon token passed to the simulator")
	cmd.Flags().IntVar(&target, "target", 100, "number of accepted parameters to collect")
	cmd.Flags().StringVar(&masterKind, "master", "parallel", "master kind: serial or parallel")
	return cmd
}

func buildSMCCommand() *cobra.Command {
	var simulator, priorSampler, perturber, priorPdf, perturbationPdf string
	var epsilonsCSV string
	var populationSize int
	var seed int64
	var masterKind string
	var adaptive bool
	var initialEpsilon, minEpsilon, shrinkFactor, targetAcceptance float64
	var maxGenerations int

	cmd := &cobra.Command{
		Use:   "smc",
		Short: "Run ABC-SMC across a sequence of decreasing epsilons",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			simCmd, err := mustCommand(simulator, "simulator")
			if err != nil {
				return err
			}
			priorCmd, err := mustCommand(priorSampler, "prior-sampler")
			if err != nil {
				return err
			}
			perturbCmd, err := mustCommand(perturber, "perturber")
			if err != nil {
				return err
			}
			priorPdfCmd, err := mustCommand(priorPdf, "prior-pdf")
			if err != nil {
				return err
			}
			perturbPdfCmd, err := mustCommand(perturbationPdf, "perturbation-pdf")
			if err != nil {
				return err
			}

			m, err := buildMaster(masterKind, cfg, simCmd)
			if err != nil {
				return err
			}
			collector := startMetricsIfEnabled(cfg)

			var ctrl controller.Controller
			var population func() []controller.Particle
			if adaptive {
				smc := controller.NewAdaptiveSMC(controller.AdaptiveSMCConfig{
					PriorSampler:     priorCmd,
					Perturber:        perturbCmd,
					PriorPdf:         priorPdfCmd,
					PerturbationPdf:  perturbPdfCmd,
					PopulationSize:   populationSize,
					InitialEpsilon:   initialEpsilon,
					MinEpsilon:       minEpsilon,
					MaxGenerations:   maxGenerations,
					ShrinkFactor:     shrinkFactor,
					TargetAcceptance: targetAcceptance,
					Seed:             seed,
					IgnoreErrors:     cfg.Errors.Ignore,
				})
				ctrl = smc
				population = smc.Population
			} else {
				epsilons, err := parseEpsilonsCSV(epsilonsCSV)
				if err != nil {
					return err
				}
				smc := controller.NewSMC(controller.SMCConfig{
					PriorSampler:    priorCmd,
					Perturber:       perturbCmd,
					PriorPdf:        priorPdfCmd,
					PerturbationPdf: perturbPdfCmd,
					PopulationSize:  populationSize,
					Epsilons:        epsilons,
					Seed:            seed,
					IgnoreErrors:    cfg.Errors.Ignore,
				})
				ctrl = smc
				population = smc.Population
			}
			attachMetrics(collector, m, ctrl)

			if err := runLoop(m, ctrl, cfg); err != nil {
				return err
			}
			return writeJSONOutput(cfg.Output.Path, population())
		},
	}

	cmd.Flags().StringVar(&simulator, "simulator", "", "simulator executable")
	cmd.Flags().StringVar(&priorSampler, "prior-sampler", "", "prior sampler executable")
	cmd.Flags().StringVar(&perturber, "perturber", "", "perturber executable")
	cmd.Flags().StringVar(&priorPdf, "prior-pdf", "", "prior pdf executable")
	cmd.Flags().StringVar(&perturbationPdf, "perturbation-pdf", "", "perturbation pdf executable")
	cmd.Flags().StringVar(&epsilonsCSV, "epsilons", "", "comma-separated epsilon schedule, one per generation")
	cmd.Flags().IntVar(&populationSize, "population-size", 100, "particles per generation")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for resampling and perturbation")
	cmd.Flags().StringVar(&masterKind, "master", "parallel", "master kind: serial or parallel")
	cmd.Flags().BoolVar(&adaptive, "adaptive", false, "derive the epsilon schedule from observed acceptance rate instead of --epsilons")
	cmd.Flags().Float64Var(&initialEpsilon, "initial-epsilon", 1.0, "adaptive mode: starting epsilon")
	cmd.Flags().Float64Var(&minEpsilon, "min-epsilon", 0.001, "adaptive mode: stop once epsilon falls below this")
	cmd.Flags().Float64Var(&shrinkFactor, "shrink-factor", 0.9, "adaptive mode: base per-generation epsilon shrink factor")
	cmd.Flags().Float64Var(&targetAcceptance, "target-acceptance", 0.2, "adaptive mode: target acceptance rate")
	cmd.Flags().IntVar(&maxGenerations, "max-generations", 50, "adaptive mode: hard cap on generations")

	return cmd
}
