package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/internal/config"
)

func (a *app) newOptimizeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run or resume a study described by a YAML file",
		Long: `Runs the built-in benchmark objective (sphere, quadratic or rosenbrock)
over the params of the configuration. A study with the configured name is
resumed when it already exists in the storage file.

The configuration's storage and log_level apply unless --storage or
--log-level are given explicitly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("log-level") {
				logger, err := newLogger(cfg.LogLevel)
				if err != nil {
					return err
				}

				a.logger = logger
			}

			if cmd.Flags().Changed("storage") || cfg.Storage == "" {
				cfg.Storage = a.storagePath
			}

			return a.optimize(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "run.yaml", "run configuration file")

	return cmd
}

func (a *app) optimize(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()

	direction, err := hpo.ParseDirection(cfg.Direction)
	if err != nil {
		return err
	}

	sampler, err := newSampler(cfg.Sampler)
	if err != nil {
		return err
	}

	objective, err := newObjective(cfg.Objective, cfg.Params)
	if err != nil {
		return err
	}

	store, err := a.openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []hpo.Option{
		hpo.WithStorage(store),
		hpo.WithSampler(sampler),
		hpo.WithPruner(newPruner(cfg.Pruner)),
		hpo.WithLogger(a.logger),
	}

	var study *hpo.Study

	record, err := store.GetStudyByName(ctx, cfg.StudyName)

	switch {
	case err == nil:
		if record.Direction != direction {
			return fmt.Errorf("study %s exists with direction %s", record.Name, record.Direction)
		}

		a.logger.Info("resuming study", zap.String("study", record.Name))
		study, err = hpo.LoadStudy(ctx, record.ID, opts...)
	case errors.Is(err, hpo.ErrStudyNotFound) || cfg.StudyName == "":
		study, err = hpo.CreateStudy(ctx, append(opts, hpo.WithStudyName(cfg.StudyName), hpo.WithDirection(direction))...)
	}

	if err != nil {
		return err
	}

	err = study.Optimize(ctx, objective, hpo.OptimizeConfig{
		NTrials: cfg.NTrials,
		Timeout: cfg.Timeout,
		NJobs:   cfg.NJobs,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	best, berr := study.BestTrial(context.WithoutCancel(ctx))
	if berr != nil {
		return errors.Join(err, berr)
	}

	printf(cmd.OutOrStdout(), "study:  %s\n", study.Name())
	printBest(cmd.OutOrStdout(), best)

	return err
}

func newSampler(cfg config.SamplerConfig) (hpo.Sampler, error) {
	switch cfg.Type {
	case config.SamplerAnnealing:
		return hpo.NewAnnealingSampler(hpo.AnnealingConfig{
			Seed:               cfg.Seed,
			InitialTemperature: cfg.InitialTemperature,
			CoolingFactor:      cfg.CoolingFactor,
			NeighborhoodWidth:  cfg.NeighborhoodWidth,
		}), nil
	case config.SamplerGrid:
		return hpo.NewGridSampler(cfg.Grid, cfg.Seed)
	case config.SamplerGP:
		gp := hpo.GPConfig{
			Seed:           cfg.Seed,
			InitialSamples: cfg.InitialSamples,
			NumCandidates:  cfg.NumCandidates,
		}

		switch cfg.Acquisition {
		case "pi":
			gp.AcquisitionFunc = hpo.ProbabilityOfImprovement
		case "ei":
			gp.AcquisitionFunc = hpo.ExpectedImprovement
		case "thompson":
			gp.AcquisitionFunc = hpo.ThompsonSampling
		default:
			gp.AcquisitionFunc = hpo.UCB
		}

		return hpo.NewGPSampler(gp), nil
	case config.SamplerRandom, "":
		return hpo.NewRandomSampler(cfg.Seed), nil
	default:
		return nil, fmt.Errorf("unknown sampler type %q", cfg.Type)
	}
}

func newPruner(cfg config.PrunerConfig) hpo.Pruner {
	if cfg.Type != "median" {
		return hpo.NopPruner{}
	}

	p := hpo.NewMedianPruner()
	if cfg.StartupTrials > 0 {
		p.NStartupTrials = cfg.StartupTrials
	}

	p.NWarmupSteps = cfg.WarmupSteps

	return p
}
