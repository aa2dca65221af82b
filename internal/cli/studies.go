package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/sqlitestore"
)

func (a *app) newCreateStudyCommand() *cobra.Command {
	var name, direction string

	cmd := &cobra.Command{
		Use:   "create-study",
		Short: "Create an empty study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := hpo.ParseDirection(direction)
			if err != nil {
				return err
			}

			store, err := a.openStore(a.storagePath)
			if err != nil {
				return err
			}
			defer store.Close()

			study, err := hpo.CreateStudy(cmd.Context(),
				hpo.WithStorage(store),
				hpo.WithStudyName(name),
				hpo.WithDirection(d),
				hpo.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			printf(cmd.OutOrStdout(), "%s\t%s\n", study.ID(), study.Name())

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "study name (generated when empty)")
	cmd.Flags().StringVar(&direction, "direction", "minimize", "minimize or maximize")

	return cmd
}

func (a *app) newStudiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "studies",
		Short: "List studies with their trial counts and best values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := a.openStore(a.storagePath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListStudies(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(w, "NAME\tDIRECTION\tTRIALS\tBEST\tID\n")

			for _, r := range records {
				trials, err := store.GetAllTrials(ctx, r.ID)
				if err != nil {
					return err
				}

				best := "-"
				if v, ok := bestValue(trials, r.Direction); ok {
					best = fmt.Sprintf("%g", v)
				}

				printf(w, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.Direction, len(trials), best, r.ID)
			}

			return w.Flush()
		},
	}
}

func (a *app) newTrialsCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "trials",
		Short: "List the trials of a study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := a.openStore(a.storagePath)
			if err != nil {
				return err
			}
			defer store.Close()

			study, err := a.loadStudy(cmd, store, name)
			if err != nil {
				return err
			}

			trials, err := study.Trials(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(w, "NUMBER\tSTATE\tVALUE\tPARAMS\n")

			for _, t := range trials {
				value := "-"
				if t.Value != nil {
					value = fmt.Sprintf("%g", *t.Value)
				}

				printf(w, "%d\t%s\t%s\t%s\n", t.ID, t.State, value, formatParams(t.Params))
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&name, "study", "", "study name")
	_ = cmd.MarkFlagRequired("study")

	return cmd
}

func (a *app) newBestTrialCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "best-trial",
		Short: "Show the best complete trial of a study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(a.storagePath)
			if err != nil {
				return err
			}
			defer store.Close()

			study, err := a.loadStudy(cmd, store, name)
			if err != nil {
				return err
			}

			best, err := study.BestTrial(cmd.Context())
			if errors.Is(err, hpo.ErrNoCompleteTrials) {
				return fmt.Errorf("study %s has no complete trials", name)
			}

			if err != nil {
				return err
			}

			printBest(cmd.OutOrStdout(), best)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "study", "", "study name")
	_ = cmd.MarkFlagRequired("study")

	return cmd
}

func (a *app) loadStudy(cmd *cobra.Command, store *sqlitestore.Store, name string) (*hpo.Study, error) {
	record, err := store.GetStudyByName(cmd.Context(), name)
	if err != nil {
		return nil, err
	}

	return hpo.LoadStudy(cmd.Context(), record.ID, hpo.WithStorage(store), hpo.WithLogger(a.logger))
}

func bestValue(trials []hpo.FrozenTrial, direction hpo.Direction) (float64, bool) {
	var (
		best  float64
		found bool
	)

	for _, t := range trials {
		if t.State != hpo.TrialComplete || t.Value == nil {
			continue
		}

		if !found || direction.Better(*t.Value, best) {
			best, found = *t.Value, true
		}
	}

	return best, found
}

func printBest(w io.Writer, best hpo.FrozenTrial) {
	printf(w, "trial:  %d\n", best.ID)
	printf(w, "value:  %g\n", *best.Value)
	printf(w, "params: %s\n", formatParams(best.Params))
}

// formatParams renders params as name=value pairs in name order.
func formatParams(params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, params[name])
	}

	return strings.Join(parts, " ")
}
