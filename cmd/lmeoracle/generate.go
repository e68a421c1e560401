package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0madic/go-lme-oracle/internal/simulate"
	"github.com/n0madic/go-lme-oracle/oracle"
	"github.com/n0madic/go-lme-oracle/problem"
)

type generateOptions struct {
	out             string
	groups          []int
	labels          []int
	randomIntercept bool
	beta            []float64
	gamma           []float64
	obsStd          float64
	seed            uint64
}

func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Draw a synthetic problem and save it",
		Long: `Draw a grouped dataset from a known mixed-effects model and save it in gob
format. Column labels use the codes 1 (fixed), 2 (random) and 3 (fixed and
random); any other code marks a column the model ignores. An intercept column
is prepended to the labelled columns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "problem.gob", "output file")
	flags.IntSliceVar(&opts.groups, "groups", []int{20, 12, 14, 9, 16}, "observations per group")
	flags.IntSliceVar(&opts.labels, "labels", []int{3, 3, 1}, "label codes of the feature columns")
	flags.BoolVar(&opts.randomIntercept, "random-intercept", true, "give the intercept a random effect")
	flags.Float64SliceVar(&opts.beta, "beta", []float64{1, 2, -1, 0.5}, "true fixed effects, intercept first")
	flags.Float64SliceVar(&opts.gamma, "gamma", []float64{0.5, 0.8, 0}, "true random-effect variances, intercept first")
	flags.Float64Var(&opts.obsStd, "obs-std", 0.3, "observation noise standard deviation")
	flags.Uint64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	p, truth, err := simulate.Generate(simulate.Params{
		GroupSizes:      opts.groups,
		Labels:          parseLabels(opts.labels),
		RandomIntercept: opts.randomIntercept,
		Beta:            opts.beta,
		Gamma:           opts.gamma,
		ObsStd:          opts.obsStd,
		Seed:            opts.seed,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return errors.Wrap(oracle.ErrUsage, err.Error())
	}
	if err := saveProblem(f, p); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "wrote %s: %d groups, %d observations, %d fixed, %d random effects\n",
		opts.out, p.Len(), p.Observations(), p.NumFixed(), p.NumRandom())
	fmt.Fprintf(w, "true beta:  %s\n", formatVec(truth.Beta))
	fmt.Fprintf(w, "true gamma: %s\n", formatVec(truth.Gamma))
	return nil
}

// saveProblem writes p to wc and closes it, reporting a failed Close.
func saveProblem(wc io.WriteCloser, p *problem.Problem) error {
	if err := p.Save(wc); err != nil {
		wc.Close()
		return errors.Wrapf(oracle.ErrUsage, "save problem: %v", err)
	}
	if err := wc.Close(); err != nil {
		return errors.Wrapf(oracle.ErrUsage, "close problem file: %v", err)
	}
	return nil
}

// parseLabels maps column codes to labels.
func parseLabels(codes []int) []problem.Label {
	labels := make([]problem.Label, len(codes))
	for i, c := range codes {
		switch problem.Label(c) {
		case problem.Fixed, problem.Random, problem.Paired:
			labels[i] = problem.Label(c)
		default:
			labels[i] = problem.Ignored
		}
	}
	return labels
}
