package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0madic/go-lme-oracle/oracle"
)

type selectOptions struct {
	problem string
	config  string
	beta    []float64
	gamma   []float64
}

func newSelectCmd() *cobra.Command {
	opts := selectOptions{}

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Project (beta, gamma) onto sparse targets",
		Long: `Run one selection step of the configured sparse oracle: compute the sparse
targets for (beta, gamma) and the penalized loss at them. Without --config the
default l2 configuration is used.

Example oracle.yaml:
  regularization: loss-weighted
  lambda_beta: 0.1
  lambda_gamma: 0.1
  nnz_beta: 2
  nnz_gamma: 1
  penalty_refresh: on-change`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.problem, "problem", "p", "problem.gob", "problem file written by generate")
	flags.StringVarP(&opts.config, "config", "c", "", "oracle configuration file (YAML)")
	flags.Float64SliceVar(&opts.beta, "beta", nil, "fixed effects")
	flags.Float64SliceVar(&opts.gamma, "gamma", nil, "random-effect variances (default all ones)")
	return cmd
}

func runSelect(cmd *cobra.Command, opts selectOptions) error {
	cfg := oracle.DefaultConfig()
	if opts.config != "" {
		f, err := os.Open(opts.config)
		if err != nil {
			return errors.Wrap(oracle.ErrUsage, err.Error())
		}
		cfg, err = oracle.LoadConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	p, err := loadProblem(opts.problem)
	if err != nil {
		return err
	}
	sparse, err := oracle.NewSparse(p, cfg, oracle.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	gamma := defaultGamma(p, opts.gamma)
	beta := opts.beta
	if len(beta) == 0 {
		beta, err = oracle.New(p).OptimalBeta(gamma)
		if err != nil {
			return err
		}
	}

	tbeta, err := sparse.OptimalTBeta(beta, gamma)
	if err != nil {
		return err
	}
	tgamma, err := sparse.OptimalTGamma(tbeta, beta, gamma)
	if err != nil {
		return err
	}
	loss, err := sparse.Loss(beta, gamma, tbeta, tgamma)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "regularization: %s\n", cfg.Regularization)
	fmt.Fprintf(w, "beta:           %s\n", formatVec(beta))
	fmt.Fprintf(w, "gamma:          %s\n", formatVec(gamma))
	fmt.Fprintf(w, "tbeta:          %s\n", formatVec(tbeta))
	fmt.Fprintf(w, "tgamma:         %s\n", formatVec(tgamma))
	fmt.Fprintf(w, "loss:           %.6f\n", loss)
	if d, ok := sparse.(*oracle.DropPenalty); ok {
		pb, pg, _ := d.DropPenalties()
		fmt.Fprintf(w, "penalty beta:   %s\n", formatVec(pb))
		fmt.Fprintf(w, "penalty gamma:  %s\n", formatVec(pg))
	}
	return nil
}
