package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/oracle"
	"github.com/n0madic/go-lme-oracle/problem"
)

type evalOptions struct {
	problem string
	beta    []float64
	gamma   []float64
}

func newEvalCmd() *cobra.Command {
	opts := evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the base oracle at (beta, gamma)",
		Long: `Evaluate the loss, its gradient and Hessian in gamma, and the random-effect
estimates. Without --beta the optimal fixed effects for gamma are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.problem, "problem", "p", "problem.gob", "problem file written by generate")
	flags.Float64SliceVar(&opts.beta, "beta", nil, "fixed effects")
	flags.Float64SliceVar(&opts.gamma, "gamma", nil, "random-effect variances (default all ones)")
	return cmd
}

func runEval(cmd *cobra.Command, opts evalOptions) error {
	p, err := loadProblem(opts.problem)
	if err != nil {
		return err
	}
	o := oracle.New(p, oracle.WithLogger(slog.Default()))

	gamma := defaultGamma(p, opts.gamma)
	optimal, err := o.OptimalBeta(gamma)
	if err != nil {
		return err
	}
	beta := opts.beta
	if len(beta) == 0 {
		beta = optimal
	}

	loss, err := o.Loss(beta, gamma)
	if err != nil {
		return err
	}
	grad, err := o.GradientGamma(beta, gamma)
	if err != nil {
		return err
	}
	hess, err := o.HessianGamma(beta, gamma)
	if err != nil {
		return err
	}
	u, err := o.OptimalRandomEffects(beta, gamma)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "beta:          %s\n", formatVec(beta))
	fmt.Fprintf(w, "gamma:         %s\n", formatVec(gamma))
	fmt.Fprintf(w, "loss:          %.6f\n", loss)
	fmt.Fprintf(w, "gradient:      %s\n", formatVec(grad))
	fmt.Fprintf(w, "optimal beta:  %s\n", formatVec(optimal))
	if !hess.IsEmpty() {
		fmt.Fprintf(w, "hessian:\n%.6f\n", mat.Formatted(hess, mat.Prefix("")))
	}
	if !u.IsEmpty() {
		fmt.Fprintf(w, "random effects:\n%.6f\n", mat.Formatted(u, mat.Prefix("")))
	}
	return nil
}

func loadProblem(path string) (*problem.Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(oracle.ErrUsage, err.Error())
	}
	defer f.Close()
	return problem.Load(f)
}

// defaultGamma returns gamma, or all ones when it is empty.
func defaultGamma(p *problem.Problem, gamma []float64) []float64 {
	if len(gamma) > 0 {
		return gamma
	}
	ones := make([]float64, p.NumRandom())
	for j := range ones {
		ones[j] = 1
	}
	return ones
}

func formatVec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
