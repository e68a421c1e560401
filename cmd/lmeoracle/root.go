package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "lmeoracle",
		Short: "Evaluate linear mixed-effects oracles",
		Long: `lmeoracle evaluates the negative log-likelihood of a linear mixed-effects
model and the sparse oracles built on it.

Examples:
  lmeoracle generate --out problem.gob --seed 1
  lmeoracle eval --problem problem.gob --gamma 0.5,0.5,0.5
  lmeoracle select --problem problem.gob --config oracle.yaml --gamma 0.5,0.5,0.5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log cache and penalty refreshes")

	root.AddCommand(newGenerateCmd(), newEvalCmd(), newSelectCmd())
	return root
}
