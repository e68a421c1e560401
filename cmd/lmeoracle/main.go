// Command lmeoracle generates synthetic mixed-effects problems and evaluates
// the oracles on them.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/n0madic/go-lme-oracle/oracle"
)

// Exit codes.
const (
	exitUsage   = 1
	exitNumeric = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, oracle.ErrNumeric) {
		return exitNumeric
	}
	return exitUsage
}
