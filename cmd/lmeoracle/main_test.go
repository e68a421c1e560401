package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0madic/go-lme-oracle/internal/simulate"
	"github.com/n0madic/go-lme-oracle/oracle"
	"github.com/n0madic/go-lme-oracle/problem"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateEvalSelect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem.gob")

	out, err := run(t, "generate", "--out", path, "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "5 groups")

	out, err = run(t, "eval", "--problem", path, "--gamma", "0.5,0.8,0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "loss:")
	assert.Contains(t, out, "hessian:")
	assert.Contains(t, out, "random effects:")

	cfgPath := filepath.Join(dir, "oracle.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("regularization: loss-weighted\nnnz_beta: 2\n"), 0o600))

	out, err = run(t, "select", "--problem", path, "--config", cfgPath, "--gamma", "0.5,0.8,0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "regularization: loss-weighted")
	assert.Contains(t, out, "penalty beta:")
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem.gob")
	_, err := run(t, "generate", "--out", path)
	require.NoError(t, err)

	_, err = run(t, "eval", "--problem", path, "--gamma", "1,2")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = run(t, "eval", "--problem", path, "--gamma", "-100,1,1")
	require.Error(t, err)
	assert.Equal(t, exitNumeric, exitCode(err))

	_, err = run(t, "eval", "--problem", filepath.Join(dir, "missing.gob"))
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestParseLabels(t *testing.T) {
	assert.Equal(t,
		[]problem.Label{problem.Ignored, problem.Fixed, problem.Random, problem.Paired, problem.Ignored},
		parseLabels([]int{0, 1, 2, 3, 4}))
}

func TestExitCodeClasses(t *testing.T) {
	assert.Equal(t, exitNumeric, exitCode(errors.Wrap(oracle.ErrNumeric, "singular")))
	assert.Equal(t, exitUsage, exitCode(oracle.ErrPenaltiesUninitialized))
}

type closeRecorder struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.closeErr
}

func TestSaveProblemReportsClose(t *testing.T) {
	p, _, err := simulate.Generate(simulate.Params{
		GroupSizes: []int{4, 5},
		Labels:     []problem.Label{problem.Paired},
		Beta:       []float64{1, 2},
		Gamma:      []float64{0.5},
		ObsStd:     0.3,
	})
	require.NoError(t, err)

	ok := &closeRecorder{}
	require.NoError(t, saveProblem(ok, p))
	assert.True(t, ok.closed)
	restored, err := problem.Load(&ok.Buffer)
	require.NoError(t, err)
	assert.Equal(t, p.Observations(), restored.Observations())

	failing := &closeRecorder{closeErr: errors.New("disk full")}
	err = saveProblem(failing, p)
	require.Error(t, err)
	assert.True(t, failing.closed)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, exitUsage, exitCode(err))
}
