package oracle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
regularization: loss-weighted
lambda_beta: 0.5
nnz_gamma: 2
penalty_refresh: on-selection
`))
	require.NoError(t, err)

	assert.Equal(t, RegularizationLossWeighted, cfg.Regularization)
	assert.Equal(t, 0.5, cfg.LambdaBeta)
	assert.Equal(t, DefaultLambdaGamma, cfg.LambdaGamma)
	assert.Equal(t, DefaultNNZBeta, cfg.NNZBeta)
	assert.Equal(t, 2, cfg.NNZGamma)
	assert.Equal(t, RefreshOnSelection, cfg.PenaltyRefresh)
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":            "lambda: 1\n",
		"unknown regularization": "regularization: lasso\n",
		"negative lambda":        "lambda_gamma: -1\n",
		"negative nnz":           "nnz_beta: -3\n",
		"unknown refresh":        "penalty_refresh: always\n",
		"malformed":              "lambda_beta: [1, 2\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestNewSparse(t *testing.T) {
	p := simulated(t)

	cfg := DefaultConfig()
	f, err := NewSparse(p, cfg)
	require.NoError(t, err)
	assert.IsType(t, &Regularized{}, f)

	cfg.Regularization = RegularizationLossWeighted
	f, err = NewSparse(p, cfg, WithNNZBeta(1))
	require.NoError(t, err)
	require.IsType(t, &DropPenalty{}, f)

	// options given to NewSparse override the configuration
	tbeta, err := f.OptimalTBeta(testBeta, testGamma)
	require.NoError(t, err)
	nonZero := 0
	for _, v := range tbeta {
		if v != 0 {
			nonZero++
		}
	}
	assert.Equal(t, 1, nonZero)

	cfg.LambdaBeta = -1
	f, err = NewSparse(p, cfg)
	assert.ErrorIs(t, err, ErrUsage)
	assert.Nil(t, f)
}
