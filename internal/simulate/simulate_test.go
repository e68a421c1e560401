package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

func params() Params {
	return Params{
		GroupSizes:      []int{4, 6, 5},
		Labels:          []problem.Label{problem.Paired, problem.Fixed, problem.Random, problem.Ignored},
		RandomIntercept: true,
		Beta:            []float64{1, -2, 0.5},
		Gamma:           []float64{0.5, 1, 0.25},
		ObsStd:          0.3,
		Seed:            42,
	}
}

func TestGenerate(t *testing.T) {
	p, truth, err := Generate(params())
	require.NoError(t, err)

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 3, p.NumFixed())
	assert.Equal(t, 3, p.NumRandom())
	assert.Equal(t, 15, p.Observations())
	assert.Equal(t, []int{0, 1, -1}, p.BetaToGamma())
	assert.Equal(t, problem.Paired, p.Labels()[0])

	assert.Equal(t, []float64{1, -2, 0.5}, truth.Beta)
	rows, cols := truth.RandomEffects.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)

	for i := 0; i < p.Len(); i++ {
		g := p.Group(i)
		for r := 0; r < g.Rows(); r++ {
			assert.Equal(t, 1.0, g.X.At(r, 0), "intercept column")
			assert.Equal(t, 1.0, g.Z.At(r, 0), "random intercept column")
			assert.Equal(t, g.X.At(r, 1), g.Z.At(r, 1), "paired column")
			assert.InDelta(t, 0.09, g.Noise.At(r, r), 1e-15)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, _, err := Generate(params())
	require.NoError(t, err)
	b, _, err := Generate(params())
	require.NoError(t, err)
	for i := 0; i < a.Len(); i++ {
		assert.True(t, mat.Equal(a.Group(i).Y, b.Group(i).Y))
	}

	other := params()
	other.Seed = 43
	c, _, err := Generate(other)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a.Group(0).Y, c.Group(0).Y))
}

func TestGenerateFixedOnly(t *testing.T) {
	p, truth, err := Generate(Params{
		GroupSizes: []int{5, 5},
		Labels:     []problem.Label{problem.Fixed},
		Beta:       []float64{1, 2},
		ObsStd:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.NumRandom())
	assert.Nil(t, truth.RandomEffects)
	assert.Nil(t, p.Group(0).Z)
}

func TestGenerateRejects(t *testing.T) {
	tests := map[string]func(*Params){
		"beta length":    func(p *Params) { p.Beta = p.Beta[:2] },
		"gamma length":   func(p *Params) { p.Gamma = nil },
		"negative gamma": func(p *Params) { p.Gamma[1] = -1 },
		"zero std":       func(p *Params) { p.ObsStd = 0 },
		"no groups":      func(p *Params) { p.GroupSizes = nil },
		"empty group":    func(p *Params) { p.GroupSizes[1] = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			prm := params()
			mutate(&prm)
			_, _, err := Generate(prm)
			assert.ErrorIs(t, err, problem.ErrUsage)
		})
	}
}
