package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func TestTakeTopK(t *testing.T) {
	tests := []struct {
		name  string
		x     []float64
		score []float64
		k     int
		want  []float64
	}{
		{"largest magnitude", []float64{3, -5, 1, 4}, nil, 2, []float64{0, -5, 0, 4}},
		{"ties keep lower index", []float64{1, -1, 1, 0.5}, nil, 2, []float64{1, -1, 0, 0}},
		{"separate score", []float64{1, 2, 3}, []float64{0, 5, -6}, 1, []float64{0, 0, 3}},
		{"zero k", []float64{1, 2, 3}, nil, 0, []float64{0, 0, 0}},
		{"k equals length", []float64{1, 2, 3}, nil, 3, []float64{1, 2, 3}},
		{"k exceeds length", []float64{1, 2, 3}, nil, 10, []float64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := tt.score
			if score == nil {
				score = tt.x
			}
			x := append([]float64(nil), tt.x...)
			got := takeTopK(x, score, tt.k)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.x, x, "input must not be modified")
		})
	}
}

func TestRegularizedOptions(t *testing.T) {
	p := simulated(t)
	for _, opt := range []Option{
		WithLambdaBeta(-1),
		WithLambdaGamma(-0.1),
		WithNNZBeta(-1),
		WithNNZGamma(-2),
		WithPenaltyRefresh("sometimes"),
	} {
		_, err := NewRegularized(p, opt)
		assert.ErrorIs(t, err, ErrUsage)

		_, err = NewDropPenalty(p, opt)
		assert.ErrorIs(t, err, ErrUsage)
	}
}

func TestRegularizedLoss(t *testing.T) {
	const tol = 1e-10
	p := simulated(t)
	r, err := NewRegularized(p, WithLambdaBeta(0.5), WithLambdaGamma(2))
	require.NoError(t, err)

	tbeta := []float64{1, 0, 0, 0}
	tgamma := []float64{0.5, 0, 0, 0}

	base, err := r.Base().Loss(testBeta, testGamma)
	require.NoError(t, err)

	penalty := 0.0
	for j := range testBeta {
		d := testBeta[j] - tbeta[j]
		penalty += 0.25 * d * d
	}
	for j := range testGamma {
		d := testGamma[j] - tgamma[j]
		penalty += d * d
	}

	got, err := r.Loss(testBeta, testGamma, tbeta, tgamma)
	require.NoError(t, err)
	assert.InDelta(t, base+penalty, got, tol)

	_, err = r.Loss(testBeta, testGamma, tbeta[:1], tgamma)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestRegularizedDerivatives(t *testing.T) {
	p := simulated(t)
	r, err := NewRegularized(p, WithLambdaGamma(2))
	require.NoError(t, err)
	tbeta := []float64{1, 2, 0, 0}
	tgamma := []float64{0.5, 0.5, 0, 0}

	loss := func(gamma []float64) float64 {
		l, err := r.Loss(testBeta, gamma, tbeta, tgamma)
		require.NoError(t, err)
		return l
	}
	want := fd.Gradient(nil, loss, testGamma, centralDiff)
	grad, err := r.GradientGamma(testBeta, testGamma, tgamma)
	require.NoError(t, err)
	assertVecClose(t, want, grad, 1e-5)

	baseHess, err := r.Base().HessianGamma(testBeta, testGamma)
	require.NoError(t, err)
	hess, err := r.HessianGamma(testBeta, testGamma)
	require.NoError(t, err)

	k := p.NumRandom()
	for a := 0; a < k; a++ {
		for c := 0; c < k; c++ {
			expected := baseHess.At(a, c)
			if a == c {
				expected += 2
			}
			assert.InDelta(t, expected, hess.At(a, c), 1e-12)
		}
	}
}

func TestRegularizedOptimalBeta(t *testing.T) {
	p := simulated(t)
	tbeta := []float64{1, 0, 0, 0.5}
	tgamma := make([]float64, p.NumRandom())

	r, err := NewRegularized(p, WithLambdaBeta(3))
	require.NoError(t, err)
	beta, err := r.OptimalBeta(testGamma, tbeta, nil)
	require.NoError(t, err)

	loss := func(b []float64) float64 {
		l, err := r.Loss(b, testGamma, tbeta, tgamma)
		require.NoError(t, err)
		return l
	}
	for j, g := range fd.Gradient(nil, loss, beta, centralDiff) {
		assert.InDelta(t, 0, g, 1e-5, "d loss / d beta[%d]", j)
	}
}

func TestRegularizedVanishingLambda(t *testing.T) {
	p := simulated(t)
	tbeta := []float64{5, -5, 5, -5}

	want, err := New(p).OptimalBeta(testGamma)
	require.NoError(t, err)

	zero, err := NewRegularized(p, WithLambdaBeta(0))
	require.NoError(t, err)
	got, err := zero.OptimalBeta(testGamma, tbeta, nil)
	require.NoError(t, err)
	assertVecClose(t, want, got, 1e-10)

	tiny, err := NewRegularized(p, WithLambdaBeta(1e-9))
	require.NoError(t, err)
	got, err = tiny.OptimalBeta(testGamma, tbeta, nil)
	require.NoError(t, err)
	assertVecClose(t, want, got, 1e-6)
}

func TestRegularizedSelection(t *testing.T) {
	p := simulated(t)
	r, err := NewRegularized(p, WithNNZBeta(2), WithNNZGamma(2))
	require.NoError(t, err)

	tbeta, err := r.OptimalTBeta(testBeta, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 1.8, 0, 0}, tbeta)

	// γ_2 has no fixed effect and γ_3 is paired with a dropped β_3
	tgamma, err := r.OptimalTGamma(tbeta, nil, testGamma)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.6, 0, 0}, tgamma)

	one, err := NewRegularized(p, WithNNZBeta(4), WithNNZGamma(1))
	require.NoError(t, err)
	tbeta, err = one.OptimalTBeta(testBeta, nil)
	require.NoError(t, err)
	assert.Equal(t, testBeta, tbeta)
	tgamma, err = one.OptimalTGamma(tbeta, nil, testGamma)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0, 0, 0}, tgamma)

	_, err = r.OptimalTGamma(tbeta, nil, testGamma[:3])
	assert.ErrorIs(t, err, ErrUsage)
}

func TestRegularizedDelegates(t *testing.T) {
	p := simulated(t)
	r, err := NewRegularized(p)
	require.NoError(t, err)

	want, err := New(p).OptimalRandomEffects(testBeta, testGamma)
	require.NoError(t, err)
	got, err := r.OptimalRandomEffects(testBeta, testGamma)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))

	pred, err := r.Predict(testBeta, testGamma)
	require.NoError(t, err)
	assert.Len(t, pred, p.Len())
}
