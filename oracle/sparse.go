package oracle

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

// SparseFunctional is the evaluation surface of the sparse oracles. An outer
// optimizer alternates between minimizing over (β, γ) with the targets fixed
// and projecting onto the targets with OptimalTBeta and OptimalTGamma.
//
// Arguments an implementation does not need may be nil: Regularized ignores
// beta in OptimalBeta and OptimalTGamma and gamma in OptimalTBeta.
type SparseFunctional interface {
	Loss(beta, gamma, tbeta, tgamma []float64) (float64, error)
	GradientGamma(beta, gamma, tgamma []float64) ([]float64, error)
	HessianGamma(beta, gamma []float64) (*mat.SymDense, error)
	OptimalBeta(gamma, tbeta, beta []float64) ([]float64, error)
	OptimalTBeta(beta, gamma []float64) ([]float64, error)
	OptimalTGamma(tbeta, beta, gamma []float64) ([]float64, error)
	OptimalRandomEffects(beta, gamma []float64) (*mat.Dense, error)
	Predict(beta, gamma []float64) ([]*mat.VecDense, error)
}

// Regularized adds quadratic shrinkage toward sparse targets to the
// functional:
//
//	ℒ(β, γ) + lb/2·‖β - tβ‖² + lg/2·‖γ - tγ‖²
//
// where tβ and tγ have at most k_β and k_γ non-zero entries.
type Regularized struct {
	base        *Oracle
	lambdaBeta  float64
	lambdaGamma float64
	nnzBeta     int
	nnzGamma    int
}

// NewRegularized creates a regularized oracle for the given problem.
func NewRegularized(p *problem.Problem, options ...Option) (*Regularized, error) {
	s := newSettings(options)
	if err := s.validate(); err != nil {
		return nil, err
	}
	return newRegularized(p, s), nil
}

func newRegularized(p *problem.Problem, s settings) *Regularized {
	return &Regularized{
		base:        newOracle(p, s),
		lambdaBeta:  s.lambdaBeta,
		lambdaGamma: s.lambdaGamma,
		nnzBeta:     s.nnzBeta,
		nnzGamma:    s.nnzGamma,
	}
}

// Base returns the wrapped unregularized oracle.
func (r *Regularized) Base() *Oracle { return r.base }

// Loss returns ℒ(β, γ) + lb/2·‖β - tβ‖² + lg/2·‖γ - tγ‖².
func (r *Regularized) Loss(beta, gamma, tbeta, tgamma []float64) (float64, error) {
	return r.loss(beta, gamma, tbeta, tgamma, nil, nil)
}

// GradientGamma returns ∇_γ ℒ(β, γ) + lg·(γ - tγ).
func (r *Regularized) GradientGamma(beta, gamma, tgamma []float64) ([]float64, error) {
	return r.gradientGamma(beta, gamma, tgamma, nil)
}

// HessianGamma returns ∇²_γ ℒ(β, γ) + lg·I.
func (r *Regularized) HessianGamma(beta, gamma []float64) (*mat.SymDense, error) {
	return r.hessianGamma(beta, gamma, nil)
}

// OptimalBeta returns β solving (kernel + lb·I)·β = tail + lb·tβ.
// The beta argument is ignored.
func (r *Regularized) OptimalBeta(gamma, tbeta, beta []float64) ([]float64, error) {
	return r.optimalBeta(gamma, tbeta, nil)
}

// OptimalTBeta projects β onto the k_β-sparse subspace by keeping its k_β
// largest-magnitude entries. The gamma argument is ignored.
func (r *Regularized) OptimalTBeta(beta, gamma []float64) ([]float64, error) {
	if err := r.base.checkBeta(beta); err != nil {
		return nil, err
	}
	return takeTopK(beta, beta, r.nnzBeta), nil
}

// OptimalTGamma zeroes every γ_j whose paired tβ entry is zero or which has
// no paired fixed effect, then keeps the k_γ largest-magnitude survivors.
// The beta argument is ignored.
func (r *Regularized) OptimalTGamma(tbeta, beta, gamma []float64) ([]float64, error) {
	candidates, err := r.candidateGamma(tbeta, gamma)
	if err != nil {
		return nil, err
	}
	return takeTopK(candidates, candidates, r.nnzGamma), nil
}

// OptimalRandomEffects returns the posterior means of the random effects.
func (r *Regularized) OptimalRandomEffects(beta, gamma []float64) (*mat.Dense, error) {
	return r.base.OptimalRandomEffects(beta, gamma)
}

// Predict returns the fitted values of every group.
func (r *Regularized) Predict(beta, gamma []float64) ([]*mat.VecDense, error) {
	return r.base.Predict(beta, gamma)
}

// The lowercase variants take per-coordinate penalty weights; nil weights
// mean a uniform weight of one.

func (r *Regularized) loss(beta, gamma, tbeta, tgamma, wBeta, wGamma []float64) (float64, error) {
	if err := r.base.checkBeta(tbeta); err != nil {
		return 0, err
	}
	if err := r.base.checkGamma(tgamma); err != nil {
		return 0, err
	}
	l, err := r.base.Loss(beta, gamma)
	if err != nil {
		return 0, err
	}
	l += r.lambdaBeta / 2 * weightedSquaredDistance(beta, tbeta, wBeta)
	l += r.lambdaGamma / 2 * weightedSquaredDistance(gamma, tgamma, wGamma)
	return l, nil
}

func (r *Regularized) gradientGamma(beta, gamma, tgamma, w []float64) ([]float64, error) {
	if err := r.base.checkGamma(tgamma); err != nil {
		return nil, err
	}
	grad, err := r.base.GradientGamma(beta, gamma)
	if err != nil {
		return nil, err
	}
	for j := range grad {
		grad[j] += r.lambdaGamma * weight(w, j) * (gamma[j] - tgamma[j])
	}
	return grad, nil
}

func (r *Regularized) hessianGamma(beta, gamma, w []float64) (*mat.SymDense, error) {
	hess, err := r.base.HessianGamma(beta, gamma)
	if err != nil {
		return nil, err
	}
	for j := 0; j < len(gamma); j++ {
		hess.SetSym(j, j, hess.At(j, j)+r.lambdaGamma*weight(w, j))
	}
	return hess, nil
}

func (r *Regularized) optimalBeta(gamma, tbeta, w []float64) ([]float64, error) {
	if err := r.base.checkBeta(tbeta); err != nil {
		return nil, err
	}
	kernel, tail, err := r.base.KernelTail(gamma)
	if err != nil {
		return nil, err
	}
	for j := range tbeta {
		lw := r.lambdaBeta * weight(w, j)
		kernel.SetSym(j, j, kernel.At(j, j)+lw)
		tail.SetVec(j, tail.AtVec(j)+lw*tbeta[j])
	}
	return solve(kernel, tail)
}

// candidateGamma copies into a zero vector the γ entries paired with a
// non-zero tβ entry.
func (r *Regularized) candidateGamma(tbeta, gamma []float64) ([]float64, error) {
	if err := r.base.checkBeta(tbeta); err != nil {
		return nil, err
	}
	if err := r.base.checkGamma(gamma); err != nil {
		return nil, err
	}
	candidates := make([]float64, len(gamma))
	for b, g := range r.base.betaToGamma {
		if g >= 0 && tbeta[b] != 0 {
			candidates[g] = gamma[g]
		}
	}
	return candidates, nil
}

// takeTopK returns a vector holding the entries of x at the k positions with
// the largest |score| and zeros elsewhere. Ties keep the lower index.
func takeTopK(x, score []float64, k int) []float64 {
	out := make([]float64, len(x))
	if k <= 0 {
		return out
	}
	if k >= len(x) {
		copy(out, x)
		return out
	}
	keys := make([]float64, len(score))
	for i, s := range score {
		keys[i] = -math.Abs(s)
	}
	inds := make([]int, len(keys))
	floats.ArgsortStable(keys, inds)
	for _, i := range inds[:k] {
		out[i] = x[i]
	}
	return out
}

func weight(w []float64, i int) float64 {
	if w == nil {
		return 1
	}
	return w[i]
}

func weightedSquaredDistance(x, t, w []float64) float64 {
	sum := 0.0
	for i := range x {
		d := x[i] - t[i]
		sum += weight(w, i) * d * d
	}
	return sum
}
