// Package oracle evaluates the negative log-likelihood of a linear
// mixed-effects model, its derivatives with respect to the random-effect
// variances γ, and the closed-form optimal fixed effects β.
//
// The loss for a problem with groups (X_i, Y_i, Z_i, Λ_i) is
//
//	ℒ(β, γ) = Σ_i ½(Y_i - X_iβ)ᵀ Ω_i⁻¹ (Y_i - X_iβ) + ½ log det Ω_i,
//	Ω_i = Z_i·diag(γ)·Z_iᵀ + Λ_i.
//
// Oracle is the cached evaluator. Regularized and DropPenalty wrap it and add
// the penalties that drive the search for sparse (tβ, tγ). Direct evaluates
// the same functional without caching and serves as a reference.
//
// Oracles are not safe for concurrent use: every evaluation may refresh
// state owned by the oracle.
package oracle

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

// zeroVariance is the threshold below which a random effect is treated as
// absent when computing its posterior mean.
const zeroVariance = 1e-10

// Functional is the unregularized evaluation surface shared by Oracle and Direct.
type Functional interface {
	Loss(beta, gamma []float64) (float64, error)
	GradientGamma(beta, gamma []float64) ([]float64, error)
	HessianGamma(beta, gamma []float64) (*mat.SymDense, error)
	OptimalBeta(gamma []float64) ([]float64, error)
}

// Oracle implements the linear mixed-effects functional on top of a cache of
// per-group Cholesky factors of Ω_i.
type Oracle struct {
	problem     *problem.Problem
	cache       *choleskyCache
	betaToGamma []int
}

// New creates an oracle for the given problem. The cache starts empty and is
// filled by the first evaluation.
func New(p *problem.Problem, options ...Option) *Oracle {
	s := newSettings(options)
	return newOracle(p, s)
}

func newOracle(p *problem.Problem, s settings) *Oracle {
	return &Oracle{
		problem:     p,
		cache:       newCholeskyCache(p, s.logger),
		betaToGamma: p.BetaToGamma(),
	}
}

// Problem returns the problem the oracle evaluates.
func (o *Oracle) Problem() *problem.Problem { return o.problem }

// BetaToGamma returns a copy of the fixed-to-random index map.
func (o *Oracle) BetaToGamma() []int {
	return append([]int(nil), o.betaToGamma...)
}

// Refreshes returns how many times the Cholesky cache has been rebuilt.
func (o *Oracle) Refreshes() int { return o.cache.refreshes }

// Invalidate marks the cache stale so the next evaluation refactorizes.
func (o *Oracle) Invalidate() { o.cache.invalidate() }

func (o *Oracle) checkBeta(beta []float64) error {
	return checkLen(beta, o.problem.NumFixed(), "beta")
}

func (o *Oracle) checkGamma(gamma []float64) error {
	return checkLen(gamma, o.problem.NumRandom(), "gamma")
}

func (o *Oracle) prepare(beta, gamma []float64) error {
	if err := o.checkBeta(beta); err != nil {
		return err
	}
	if err := o.checkGamma(gamma); err != nil {
		return err
	}
	return o.cache.ensure(gamma)
}

// residual returns Y - X·β for a group.
func residual(g problem.Group, beta []float64) *mat.VecDense {
	xb := mat.NewVecDense(g.Rows(), nil)
	xb.MulVec(g.X, mat.NewVecDense(len(beta), beta))
	xb.SubVec(g.Y, xb)
	return xb
}

// whitenedResidual returns L⁻¹(Y - Xβ) for group i.
func (o *Oracle) whitenedResidual(i int, beta []float64) *mat.VecDense {
	g := o.problem.Group(i)
	lr := mat.NewVecDense(g.Rows(), nil)
	lr.MulVec(o.cache.factors[i].lInv, residual(g, beta))
	return lr
}

// whitened returns L⁻¹(Y - Xβ) and L⁻¹Z for group i. The problem must have
// random effects.
func (o *Oracle) whitened(i int, beta []float64) (*mat.VecDense, *mat.Dense) {
	var w mat.Dense
	w.Mul(o.cache.factors[i].lInv, o.problem.Group(i).Z)
	return o.whitenedResidual(i, beta), &w
}

// Loss returns ℒ(β, γ).
func (o *Oracle) Loss(beta, gamma []float64) (float64, error) {
	if err := o.prepare(beta, gamma); err != nil {
		return 0, err
	}

	result := 0.0
	for i := 0; i < o.problem.Len(); i++ {
		lInv := o.cache.factors[i].lInv
		lr := o.whitenedResidual(i, beta)
		result += 0.5 * mat.Dot(lr, lr)
		// -Σ log diag(L⁻¹) = ½ log det Ω
		n, _ := lInv.Triangle()
		for r := 0; r < n; r++ {
			result -= math.Log(lInv.At(r, r))
		}
	}
	return result, nil
}

// GradientGamma returns ∇_γ ℒ(β, γ).
func (o *Oracle) GradientGamma(beta, gamma []float64) ([]float64, error) {
	if err := o.prepare(beta, gamma); err != nil {
		return nil, err
	}

	k := o.problem.NumRandom()
	grad := make([]float64, k)
	if k == 0 {
		return grad, nil
	}
	for i := 0; i < o.problem.Len(); i++ {
		lr, w := o.whitened(i, beta)
		var wr mat.VecDense
		wr.MulVec(w.T(), lr)
		for j := 0; j < k; j++ {
			col := w.ColView(j)
			proj := wr.AtVec(j)
			grad[j] += 0.5*mat.Dot(col, col) - 0.5*proj*proj
		}
	}
	return grad, nil
}

// HessianGamma returns ∇²_γ ℒ(β, γ). The result need not be positive definite.
func (o *Oracle) HessianGamma(beta, gamma []float64) (*mat.SymDense, error) {
	if err := o.prepare(beta, gamma); err != nil {
		return nil, err
	}

	k := o.problem.NumRandom()
	if k == 0 {
		return &mat.SymDense{}, nil
	}
	hess := mat.NewSymDense(k, nil)
	for i := 0; i < o.problem.Len(); i++ {
		lr, w := o.whitened(i, beta)
		var wr mat.VecDense
		wr.MulVec(w.T(), lr)

		var gram mat.SymDense
		gram.SymOuterK(1, w.T())

		// ½·[-(WᵀW)∘(WᵀW) + 2·(Wᵀr)(Wᵀr)ᵀ∘(WᵀW)]
		for a := 0; a < k; a++ {
			for c := a; c < k; c++ {
				g := gram.At(a, c)
				h := -g*g + 2*wr.AtVec(a)*wr.AtVec(c)*g
				hess.SetSym(a, c, hess.At(a, c)+0.5*h)
			}
		}
	}
	return hess, nil
}

// KernelTail returns the unsolved normal equations of β for fixed γ:
// kernel = Σ Xᵀ Ω⁻¹ X and tail = Σ Xᵀ Ω⁻¹ Y.
func (o *Oracle) KernelTail(gamma []float64) (*mat.SymDense, *mat.VecDense, error) {
	if err := o.checkGamma(gamma); err != nil {
		return nil, nil, err
	}
	if err := o.cache.ensure(gamma); err != nil {
		return nil, nil, err
	}

	n := o.problem.NumFixed()
	kernel := mat.NewSymDense(n, nil)
	tail := mat.NewVecDense(n, nil)
	for i := 0; i < o.problem.Len(); i++ {
		g := o.problem.Group(i)
		lInv := o.cache.factors[i].lInv

		var lx mat.Dense
		lx.Mul(lInv, g.X)
		var ly mat.VecDense
		ly.MulVec(lInv, g.Y)

		kernel.SymRankK(kernel, 1, lx.T())
		var t mat.VecDense
		t.MulVec(lx.T(), &ly)
		tail.AddVec(tail, &t)
	}
	return kernel, tail, nil
}

// OptimalBeta returns the β minimizing ℒ(·, γ).
func (o *Oracle) OptimalBeta(gamma []float64) ([]float64, error) {
	kernel, tail, err := o.KernelTail(gamma)
	if err != nil {
		return nil, err
	}
	return solve(kernel, tail)
}

// OptimalRandomEffects returns the posterior means of the random effects,
// one row per group. Effects with |γ_j| <= 1e-10 are exactly zero and are
// left out of the solved system.
func (o *Oracle) OptimalRandomEffects(beta, gamma []float64) (*mat.Dense, error) {
	if err := o.prepare(beta, gamma); err != nil {
		return nil, err
	}

	k := o.problem.NumRandom()
	if k == 0 {
		return &mat.Dense{}, nil
	}
	u := mat.NewDense(o.problem.Len(), k, nil)

	active := make([]int, 0, k)
	for j, v := range gamma {
		if math.Abs(v) > zeroVariance {
			active = append(active, j)
		}
	}
	if len(active) == 0 {
		return u, nil
	}

	for i := 0; i < o.problem.Len(); i++ {
		g := o.problem.Group(i)
		xi := residual(g, beta)

		zs := mat.NewDense(g.Rows(), len(active), nil)
		for c, j := range active {
			zs.SetCol(c, mat.Col(nil, j, g.Z))
		}

		// Λ⁻¹Zs and Λ⁻¹ξ through the noise factorization
		noise := g.NoiseFactor()
		var nz mat.Dense
		if err := noise.SolveTo(&nz, zs); err != nil {
			return nil, errors.Wrapf(ErrNumeric, "group %d: solve noise system: %v", i, err)
		}
		var nxi mat.VecDense
		if err := noise.SolveVecTo(&nxi, xi); err != nil {
			return nil, errors.Wrapf(ErrNumeric, "group %d: solve noise system: %v", i, err)
		}

		// (diag(1/γ) + ZsᵀΛ⁻¹Zs)·u = ZsᵀΛ⁻¹ξ
		var a mat.Dense
		a.Mul(zs.T(), &nz)
		for c, j := range active {
			a.Set(c, c, a.At(c, c)+1/gamma[j])
		}
		var rhs mat.VecDense
		rhs.MulVec(zs.T(), &nxi)

		var us mat.VecDense
		if err := us.SolveVec(&a, &rhs); err != nil {
			return nil, errors.Wrapf(ErrNumeric, "group %d: solve random effects: %v", i, err)
		}
		for c, j := range active {
			u.Set(i, j, us.AtVec(c))
		}
	}
	return u, nil
}

// Predict returns the fitted values X_i·β + Z_i·u_i for every group.
func (o *Oracle) Predict(beta, gamma []float64) ([]*mat.VecDense, error) {
	u, err := o.OptimalRandomEffects(beta, gamma)
	if err != nil {
		return nil, err
	}

	answers := make([]*mat.VecDense, o.problem.Len())
	b := mat.NewVecDense(len(beta), beta)
	for i := range answers {
		g := o.problem.Group(i)
		y := mat.NewVecDense(g.Rows(), nil)
		y.MulVec(g.X, b)
		if g.Z != nil {
			var zu mat.VecDense
			zu.MulVec(g.Z, u.RowView(i))
			y.AddVec(y, &zu)
		}
		answers[i] = y
	}
	return answers, nil
}

// solve returns x with a·x = b, treating any solver condition as a numeric failure.
func solve(a mat.Matrix, b *mat.VecDense) ([]float64, error) {
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, errors.Wrapf(ErrNumeric, "solve for beta: %v", err)
	}
	return toSlice(&x), nil
}

func toSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
