package oracle

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

// pair links a fixed effect to the random effect sharing its column
type pair struct {
	beta  int
	gamma int
}

// DropPenalty replaces the uniform weights of Regularized with drop
// penalties: per-coordinate estimates of how much the loss grows when the
// coordinate is forced to zero. The same penalties weight the quadratic
// shrinkage and rank the coordinates kept by OptimalTBeta and OptimalTGamma.
type DropPenalty struct {
	reg     *Regularized
	refresh PenaltyRefresh
	logger  *slog.Logger
	pairs   []pair

	// (β, γ) the penalties were computed at
	beta  []float64
	gamma []float64

	penaltyBeta  []float64
	penaltyGamma []float64
	recomputes   int
}

// NewDropPenalty creates a drop-penalty oracle for the given problem.
func NewDropPenalty(p *problem.Problem, options ...Option) (*DropPenalty, error) {
	s := newSettings(options)
	if err := s.validate(); err != nil {
		return nil, err
	}

	d := &DropPenalty{
		reg:     newRegularized(p, s),
		refresh: s.refresh,
		logger:  s.logger,
	}
	for b, g := range p.BetaToGamma() {
		if g >= 0 {
			d.pairs = append(d.pairs, pair{beta: b, gamma: g})
		}
	}
	return d, nil
}

// Base returns the wrapped unregularized oracle.
func (d *DropPenalty) Base() *Oracle { return d.reg.base }

// DropPenalties returns copies of the current penalty vectors. ok is false
// until the penalties have been computed once.
func (d *DropPenalty) DropPenalties() (beta, gamma []float64, ok bool) {
	if d.penaltyBeta == nil {
		return nil, nil, false
	}
	return append([]float64(nil), d.penaltyBeta...), append([]float64(nil), d.penaltyGamma...), true
}

// PenaltyRecomputes returns how many times the penalties have been computed.
func (d *DropPenalty) PenaltyRecomputes() int { return d.recomputes }

// Loss returns ℒ(β, γ) + lb/2·Σ dβ_j(β_j - tβ_j)² + lg/2·Σ dγ_j(γ_j - tγ_j)².
func (d *DropPenalty) Loss(beta, gamma, tbeta, tgamma []float64) (float64, error) {
	if err := d.penaltiesFor(beta, gamma, false); err != nil {
		return 0, err
	}
	return d.reg.loss(beta, gamma, tbeta, tgamma, d.penaltyBeta, d.penaltyGamma)
}

// GradientGamma returns ∇_γ ℒ(β, γ) + lg·dγ∘(γ - tγ).
func (d *DropPenalty) GradientGamma(beta, gamma, tgamma []float64) ([]float64, error) {
	if err := d.penaltiesFor(beta, gamma, false); err != nil {
		return nil, err
	}
	return d.reg.gradientGamma(beta, gamma, tgamma, d.penaltyGamma)
}

// HessianGamma returns ∇²_γ ℒ(β, γ) + lg·diag(dγ).
func (d *DropPenalty) HessianGamma(beta, gamma []float64) (*mat.SymDense, error) {
	if err := d.penaltiesFor(beta, gamma, false); err != nil {
		return nil, err
	}
	return d.reg.hessianGamma(beta, gamma, d.penaltyGamma)
}

// OptimalBeta returns β solving (kernel + lb·diag(dβ))·β = tail + lb·dβ∘tβ.
// When beta is nil the last computed penalties are used; if there are none
// ErrPenaltiesUninitialized is returned.
func (d *DropPenalty) OptimalBeta(gamma, tbeta, beta []float64) ([]float64, error) {
	if beta != nil {
		if err := d.penaltiesFor(beta, gamma, false); err != nil {
			return nil, err
		}
	} else if d.penaltyBeta == nil {
		return nil, ErrPenaltiesUninitialized
	}
	return d.reg.optimalBeta(gamma, tbeta, d.penaltyBeta)
}

// OptimalTBeta keeps the k_β entries of β with the largest |dβ_j·β_j|.
func (d *DropPenalty) OptimalTBeta(beta, gamma []float64) ([]float64, error) {
	if err := d.penaltiesFor(beta, gamma, true); err != nil {
		return nil, err
	}
	score := make([]float64, len(beta))
	floats.MulTo(score, d.penaltyBeta, beta)
	return takeTopK(beta, score, d.reg.nnzBeta), nil
}

// OptimalTGamma applies the pairing rule of Regularized.OptimalTGamma, then
// keeps the k_γ survivors with the largest |dγ_j·γ_j|.
func (d *DropPenalty) OptimalTGamma(tbeta, beta, gamma []float64) ([]float64, error) {
	if err := d.penaltiesFor(beta, gamma, true); err != nil {
		return nil, err
	}
	candidates, err := d.reg.candidateGamma(tbeta, gamma)
	if err != nil {
		return nil, err
	}
	score := make([]float64, len(candidates))
	floats.MulTo(score, d.penaltyGamma, candidates)
	return takeTopK(candidates, score, d.reg.nnzGamma), nil
}

// OptimalRandomEffects returns the posterior means of the random effects.
func (d *DropPenalty) OptimalRandomEffects(beta, gamma []float64) (*mat.Dense, error) {
	return d.reg.base.OptimalRandomEffects(beta, gamma)
}

// Predict returns the fitted values of every group.
func (d *DropPenalty) Predict(beta, gamma []float64) ([]*mat.VecDense, error) {
	return d.reg.base.Predict(beta, gamma)
}

// penaltiesFor makes the penalties available for (β, γ) according to the
// refresh policy. Selection steps always require penalties matching (β, γ).
func (d *DropPenalty) penaltiesFor(beta, gamma []float64, selecting bool) error {
	if err := d.reg.base.checkBeta(beta); err != nil {
		return err
	}
	if err := d.reg.base.checkGamma(gamma); err != nil {
		return err
	}
	if d.penaltyBeta != nil {
		if !selecting && d.refresh == RefreshOnSelection {
			return nil
		}
		if floats.Equal(d.beta, beta) && floats.Equal(d.gamma, gamma) {
			return nil
		}
	}
	return d.recompute(beta, gamma)
}

// recompute evaluates the drop penalties at (β, γ). For group i with
// ξ = Y - Xβ and the cached L⁻¹:
//
//	h_j = ‖L⁻¹z_j‖²,  g_j = (z_jᵀΩ⁻¹ξ)²
//	dγ_j = -½ Σ_i [-γ_j·g_j/(1 - γ_j·h_j) + log(1 + γ_j·h_j/(1 - γ_j·h_j))]
//
// dβ_j collects the change of the quadratic term when β_j is zeroed and, for
// paired columns, the same γ term evaluated at the residual with β_j removed.
func (d *DropPenalty) recompute(beta, gamma []float64) error {
	base := d.reg.base
	if err := base.cache.ensure(gamma); err != nil {
		return err
	}

	n := base.problem.NumFixed()
	k := base.problem.NumRandom()
	pb := make([]float64, n)
	pg := make([]float64, k)

	for i := 0; i < base.problem.Len(); i++ {
		g := base.problem.Group(i)
		lInv := base.cache.factors[i].lInv
		lxi := base.whitenedResidual(i, beta)

		var lx mat.Dense
		lx.Mul(lInv, g.X)
		var lxTlxi mat.VecDense
		lxTlxi.MulVec(lx.T(), lxi)

		// drop price of each β on its own
		for b := 0; b < n; b++ {
			col := lx.ColView(b)
			pb[b] += -2*beta[b]*lxTlxi.AtVec(b) - beta[b]*beta[b]*mat.Dot(col, col)
		}

		if k == 0 {
			continue
		}

		var lz mat.Dense
		lz.Mul(lInv, g.Z)
		var lzTlxi mat.VecDense
		lzTlxi.MulVec(lz.T(), lxi)

		h1 := make([]float64, k)
		for j := 0; j < k; j++ {
			col := lz.ColView(j)
			h1[j] = mat.Dot(col, col)
			proj := lzTlxi.AtVec(j)
			pg[j] += gammaDropTerm(gamma[j], proj*proj, h1[j])
		}

		// drop price of the γ paired with a dropped β
		for _, pr := range d.pairs {
			g2 := lzTlxi.AtVec(pr.gamma) + beta[pr.beta]*mat.Dot(lx.ColView(pr.beta), lz.ColView(pr.gamma))
			pb[pr.beta] += gammaDropTerm(gamma[pr.gamma], g2*g2, h1[pr.gamma])
		}
	}

	floats.Scale(-0.5, pb)
	floats.Scale(-0.5, pg)
	if !allFinite(pb) || !allFinite(pg) {
		return errors.Wrap(ErrNumeric, "drop penalties are not finite")
	}

	d.penaltyBeta = pb
	d.penaltyGamma = pg
	d.beta = append(d.beta[:0], beta...)
	d.gamma = append(d.gamma[:0], gamma...)
	d.recomputes++
	d.logger.Debug("drop penalties recomputed",
		"fixed_effects", n,
		"random_effects", k,
		"recomputes", d.recomputes)
	return nil
}

func gammaDropTerm(gamma, g, h float64) float64 {
	gh := gamma * h
	return -gamma*g/(1-gh) + math.Log(1+gh/(1-gh))
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
