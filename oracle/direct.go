package oracle

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

// Direct evaluates the functional by inverting every Ω_i densely on each
// call. It keeps no state and is meant as a reference for Oracle; the
// Hessian is not available on this path.
type Direct struct {
	problem *problem.Problem
}

// NewDirect creates a direct evaluator for the given problem.
func NewDirect(p *problem.Problem) *Direct {
	return &Direct{problem: p}
}

// inverse returns Ω⁻¹ and log det Ω for group i.
func (d *Direct) inverse(i int, gamma []float64) (*mat.Dense, float64, error) {
	om := omega(d.problem.Group(i), gamma)

	logDet, sign := mat.LogDet(om)
	if sign <= 0 {
		return nil, 0, errors.Wrapf(ErrNumeric, "group %d: covariance is not positive definite", i)
	}
	var inv mat.Dense
	if err := inv.Inverse(om); err != nil {
		return nil, 0, errors.Wrapf(ErrNumeric, "group %d: invert covariance: %v", i, err)
	}
	return &inv, logDet, nil
}

func (d *Direct) check(beta, gamma []float64) error {
	if err := checkLen(beta, d.problem.NumFixed(), "beta"); err != nil {
		return err
	}
	return checkLen(gamma, d.problem.NumRandom(), "gamma")
}

// Loss returns ℒ(β, γ).
func (d *Direct) Loss(beta, gamma []float64) (float64, error) {
	if err := d.check(beta, gamma); err != nil {
		return 0, err
	}

	result := 0.0
	for i := 0; i < d.problem.Len(); i++ {
		inv, logDet, err := d.inverse(i, gamma)
		if err != nil {
			return 0, err
		}
		xi := residual(d.problem.Group(i), beta)
		result += 0.5*mat.Inner(xi, inv, xi) + 0.5*logDet
	}
	return result, nil
}

// GradientGamma returns ∇_γ ℒ(β, γ).
func (d *Direct) GradientGamma(beta, gamma []float64) ([]float64, error) {
	if err := d.check(beta, gamma); err != nil {
		return nil, err
	}

	k := d.problem.NumRandom()
	grad := make([]float64, k)
	if k == 0 {
		return grad, nil
	}
	for i := 0; i < d.problem.Len(); i++ {
		g := d.problem.Group(i)
		inv, _, err := d.inverse(i, gamma)
		if err != nil {
			return nil, err
		}
		xi := residual(g, beta)
		for j := 0; j < k; j++ {
			z := g.Z.ColView(j)
			data := mat.Inner(z, inv, xi)
			grad[j] += 0.5*mat.Inner(z, inv, z) - 0.5*data*data
		}
	}
	return grad, nil
}

// HessianGamma is not implemented on the direct path.
func (d *Direct) HessianGamma(beta, gamma []float64) (*mat.SymDense, error) {
	return nil, errors.Wrap(ErrUnsupported, "hessian on the direct path")
}

// OptimalBeta returns the β minimizing ℒ(·, γ).
func (d *Direct) OptimalBeta(gamma []float64) ([]float64, error) {
	if err := checkLen(gamma, d.problem.NumRandom(), "gamma"); err != nil {
		return nil, err
	}

	n := d.problem.NumFixed()
	kernel := mat.NewDense(n, n, nil)
	tail := mat.NewVecDense(n, nil)
	for i := 0; i < d.problem.Len(); i++ {
		g := d.problem.Group(i)
		inv, _, err := d.inverse(i, gamma)
		if err != nil {
			return nil, err
		}
		var xtInv mat.Dense
		xtInv.Mul(g.X.T(), inv)

		var xx mat.Dense
		xx.Mul(&xtInv, g.X)
		kernel.Add(kernel, &xx)

		var xy mat.VecDense
		xy.MulVec(&xtInv, g.Y)
		tail.AddVec(tail, &xy)
	}
	return solve(kernel, tail)
}
