// Package problem holds the immutable grouped dataset a linear mixed-effects
// model is fit to.
//
// The model for group i is
//
//	Y_i = X_i·β + Z_i·u_i + ε_i,   u_i ~ N(0, diag(γ)),   ε_i ~ N(0, Λ_i)
//
// and a Problem stores (X_i, Y_i, Z_i, Λ_i) for every group together with the
// column labels that pair fixed-effect columns with random-effect columns.
package problem

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Label classifies a column of the full design matrix.
type Label int

const (
	// Ignored columns take no part in the model (group ids, noise columns).
	Ignored Label = iota
	// Fixed columns carry a fixed effect only.
	Fixed
	// Random columns carry a random effect only.
	Random
	// Paired columns carry a fixed effect and a random effect with the same design.
	Paired
)

func (l Label) String() string {
	switch l {
	case Fixed:
		return "fixed"
	case Random:
		return "random"
	case Paired:
		return "paired"
	default:
		return "ignored"
	}
}

// Group holds the data of one cluster of correlated observations.
type Group struct {
	X     *mat.Dense    // fixed-effect design (rows x n)
	Y     *mat.VecDense // response (rows)
	Z     *mat.Dense    // random-effect design (rows x k), nil when k == 0
	Noise *mat.SymDense // observation noise covariance Λ (rows x rows)

	noiseChol *mat.Cholesky
}

// Rows returns the number of observations in the group.
func (g Group) Rows() int {
	return g.Y.Len()
}

// NoiseFactor returns the Cholesky factorization of the noise covariance.
// It is only set on groups obtained from a Problem.
func (g Group) NoiseFactor() *mat.Cholesky {
	return g.noiseChol
}

// Problem is an ordered, validated sequence of groups. It is never mutated
// after New returns.
type Problem struct {
	groups      []Group
	labels      []Label
	nFixed      int
	nRandom     int
	nObs        int
	betaToGamma []int
}

// NewDiagonalNoise builds a diagonal noise covariance from per-observation variances.
func NewDiagonalNoise(variances []float64) *mat.SymDense {
	n := len(variances)
	noise := mat.NewSymDense(n, nil)
	for i, v := range variances {
		noise.SetSym(i, i, v)
	}
	return noise
}

// New validates the groups against each other and against the column labels
// and returns a Problem holding private copies of all matrices.
func New(groups []Group, labels []Label) (*Problem, error) {
	if len(groups) == 0 {
		return nil, &ShapeError{Expected: 1, Got: 0, Type: "groups"}
	}
	if groups[0].X == nil {
		return nil, errors.Wrap(ErrUsage, "group 0: fixed-effect design is nil")
	}
	_, n := groups[0].X.Dims()
	k := 0
	if groups[0].Z != nil {
		_, k = groups[0].Z.Dims()
	}

	p := &Problem{
		groups:  make([]Group, len(groups)),
		labels:  append([]Label(nil), labels...),
		nFixed:  n,
		nRandom: k,
	}

	for i, g := range groups {
		if err := validateGroup(g, n, k); err != nil {
			return nil, errors.Wrapf(err, "group %d", i)
		}
		rows := g.Y.Len()
		c := Group{
			X:     mat.DenseCopyOf(g.X),
			Y:     mat.VecDenseCopyOf(g.Y),
			Noise: mat.NewSymDense(rows, nil),
		}
		if k > 0 {
			c.Z = mat.DenseCopyOf(g.Z)
		}
		c.Noise.CopySym(g.Noise)

		var chol mat.Cholesky
		if ok := chol.Factorize(c.Noise); !ok {
			return nil, errors.Wrapf(ErrNumeric, "group %d: noise covariance is not positive definite", i)
		}
		c.noiseChol = &chol

		p.groups[i] = c
		p.nObs += rows
	}

	m, err := betaToGammaMap(labels, n, k)
	if err != nil {
		return nil, err
	}
	p.betaToGamma = m
	return p, nil
}

func validateGroup(g Group, n, k int) error {
	if g.X == nil || g.Y == nil || g.Noise == nil {
		return errors.Wrap(ErrUsage, "X, Y and Noise are required")
	}
	rows, cols := g.X.Dims()
	if cols != n {
		return &ShapeError{Expected: n, Got: cols, Type: "fixed-effect columns"}
	}
	if g.Y.Len() != rows {
		return &ShapeError{Expected: rows, Got: g.Y.Len(), Type: "response"}
	}
	if k == 0 {
		if g.Z != nil {
			_, zc := g.Z.Dims()
			return &ShapeError{Expected: 0, Got: zc, Type: "random-effect columns"}
		}
	} else {
		if g.Z == nil {
			return &ShapeError{Expected: k, Got: 0, Type: "random-effect columns"}
		}
		zr, zc := g.Z.Dims()
		if zc != k {
			return &ShapeError{Expected: k, Got: zc, Type: "random-effect columns"}
		}
		if zr != rows {
			return &ShapeError{Expected: rows, Got: zr, Type: "random-effect rows"}
		}
	}
	if s := g.Noise.SymmetricDim(); s != rows {
		return &ShapeError{Expected: rows, Got: s, Type: "noise covariance"}
	}
	return nil
}

// betaToGammaMap walks the labels in column order and records, for every
// fixed-effect index, the random-effect index sharing its column or -1.
func betaToGammaMap(labels []Label, n, k int) ([]int, error) {
	m := make([]int, 0, n)
	gammaCounter := 0
	for _, l := range labels {
		switch l {
		case Fixed:
			m = append(m, -1)
		case Random:
			gammaCounter++
		case Paired:
			m = append(m, gammaCounter)
			gammaCounter++
		}
	}
	if len(m) != n {
		return nil, &ShapeError{Expected: n, Got: len(m), Type: "fixed-effect labels"}
	}
	if gammaCounter != k {
		return nil, &ShapeError{Expected: k, Got: gammaCounter, Type: "random-effect labels"}
	}
	return m, nil
}

// Len returns the number of groups.
func (p *Problem) Len() int { return len(p.groups) }

// Group returns the i-th group.
func (p *Problem) Group(i int) Group { return p.groups[i] }

// NumFixed returns n, the number of fixed effects.
func (p *Problem) NumFixed() int { return p.nFixed }

// NumRandom returns k, the number of random effects.
func (p *Problem) NumRandom() int { return p.nRandom }

// Observations returns the total number of rows across groups.
func (p *Problem) Observations() int { return p.nObs }

// Labels returns a copy of the column labels.
func (p *Problem) Labels() []Label {
	return append([]Label(nil), p.labels...)
}

// BetaToGamma returns a copy of the fixed-to-random index map: entry j is
// the random-effect index paired with fixed effect j, or -1.
func (p *Problem) BetaToGamma() []int {
	return append([]int(nil), p.betaToGamma...)
}
