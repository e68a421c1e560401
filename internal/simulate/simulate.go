// Package simulate draws grouped datasets from a known linear mixed-effects
// model, for tests and demonstrations.
package simulate

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-lme-oracle/problem"
)

// Params describes the model to sample from.
type Params struct {
	// GroupSizes holds the number of observations of every group.
	GroupSizes []int
	// Labels classifies the feature columns. An intercept column is always
	// prepended: Paired when RandomIntercept is set, Fixed otherwise.
	Labels          []problem.Label
	RandomIntercept bool
	// Beta and Gamma are the true fixed effects and random-effect variances,
	// intercept first.
	Beta  []float64
	Gamma []float64
	// ObsStd is the standard deviation of the observation noise.
	ObsStd float64
	Seed   uint64
}

// Truth holds the parameters the data was drawn with.
type Truth struct {
	Beta          []float64
	Gamma         []float64
	RandomEffects *mat.Dense // one row per group, nil without random effects
}

// Generate draws a problem from the model described by params.
func Generate(params Params) (*problem.Problem, Truth, error) {
	interceptLabel := problem.Fixed
	if params.RandomIntercept {
		interceptLabel = problem.Paired
	}
	labels := append([]problem.Label{interceptLabel}, params.Labels...)

	nFixed, nRandom := 0, 0
	for _, l := range labels {
		switch l {
		case problem.Fixed:
			nFixed++
		case problem.Random:
			nRandom++
		case problem.Paired:
			nFixed++
			nRandom++
		}
	}
	if len(params.Beta) != nFixed {
		return nil, Truth{}, &problem.ShapeError{Expected: nFixed, Got: len(params.Beta), Type: "true beta"}
	}
	if len(params.Gamma) != nRandom {
		return nil, Truth{}, &problem.ShapeError{Expected: nRandom, Got: len(params.Gamma), Type: "true gamma"}
	}
	for j, g := range params.Gamma {
		if g < 0 {
			return nil, Truth{}, errors.Wrapf(problem.ErrUsage, "true gamma[%d] is negative", j)
		}
	}
	if params.ObsStd <= 0 {
		return nil, Truth{}, errors.Wrapf(problem.ErrUsage, "observation std must be positive, got %g", params.ObsStd)
	}
	if len(params.GroupSizes) == 0 {
		return nil, Truth{}, &problem.ShapeError{Expected: 1, Got: 0, Type: "groups"}
	}

	src := rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15)
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: params.ObsStd, Src: src}

	truth := Truth{
		Beta:  append([]float64(nil), params.Beta...),
		Gamma: append([]float64(nil), params.Gamma...),
	}
	if nRandom > 0 {
		truth.RandomEffects = mat.NewDense(len(params.GroupSizes), nRandom, nil)
	}

	groups := make([]problem.Group, len(params.GroupSizes))
	for i, rows := range params.GroupSizes {
		if rows <= 0 {
			return nil, Truth{}, errors.Wrapf(problem.ErrUsage, "group %d has no observations", i)
		}
		x := mat.NewDense(rows, nFixed, nil)
		var z *mat.Dense
		if nRandom > 0 {
			z = mat.NewDense(rows, nRandom, nil)
		}

		for r := 0; r < rows; r++ {
			fc, rc := 0, 0
			for c, l := range labels {
				v := 1.0
				if c > 0 {
					v = unit.Rand()
				}
				switch l {
				case problem.Fixed:
					x.Set(r, fc, v)
					fc++
				case problem.Random:
					z.Set(r, rc, v)
					rc++
				case problem.Paired:
					x.Set(r, fc, v)
					z.Set(r, rc, v)
					fc++
					rc++
				}
			}
		}

		y := mat.NewVecDense(rows, nil)
		y.MulVec(x, mat.NewVecDense(nFixed, params.Beta))
		if nRandom > 0 {
			u := make([]float64, nRandom)
			for j := range u {
				u[j] = math.Sqrt(params.Gamma[j]) * unit.Rand()
			}
			truth.RandomEffects.SetRow(i, u)
			var zu mat.VecDense
			zu.MulVec(z, mat.NewVecDense(nRandom, u))
			y.AddVec(y, &zu)
		}
		variances := make([]float64, rows)
		for r := range variances {
			y.SetVec(r, y.AtVec(r)+noise.Rand())
			variances[r] = params.ObsStd * params.ObsStd
		}

		groups[i] = problem.Group{
			X:     x,
			Y:     y,
			Z:     z,
			Noise: problem.NewDiagonalNoise(variances),
		}
	}

	p, err := problem.New(groups, labels)
	if err != nil {
		return nil, Truth{}, err
	}
	return p, truth, nil
}
