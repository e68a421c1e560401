package oracle

import (
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-lme-oracle/problem"
)

type cacheState int

const (
	cacheEmpty cacheState = iota
	cacheValid
	cacheStale
)

func (s cacheState) String() string {
	switch s {
	case cacheValid:
		return "valid"
	case cacheStale:
		return "stale"
	default:
		return "empty"
	}
}

// factor holds Ω_i = L_i·L_iᵀ for one group
type factor struct {
	l    *mat.TriDense // lower Cholesky factor
	lInv *mat.TriDense // inverse of l, lower triangular
}

// choleskyCache owns the per-group factorizations of Ω_i and is the only
// place that decides whether they must be recomputed.
type choleskyCache struct {
	problem   *problem.Problem
	logger    *slog.Logger
	state     cacheState
	gamma     []float64 // γ the factors were built with, valid only in cacheValid
	factors   []factor
	refreshes int
}

func newCholeskyCache(p *problem.Problem, logger *slog.Logger) *choleskyCache {
	return &choleskyCache{
		problem: p,
		logger:  logger,
		state:   cacheEmpty,
	}
}

// ensure makes the factors correspond to gamma. Factors are rebuilt for all
// groups or for none: on failure the cache is left stale.
func (c *choleskyCache) ensure(gamma []float64) error {
	if c.state == cacheValid && floats.Equal(c.gamma, gamma) {
		return nil
	}
	c.state = cacheStale

	factors := make([]factor, c.problem.Len())
	for i := range factors {
		f, err := factorize(c.problem.Group(i), gamma)
		if err != nil {
			return errors.Wrapf(err, "group %d", i)
		}
		factors[i] = f
	}

	c.factors = factors
	c.gamma = append(c.gamma[:0], gamma...)
	c.state = cacheValid
	c.refreshes++
	c.logger.Debug("cholesky cache refreshed",
		"groups", len(factors),
		"random_effects", len(gamma),
		"refreshes", c.refreshes)
	return nil
}

// invalidate forces the next ensure to refactorize.
func (c *choleskyCache) invalidate() {
	if c.state == cacheValid {
		c.state = cacheStale
	}
}

// omega forms Z·diag(γ)·Zᵀ + Λ for a group.
func omega(g problem.Group, gamma []float64) *mat.SymDense {
	om := mat.NewSymDense(g.Rows(), nil)
	om.CopySym(g.Noise)
	for j, v := range gamma {
		if v == 0 {
			continue
		}
		om.SymRankOne(om, v, g.Z.ColView(j))
	}
	return om
}

func factorize(g problem.Group, gamma []float64) (factor, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(omega(g, gamma)); !ok {
		return factor{}, errors.Wrap(ErrNumeric, "covariance is not positive definite")
	}

	var l mat.TriDense
	chol.LTo(&l)

	var lInv mat.TriDense
	if err := lInv.InverseTri(&l); err != nil {
		return factor{}, errors.Wrapf(ErrNumeric, "invert cholesky factor: %v", err)
	}
	return factor{l: &l, lInv: &lInv}, nil
}
