package oracle

import (
	"log/slog"

	"github.com/pkg/errors"
)

// PenaltyRefresh selects when the drop-penalty oracle recomputes its penalties.
type PenaltyRefresh string

const (
	// RefreshOnChange recomputes whenever a method receives a (β, γ) pair
	// different from the one the penalties were computed at.
	RefreshOnChange PenaltyRefresh = "on-change"

	// RefreshOnSelection recomputes only in OptimalTBeta and OptimalTGamma.
	// Loss, gradient and Hessian reuse the last penalties, which keeps the
	// penalized objective fixed between two selection steps.
	RefreshOnSelection PenaltyRefresh = "on-selection"
)

// Defaults for the sparse oracles.
const (
	DefaultLambdaBeta  = 0.1
	DefaultLambdaGamma = 0.1
	DefaultNNZBeta     = 3
	DefaultNNZGamma    = 3
)

type settings struct {
	logger      *slog.Logger
	lambdaBeta  float64
	lambdaGamma float64
	nnzBeta     int
	nnzGamma    int
	refresh     PenaltyRefresh
}

func newSettings(options []Option) settings {
	s := settings{
		logger:      slog.Default(),
		lambdaBeta:  DefaultLambdaBeta,
		lambdaGamma: DefaultLambdaGamma,
		nnzBeta:     DefaultNNZBeta,
		nnzGamma:    DefaultNNZGamma,
		refresh:     RefreshOnChange,
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

func (s settings) validate() error {
	if s.lambdaBeta < 0 {
		return errors.Wrapf(ErrUsage, "lambda beta must be non-negative, got %g", s.lambdaBeta)
	}
	if s.lambdaGamma < 0 {
		return errors.Wrapf(ErrUsage, "lambda gamma must be non-negative, got %g", s.lambdaGamma)
	}
	if s.nnzBeta < 0 {
		return errors.Wrapf(ErrUsage, "nnz beta must be non-negative, got %d", s.nnzBeta)
	}
	if s.nnzGamma < 0 {
		return errors.Wrapf(ErrUsage, "nnz gamma must be non-negative, got %d", s.nnzGamma)
	}
	switch s.refresh {
	case RefreshOnChange, RefreshOnSelection:
	default:
		return errors.Wrapf(ErrUsage, "unknown penalty refresh policy %q", s.refresh)
	}
	return nil
}

// Option is a function type for configuring the oracles
type Option func(*settings)

// WithLogger sets the logger used for cache and penalty refresh records
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLambdaBeta sets lb, the inverse-variance weight of ‖β - tβ‖²
func WithLambdaBeta(lb float64) Option {
	return func(s *settings) {
		s.lambdaBeta = lb
	}
}

// WithLambdaGamma sets lg, the inverse-variance weight of ‖γ - tγ‖²
func WithLambdaGamma(lg float64) Option {
	return func(s *settings) {
		s.lambdaGamma = lg
	}
}

// WithNNZBeta sets k_β, the number of non-zero entries allowed in tβ
func WithNNZBeta(k int) Option {
	return func(s *settings) {
		s.nnzBeta = k
	}
}

// WithNNZGamma sets k_γ, the number of non-zero entries allowed in tγ
func WithNNZGamma(k int) Option {
	return func(s *settings) {
		s.nnzGamma = k
	}
}

// WithPenaltyRefresh sets the drop-penalty refresh policy
func WithPenaltyRefresh(policy PenaltyRefresh) Option {
	return func(s *settings) {
		s.refresh = policy
	}
}
