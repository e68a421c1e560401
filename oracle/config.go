package oracle

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-lme-oracle/problem"
)

// Regularization names the sparse oracle variant.
type Regularization string

const (
	// RegularizationL2 selects Regularized.
	RegularizationL2 Regularization = "l2"
	// RegularizationLossWeighted selects DropPenalty.
	RegularizationLossWeighted Regularization = "loss-weighted"
)

// Config describes a sparse oracle. It is the file form of the functional
// options and is read once; the oracle it builds never changes it.
type Config struct {
	Regularization Regularization `yaml:"regularization"`
	LambdaBeta     float64        `yaml:"lambda_beta"`
	LambdaGamma    float64        `yaml:"lambda_gamma"`
	NNZBeta        int            `yaml:"nnz_beta"`
	NNZGamma       int            `yaml:"nnz_gamma"`
	PenaltyRefresh PenaltyRefresh `yaml:"penalty_refresh"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Regularization: RegularizationL2,
		LambdaBeta:     DefaultLambdaBeta,
		LambdaGamma:    DefaultLambdaGamma,
		NNZBeta:        DefaultNNZBeta,
		NNZGamma:       DefaultNNZGamma,
		PenaltyRefresh: RefreshOnChange,
	}
}

// LoadConfig decodes a YAML configuration on top of DefaultConfig. Unknown
// keys are rejected. An empty document yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrapf(ErrUsage, "decode oracle config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration without building an oracle.
func (c Config) Validate() error {
	switch c.Regularization {
	case RegularizationL2, RegularizationLossWeighted:
	default:
		return errors.Wrapf(ErrUsage, "unknown regularization %q", c.Regularization)
	}
	return newSettings(c.Options()).validate()
}

// Options converts the configuration to functional options.
func (c Config) Options() []Option {
	return []Option{
		WithLambdaBeta(c.LambdaBeta),
		WithLambdaGamma(c.LambdaGamma),
		WithNNZBeta(c.NNZBeta),
		WithNNZGamma(c.NNZGamma),
		WithPenaltyRefresh(c.PenaltyRefresh),
	}
}

// NewSparse builds the sparse oracle named by cfg.Regularization. Extra
// options are applied after the configuration.
func NewSparse(p *problem.Problem, cfg Config, options ...Option) (SparseFunctional, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := append(cfg.Options(), options...)
	if cfg.Regularization == RegularizationLossWeighted {
		d, err := NewDropPenalty(p, opts...)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	r, err := NewRegularized(p, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}
