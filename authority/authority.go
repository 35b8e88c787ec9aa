// Package authority implements the CA hierarchy builder, the credential
// issuer and the proxy registry of the credential core.
package authority

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/infisical/cacore/authority/config"
	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/kms"
	"github.com/infisical/cacore/logging"
)

// Authority builds and serves the instance and per-organization CA
// hierarchies and mints short-lived proxy credentials from them.
type Authority struct {
	config *config.Config
	db     db.DB
	kms    kms.Service
	logger *logging.Logger
	meter  Meter

	// buildGroup serializes concurrent first-time hierarchy builds per
	// scope within this process. The store's insert-if-absent covers
	// racing processes.
	buildGroup singleflight.Group
}

// Option customizes an Authority.
type Option func(*Authority)

// WithLogger sets the logger used by the authority.
func WithLogger(l *logging.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// WithMeter sets the metrics callback implementation.
func WithMeter(m Meter) Option {
	return func(a *Authority) { a.meter = m }
}

// New returns an Authority backed by the given store and envelope crypto
// service.
func New(cfg *config.Config, store db.DB, kmsSvc kms.Service, opts ...Option) (*Authority, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.Init()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("authority requires a database")
	}
	if kmsSvc == nil {
		return nil, errors.New("authority requires a kms service")
	}

	a := &Authority{
		config: cfg,
		db:     store,
		kms:    kmsSvc,
		logger: logging.Nop(),
		meter:  noopMeter{},
	}
	for _, fn := range opts {
		fn(a)
	}
	return a, nil
}

// Config returns the authority configuration.
func (a *Authority) Config() *config.Config {
	return a.config
}
