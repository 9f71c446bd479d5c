package config

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/switchbus/addr"
	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/logging"
)

// NewRegistry returns a FIFO registry with the configured number of unit slots.
func (c *Config) NewRegistry(logger logging.Logger, opts ...fifo.RegistryOption) *fifo.Registry {
	return fifo.NewRegistry(c.MaxUnits, logger, opts...)
}

// Apply brings a registry and an address decoder in line with cfg. Bypass ranges of the decoder
// are replaced. Every unit with a FIFO is attached with its backend model, built from the unit's
// entry in deps, and initialized. A failing unit does not keep the others from being applied; all
// failures are returned together.
func Apply(
	ctx context.Context,
	cfg *Config,
	reg *fifo.Registry,
	decoder *addr.CMICx,
	deps map[int]fifo.Dependencies,
	logger logging.Logger,
) error {
	if cfg.LogLevel != nil {
		logger.SetLevel(*cfg.LogLevel)
	}

	var err error
	if decoder != nil {
		for unit := 0; unit < cfg.MaxUnits; unit++ {
			decoder.ClearBypass(unit)
		}
		for _, b := range cfg.Bypass {
			err = multierr.Combine(err, decoder.AddBypass(b.Unit, b.Range))
		}
	}

	for _, u := range cfg.Units {
		if u.FIFO == nil {
			continue
		}
		if attachErr := reg.AttachModel(ctx, u.Unit, u.FIFO.Model, deps[u.Unit], u.FIFO.Attributes); attachErr != nil {
			err = multierr.Combine(err, errors.Wrapf(attachErr, "unit %d", u.Unit))
			continue
		}
		if initErr := reg.Init(ctx, u.Unit, u.FIFO.PollLimit(), u.FIFO.InitFlags()); initErr != nil {
			err = multierr.Combine(err, errors.Wrapf(initErr, "unit %d", u.Unit))
			continue
		}
		logger.CDebugw(ctx, "unit configured", "unit", u.Unit, "model", u.FIFO.Model, "flags", u.FIFO.InitFlags().String())
	}
	return err
}
