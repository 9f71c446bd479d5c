// Package config defines the structures to configure the switch units of a host and applies
// them to a FIFO registry and an address decoder.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"go.viam.com/switchbus/addr"
	"go.viam.com/switchbus/fifo"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/utils"
)

// DefaultMaxUnits is the number of unit slots when a config does not set one.
const DefaultMaxUnits = 16

// Config describes every switch unit of a host.
type Config struct {
	LogLevel *logging.Level `json:"log_level,omitempty"`
	Debug    bool           `json:"debug,omitempty"`
	MaxUnits int            `json:"max_units,omitempty"`
	Units    []UnitConfig   `json:"units"`
	Bypass   []BypassConfig `json:"bypass,omitempty"`
}

// UnitConfig describes one logical unit.
type UnitConfig struct {
	Unit int         `json:"unit"`
	FIFO *FIFOConfig `json:"fifo,omitempty"`
}

// FIFOConfig selects and configures the FIFO backend of a unit.
type FIFOConfig struct {
	Model      string             `json:"model"`
	MaxPolls   uint32             `json:"max_polls,omitempty"`
	Flags      []string           `json:"flags,omitempty"`
	Attributes utils.AttributeMap `json:"attributes,omitempty"`
}

// BypassConfig is an address range of a unit that is never sent to the bus.
type BypassConfig struct {
	Unit int `json:"unit"`
	addr.Range
}

// Ensure fills in defaults and ensures all parts of the config are valid.
func (c *Config) Ensure() error {
	if c.MaxUnits == 0 {
		c.MaxUnits = DefaultMaxUnits
	}
	if c.MaxUnits < 0 {
		return goutils.NewConfigValidationError("max_units", errors.Errorf("must be positive, got %d", c.MaxUnits))
	}
	if c.Debug {
		level := logging.DEBUG
		c.LogLevel = &level
	}

	for idx := range c.Units {
		if err := c.Units[idx].Validate(fmt.Sprintf("%s.%d", "units", idx), c.MaxUnits); err != nil {
			return err
		}
	}
	dups := lo.FindDuplicatesBy(c.Units, func(u UnitConfig) int { return u.Unit })
	if len(dups) != 0 {
		return goutils.NewConfigValidationError("units", errors.Errorf("unit %d is configured more than once", dups[0].Unit))
	}

	for idx := range c.Bypass {
		if err := c.Bypass[idx].Validate(fmt.Sprintf("%s.%d", "bypass", idx), c.MaxUnits); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (u *UnitConfig) Validate(path string, maxUnits int) error {
	if u.Unit < 0 || u.Unit >= maxUnits {
		return goutils.NewConfigValidationError(path, errors.Errorf("unit %d out of range [0, %d)", u.Unit, maxUnits))
	}
	if u.FIFO != nil {
		return u.FIFO.Validate(path + ".fifo")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (f *FIFOConfig) Validate(path string) error {
	if f.Model == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "model")
	}
	if _, err := fifo.ParseInitFlags(f.Flags); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// InitFlags returns the parsed flags.
func (f *FIFOConfig) InitFlags() fifo.InitFlags {
	flags, err := fifo.ParseInitFlags(f.Flags)
	if err != nil {
		return 0
	}
	return flags
}

// PollLimit returns MaxPolls or the FIFO default.
func (f *FIFOConfig) PollLimit() uint32 {
	if f.MaxPolls == 0 {
		return fifo.DefaultMaxPolls
	}
	return f.MaxPolls
}

// Validate ensures all parts of the config are valid.
func (b *BypassConfig) Validate(path string, maxUnits int) error {
	if b.Unit < 0 || b.Unit >= maxUnits {
		return goutils.NewConfigValidationError(path, errors.Errorf("unit %d out of range [0, %d)", b.Unit, maxUnits))
	}
	return b.Range.Validate(path)
}
