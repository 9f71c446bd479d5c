package config

import (
	"io"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// FromYAML parses and validates a config. JSON is accepted as well, being a subset of YAML.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config")
	}
	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrap(err, "failed to process Config")
	}
	return &cfg, nil
}

// FromReader reads a config from the given reader.
func FromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Config")
	}
	return FromYAML(data)
}
