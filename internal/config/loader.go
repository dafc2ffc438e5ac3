package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// keyDelim separates nested koanf keys. Map keys in the file (log package
// patterns, criticality entries) contain dots and slashes.
const keyDelim = "::"

// defaultsProvider feeds Default() into koanf so that the config file only
// needs the keys it changes.
type defaultsProvider struct {
	data []byte
}

func newDefaultsProvider() (*defaultsProvider, error) {
	data, err := yamlv3.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	return &defaultsProvider{data: data}, nil
}

// ReadBytes implements koanf.Provider.
func (p *defaultsProvider) ReadBytes() ([]byte, error) {
	return p.data, nil
}

// Read implements koanf.Provider.
func (p *defaultsProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("defaults provider does not support Read()")
}

// Load reads the node configuration from a YAML file using Koanf, layering it
// over Default(), and validates the result.
//
// Error cases:
//   - File not found or cannot be read
//   - Invalid YAML syntax or a value of the wrong type
//   - Validation failure
func Load(path string) (*Config, error) {
	k := koanf.New(keyDelim)

	defaults, err := newDefaultsProvider()
	if err != nil {
		return nil, err
	}
	if err := k.Load(defaults, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}
