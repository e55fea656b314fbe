// Package config holds errsnoop's runtime configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jnesss/errsnoop/stack"
)

// Config is loaded from an optional YAML file and then overridden by
// command line flags.
type Config struct {
	// Verbose: 1 shows filtered frames and addresses, 2 adds debug
	// logging, 3 adds trace logging.
	Verbose int `yaml:"verbose"`
	// Symbolize: 1 adds source lines, 2 adds inlined call sites.
	Symbolize int `yaml:"symbolize"`

	VmlinuxPath string `yaml:"vmlinux"`
	ObjectPath  string `yaml:"bpf_object"`

	Presets []string `yaml:"presets"`
	Entry   []string `yaml:"entry"`
	Allow   []string `yaml:"allow"`
	Deny    []string `yaml:"deny"`

	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`

	PollTimeout     time.Duration `yaml:"poll_timeout"`
	SymbolCacheSize int           `yaml:"symbol_cache_size"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		ObjectPath:      "bpf/errsnoop.bpf.o",
		PollTimeout:     100 * time.Millisecond,
		SymbolCacheSize: 4096,
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Validate checks that the config describes something to trace.
func (c *Config) Validate() error {
	if len(c.Entry)+len(c.Presets) == 0 {
		return errors.New("no entry point globs specified, provide entry glob(s) ('-e GLOB') and/or any preset ('-p PRESET')")
	}
	for _, name := range c.Presets {
		if _, ok := GetPreset(name); !ok {
			return errors.Errorf("unknown preset %q", name)
		}
	}
	if c.PollTimeout <= 0 {
		return errors.Errorf("poll timeout must be positive, got %v", c.PollTimeout)
	}
	if c.SymbolCacheSize <= 0 {
		return errors.Errorf("symbol cache size must be positive, got %d", c.SymbolCacheSize)
	}
	return nil
}

// Globs merges presets and explicit globs. Entry globs are also allowed.
func (c *Config) Globs() (entry, allow, deny []string) {
	for _, name := range c.Presets {
		p, _ := GetPreset(name)
		entry = append(entry, p.Entry...)
		allow = append(allow, p.Allow...)
		deny = append(deny, p.Deny...)
	}
	entry = append(entry, c.Entry...)
	allow = append(allow, c.Allow...)
	deny = append(deny, c.Deny...)
	return entry, allow, deny
}

// Options returns the switches consumed by the stack pipeline.
func (c *Config) Options() stack.Options {
	return stack.Options{
		Verbose: c.Verbose >= 1,
		Debug:   c.Verbose >= 2,
	}
}

// SymbolizeLines reports whether source lines are requested.
func (c *Config) SymbolizeLines() bool {
	return c.Symbolize >= 1
}

// SymbolizeInlines reports whether inlined call sites are requested.
func (c *Config) SymbolizeInlines() bool {
	return c.Symbolize >= 2
}
