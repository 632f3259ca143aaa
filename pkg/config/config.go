// Package config loads flicker's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chazu/flicker/pkg/camera"
	"github.com/chazu/flicker/pkg/runtime"
	"github.com/chazu/flicker/pkg/transform"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Camera  camera.Policy `yaml:"camera"`
	Watch   WatchConfig   `yaml:"watch"`
	Lisp    LispConfig    `yaml:"lisp"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Defaults overrides parameter defaults per operation, e.g.
	// {osc: {frequency: 20}}.
	Defaults map[string]map[string]float64 `yaml:"defaults,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type RuntimeConfig struct {
	Outputs int `yaml:"outputs" validate:"min=1,max=16"`
	Sources int `yaml:"sources" validate:"min=0,max=16"`
	FPS     int `yaml:"fps" validate:"min=1,max=240"`
	Width   int `yaml:"width" validate:"min=1,max=8192"`
	Height  int `yaml:"height" validate:"min=1,max=8192"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

type LispConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Runtime: RuntimeConfig{Outputs: 4, Sources: 4, FPS: 30, Width: 640, Height: 360},
		Camera:  camera.DefaultPolicy(),
		Watch:   WatchConfig{Debounce: 100 * time.Millisecond},
		Lisp:    LispConfig{Timeout: 5 * time.Second},
	}
}

var validate = validator.New()

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: %v failed %s", fe.Namespace(), fe.Value(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Overrides turns Defaults into registry overrides against decls. Unknown
// operations and parameters are errors.
func (c Config) Overrides(decls []runtime.Declaration) ([]transform.Spec, error) {
	if len(c.Defaults) == 0 {
		return nil, nil
	}
	base, err := transform.New(decls)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(c.Defaults))
	for name := range c.Defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []transform.Spec
	for _, name := range names {
		spec, ok := base.Lookup(name)
		if !ok || spec.Synthetic {
			return nil, fmt.Errorf("defaults: unknown operation %q", name)
		}
		params := make([]transform.Param, len(spec.Params))
		copy(params, spec.Params)
		for key, v := range c.Defaults[name] {
			i := paramIndex(params, key)
			if i < 0 {
				return nil, fmt.Errorf("defaults: %s has no parameter %q", name, key)
			}
			params[i].Default = v
		}
		spec.Params = params
		out = append(out, spec)
	}
	return out, nil
}

func paramIndex(params []transform.Param, name string) int {
	for i, p := range params {
		if p.Name == name {
			return i
		}
	}
	return -1
}
