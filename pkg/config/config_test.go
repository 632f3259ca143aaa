package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/flicker/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flicker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
runtime:
  outputs: 2
  fps: 60
camera:
  attempts: 5
  timeout: 2s
watch:
  debounce: 250ms
metrics:
  addr: 127.0.0.1:9100
defaults:
  osc:
    frequency: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset keys keep their default")
	assert.Equal(t, 2, cfg.Runtime.Outputs)
	assert.Equal(t, 60, cfg.Runtime.FPS)
	assert.Equal(t, 640, cfg.Runtime.Width)
	assert.Equal(t, 5, cfg.Camera.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Camera.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, 20.0, cfg.Defaults["osc"]["frequency"])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"level", "log:\n  level: loud\n", "Level"},
		{"format", "log:\n  format: xml\n", "Format"},
		{"outputs", "runtime:\n  outputs: 0\n", "Outputs"},
		{"attempts", "camera:\n  attempts: 0\n", "Attempts"},
		{"metrics addr", "metrics:\n  addr: not an address\n", "Addr"},
		{"yaml", "log: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func testDecls() []runtime.Declaration {
	return []runtime.Declaration{
		{Name: "osc", Type: "src", Inputs: []runtime.Input{
			{Name: "frequency", Default: 60.0},
			{Name: "sync", Default: 0.1},
		}},
		{Name: "blend", Type: "combine", Inputs: []runtime.Input{
			{Name: "tex"},
			{Name: "amount", Default: 0.5},
		}},
	}
}

func TestOverrides(t *testing.T) {
	cfg := Default()
	assert.Nil(t, must(cfg.Overrides(testDecls())))

	cfg.Defaults = map[string]map[string]float64{
		"osc":   {"frequency": 20},
		"blend": {"amount": 0.9},
	}
	specs, err := cfg.Overrides(testDecls())
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "blend", specs[0].Name)
	assert.Equal(t, []any{0.9}, specs[0].Defaults())
	assert.Equal(t, "osc", specs[1].Name)
	assert.Equal(t, []any{20.0, 0.1}, specs[1].Defaults())
}

func TestOverrides_Unknown(t *testing.T) {
	cfg := Default()
	cfg.Defaults = map[string]map[string]float64{"nope": {"x": 1}}
	_, err := cfg.Overrides(testDecls())
	assert.ErrorContains(t, err, `unknown operation "nope"`)

	cfg.Defaults = map[string]map[string]float64{"osc": {"speed": 1}}
	_, err = cfg.Overrides(testDecls())
	assert.ErrorContains(t, err, `no parameter "speed"`)

	cfg.Defaults = map[string]map[string]float64{"out": {}}
	_, err = cfg.Overrides(testDecls())
	assert.ErrorContains(t, err, "unknown operation")
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
