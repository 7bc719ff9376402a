package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Scaler.IsigmaCutoff != 1.0 {
		t.Errorf("Scaler.IsigmaCutoff = %v, want 1.0", cfg.Scaler.IsigmaCutoff)
	}
	if cfg.Scaler.CellTolerance != 0.10 {
		t.Errorf("Scaler.CellTolerance = %v, want 0.10", cfg.Scaler.CellTolerance)
	}
	if cfg.Scaler.SmartScaling {
		t.Error("Scaler.SmartScaling should be false by default")
	}
	if cfg.Scaler.Quick {
		t.Error("Scaler.Quick should be false by default")
	}
	if cfg.Scaler.MaxWorkers != 4 {
		t.Errorf("Scaler.MaxWorkers = %d, want 4", cfg.Scaler.MaxWorkers)
	}
	if cfg.Engines.Scale.Command != "xscale-scale" {
		t.Errorf("Engines.Scale.Command = %q, want %q", cfg.Engines.Scale.Command, "xscale-scale")
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		if got, want := ConfigDir(), filepath.Join("/tmp/xdg", "xscale"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("config file lives in config dir", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		if got, want := ConfigFile(), filepath.Join("/tmp/xdg", "xscale", "config.yaml"); got != want {
			t.Errorf("ConfigFile() = %q, want %q", got, want)
		}
	})
}

func TestLoad_UsesViperDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("scaler.quick", true)
	viper.Set("scaler.spacegroup", "P43212")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Scaler.Quick {
		t.Error("Scaler.Quick = false, want true")
	}
	if cfg.Scaler.Spacegroup != "P43212" {
		t.Errorf("Scaler.Spacegroup = %q, want %q", cfg.Scaler.Spacegroup, "P43212")
	}
	if cfg.Engines.Merge.Command != "xscale-merge" {
		t.Errorf("Engines.Merge.Command = %q, want default", cfg.Engines.Merge.Command)
	}
}

func TestLoad_InvalidFallsBackInGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("scaler.max_workers", 0)

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected validation error for max_workers=0")
	}
	if got := Get(); got.Scaler.MaxWorkers != 4 {
		t.Errorf("Get() MaxWorkers = %d, want default 4", got.Scaler.MaxWorkers)
	}
}

func TestScalerConfig_ResolutionOverride(t *testing.T) {
	s := ScalerConfig{
		ResolutionOverrides: map[string]float64{
			"native*": 1.8,
			"peak":    2.4,
			"n*":      3.0,
		},
	}

	tests := []struct {
		dataset string
		want    float64
		found   bool
	}{
		{"NATIVE", 3.0, true}, // "n*" sorts before "native*"
		{"PEAK", 2.4, true},
		{"peak", 2.4, true},
		{"INFL", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.dataset, func(t *testing.T) {
			got, found := s.ResolutionOverride(tt.dataset)
			if found != tt.found || got != tt.want {
				t.Errorf("ResolutionOverride(%q) = (%v, %v), want (%v, %v)", tt.dataset, got, found, tt.want, tt.found)
			}
		})
	}

	empty := ScalerConfig{}
	if _, found := empty.ResolutionOverride("NATIVE"); found {
		t.Error("ResolutionOverride() on empty overrides should not match")
	}
}
