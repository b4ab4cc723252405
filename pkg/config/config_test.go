package config

import (
	"os"
	"path/filepath"
	"testing"

	"metareg/pkg/registration"
)

// TestDefaultConfigMatchesEngineDefaults checks the YAML defaults mirror the engine's
func TestDefaultConfigMatchesEngineDefaults(t *testing.T) {
	got := DefaultConfig().RegistrationParams()
	want := registration.DefaultParams()
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Expected default parameters to be valid, got %v", err)
	}
}

// TestLoadMissingFileReturnsDefaults checks an absent file is not an error
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Registration.NumberOfTimeSteps != 4 {
		t.Errorf("Expected default time steps 4, got %d", cfg.Registration.NumberOfTimeSteps)
	}
}

// TestPartialFileKeepsDefaults checks keys absent from the file keep their defaults
func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := "registration:\n  sigma: 0.25\n  useBias: true\noutput:\n  metricsAddr: \":9100\"\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p := cfg.RegistrationParams()
	if p.Sigma != 0.25 || !p.UseBias {
		t.Errorf("Expected sigma 0.25 with bias, got %v %v", p.Sigma, p.UseBias)
	}
	if p.Mu != 10 || p.NumberOfIterations != 100 {
		t.Errorf("Expected defaults for unset keys, got mu %v iterations %d", p.Mu, p.NumberOfIterations)
	}
	if cfg.Output.MetricsAddr != ":9100" {
		t.Errorf("Expected metrics address :9100, got %q", cfg.Output.MetricsAddr)
	}
}

// TestSaveAndLoad checks a saved configuration loads back unchanged
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Registration.Gamma = 2.5
	cfg.Input.Spacing = []float64{0.5, 0.5, 2}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if loaded.Registration.Gamma != 2.5 {
		t.Errorf("Expected gamma 2.5, got %v", loaded.Registration.Gamma)
	}
	if len(loaded.Input.Spacing) != 3 || loaded.Input.Spacing[2] != 2 {
		t.Errorf("Expected spacing [0.5 0.5 2], got %v", loaded.Input.Spacing)
	}
}

// TestInvalidYAML checks parse errors are reported
func TestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("registration: [unclosed"), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected a parse error")
	}
}
