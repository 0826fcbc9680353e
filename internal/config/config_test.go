package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.Devices != 8 {
		t.Errorf("devices = %d", cfg.Model.Devices)
	}
	if _, err := cfg.MeshPolicy(); err != nil {
		t.Errorf("default policy does not parse: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.toml")
	body := `
[model]
checkpoint = "gemma3:270m"
devices = 4
policy = "shard0"

[sampler]
temperature = 0.7
max_tokens = 64

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.Checkpoint != "gemma3:270m" || cfg.Model.Devices != 4 {
		t.Errorf("model section not applied: %+v", cfg.Model)
	}
	if cfg.Sampler.Temperature != 0.7 || cfg.Sampler.MaxTokens != 64 {
		t.Errorf("sampler section not applied: %+v", cfg.Sampler)
	}
	// unset fields keep defaults
	if cfg.Sampler.TopK != 40 {
		t.Errorf("top_k default lost: %d", cfg.Sampler.TopK)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MESH_DEVICES", "2")
	t.Setenv("MESH_POLICY", "replicate")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.Devices != 2 {
		t.Errorf("devices = %d", cfg.Model.Devices)
	}
	if cfg.Model.Policy != "replicate" {
		t.Errorf("policy = %q", cfg.Model.Policy)
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Model.Devices = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero devices")
	}

	cfg = Default()
	cfg.Model.Policy = "diagonal"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown policy")
	}

	cfg = Default()
	cfg.Sampler.MaxTokens = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_tokens")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
