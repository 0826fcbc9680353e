// Package config holds the runtime configuration for the inference mesh,
// read from a TOML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/23skdu/longbow-mesh/internal/mesh"
)

type Config struct {
	Model   ModelConfig   `toml:"model"`
	Sampler SamplerConfig `toml:"sampler"`
	Log     LogConfig     `toml:"log"`
	Serve   ServeConfig   `toml:"serve"`
}

type ModelConfig struct {
	// Checkpoint is a GGUF path or a local-store name like "gemma3:270m".
	Checkpoint string `toml:"checkpoint"`
	Devices    int    `toml:"devices"`
	// Policy is one of replicate, fsdp, shard0, shard1.
	Policy string `toml:"policy"`
}

type SamplerConfig struct {
	Temperature float64 `toml:"temperature"`
	TopK        int     `toml:"top_k"`
	TopP        float64 `toml:"top_p"`
	MaxTokens   int     `toml:"max_tokens"`
	Seed        int64   `toml:"seed"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServeConfig struct {
	Addr       string `toml:"addr"`
	SessionTTL string `toml:"session_ttl"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Devices: 8,
			Policy:  "fsdp",
		},
		Sampler: SamplerConfig{
			Temperature: 0,
			TopK:        40,
			TopP:        0.95,
			MaxTokens:   256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Serve: ServeConfig{
			Addr:       ":8080",
			SessionTTL: "10m",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MESH_CHECKPOINT"); v != "" {
		c.Model.Checkpoint = v
	}
	if v := os.Getenv("MESH_DEVICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Model.Devices = n
		}
	}
	if v := os.Getenv("MESH_POLICY"); v != "" {
		c.Model.Policy = v
	}
	if v := os.Getenv("MESH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MESH_ADDR"); v != "" {
		c.Serve.Addr = v
	}
}

func (c *Config) Validate() error {
	if c.Model.Devices <= 0 {
		return fmt.Errorf("invalid devices: %d (must be positive)", c.Model.Devices)
	}
	if _, err := mesh.ParsePolicy(c.Model.Policy); err != nil {
		return err
	}
	if c.Sampler.Temperature < 0 {
		return fmt.Errorf("invalid temperature: %f", c.Sampler.Temperature)
	}
	if c.Sampler.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d", c.Sampler.MaxTokens)
	}
	return nil
}

// MeshPolicy resolves the configured placement policy.
func (c *Config) MeshPolicy() (mesh.Policy, error) {
	return mesh.ParsePolicy(c.Model.Policy)
}
