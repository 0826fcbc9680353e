package main

import (
	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/config"
	"github.com/23skdu/longbow-mesh/internal/engine"
	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/model"
	"github.com/23skdu/longbow-mesh/internal/tokenizer"
)

// runtime is everything a subcommand needs after the checkpoint is placed
// on the mesh.
type runtime struct {
	cfg    *config.Config
	mesh   *mesh.Mesh
	spec   *model.Spec
	params *model.Params
	eng    *engine.Engine
	tok    *tokenizer.Tokenizer
}

// commonFlags are shared by every model-loading subcommand. Flag values
// override the config file, which overrides defaults.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config file"},
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "GGUF path or store name like gemma3:270m"},
		&cli.IntFlag{Name: "devices", Usage: "device mesh size"},
		&cli.StringFlag{Name: "policy", Usage: "placement policy: replicate, fsdp, shard0, shard1"},
		&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn, error"},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cmd.String("model"); v != "" {
		cfg.Model.Checkpoint = v
	}
	if v := cmd.Int("devices"); v != 0 {
		cfg.Model.Devices = v
	}
	if v := cmd.String("policy"); v != "" {
		cfg.Model.Policy = v
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func loadRuntime(cmd *cli.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	path, err := model.ResolvePath(cfg.Model.Checkpoint)
	if err != nil {
		return nil, err
	}

	m, err := mesh.New(cfg.Model.Devices)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.MeshPolicy()
	if err != nil {
		return nil, err
	}

	spec, params, err := model.Load(path, m, policy)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.New(path)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		mesh:   m,
		spec:   spec,
		params: params,
		eng:    engine.New(spec, params, m),
		tok:    tok,
	}, nil
}
