package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/sampler"
)

func chatCmd() *cli.Command {
	var (
		prompt string
		echo   bool
	)

	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Required:    true,
			Destination: &prompt,
		},
		&cli.Float64Flag{Name: "temperature", Aliases: []string{"t"}, Usage: "sampling temperature, 0 means greedy"},
		&cli.IntFlag{Name: "max-tokens", Aliases: []string{"n"}, Usage: "generation cap"},
		&cli.IntFlag{Name: "seed", Usage: "sampling seed, 0 picks one"},
		&cli.BoolFlag{Name: "echo", Usage: "include the prompt in the output", Destination: &echo},
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Generate a completion for a prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}

			cfg := sampler.Config{
				Temperature: rt.cfg.Sampler.Temperature,
				TopK:        rt.cfg.Sampler.TopK,
				TopP:        rt.cfg.Sampler.TopP,
				MaxTokens:   rt.cfg.Sampler.MaxTokens,
				Seed:        rt.cfg.Sampler.Seed,
				Echo:        echo,
			}
			if cmd.IsSet("temperature") {
				cfg.Temperature = cmd.Float64("temperature")
			}
			if v := cmd.Int("max-tokens"); v != 0 {
				cfg.MaxTokens = v
			}
			if v := cmd.Int("seed"); v != 0 {
				cfg.Seed = int64(v)
			}

			out, err := sampler.New(rt.eng, rt.tok, cfg).Chat(ctx, prompt)
			if err != nil {
				return err
			}
			fmt.Println(out.Text)
			return nil
		},
	}
}
