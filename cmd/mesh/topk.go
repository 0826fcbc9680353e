package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/engine"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/present"
)

func topkCmd() *cli.Command {
	var (
		prompt string
		k      int
		width  int
	)

	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Required:    true,
			Destination: &prompt,
		},
		&cli.IntFlag{Name: "k", Usage: "number of candidates", Value: 10, Destination: &k},
		&cli.IntFlag{Name: "width", Usage: "bar width of probability 1", Value: 40, Destination: &width},
	)

	return &cli.Command{
		Name:  "topk",
		Usage: "Chart the most likely next tokens for a prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}

			ids, err := rt.tok.EncodeBOS(prompt)
			if err != nil {
				return err
			}
			toks, err := mesh.Constrain(rt.mesh, ids, mesh.Replicate())
			if err != nil {
				return err
			}

			res, err := rt.eng.Apply(ctx, toks, engine.ApplyOptions{ReturnLastOnly: true})
			if err != nil {
				return err
			}

			cands := present.TopK(res.Logits[0], k)
			fmt.Printf("next-token candidates for %q:\n", prompt)
			return present.BarChart(os.Stdout, rt.tok, cands, width)
		},
	}
}
