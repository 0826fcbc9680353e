package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/mesh"
)

func inspectCmd() *cli.Command {
	var showLayers bool

	flags := append(commonFlags(),
		&cli.BoolFlag{Name: "layers", Usage: "list per-layer tensor placements", Destination: &showLayers},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show checkpoint geometry and mesh placement",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			s := rt.spec

			fmt.Printf("architecture  %s\n", s.Architecture)
			fmt.Printf("layers        %d\n", s.Layers)
			fmt.Printf("dim           %d (hidden %d)\n", s.Dim, s.HiddenDim)
			fmt.Printf("heads         %d (kv %d, head dim %d)\n", s.Heads, s.KVHeads, s.HeadDim)
			fmt.Printf("vocab         %d\n", s.VocabSize)
			fmt.Printf("context       %d\n", s.SeqLen)
			fmt.Printf("mesh          %s, policy %s\n", rt.mesh, rt.cfg.Model.Policy)
			fmt.Println()

			total := 0
			report := func(t *mesh.Sharded) {
				total += t.SizeBytes()
				if showLayers {
					fmt.Printf("  %-28s %s  %s\n", t.Name, t, byteSize(t.SizeBytes()))
				}
			}

			report(rt.params.TokenEmb)
			report(rt.params.OutputNorm)
			for l := range rt.params.Layers {
				lp := &rt.params.Layers[l]
				for _, t := range []*mesh.Sharded{
					lp.AttnNorm, lp.AttnQ, lp.AttnK, lp.AttnV, lp.AttnO,
					lp.FfnNorm, lp.FfnGate, lp.FfnUp, lp.FfnDown,
				} {
					report(t)
				}
			}
			if rt.params.Output != rt.params.TokenEmb {
				report(rt.params.Output)
			} else if showLayers {
				fmt.Printf("  %-28s tied to token_embd.weight\n", "output.weight")
			}

			fmt.Printf("\ntotal parameter bytes on mesh: %s\n", byteSize(total))
			return nil
		},
	}
}

func byteSize(n int) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
