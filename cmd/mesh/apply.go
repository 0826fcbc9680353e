package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-mesh/internal/engine"
	"github.com/23skdu/longbow-mesh/internal/flight"
	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/mesh"
)

func applyCmd() *cli.Command {
	var (
		prompt      string
		tokens      string
		noBOS       bool
		lastOnly    bool
		tokenPolicy string
		flightAddr  string
	)

	flags := append(commonFlags(),
		&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "prompt text to encode", Destination: &prompt},
		&cli.StringFlag{Name: "tokens", Usage: "comma-separated token ids, bypasses the tokenizer", Destination: &tokens},
		&cli.BoolFlag{Name: "no-bos", Usage: "do not prepend the beginning-of-sequence token", Destination: &noBOS},
		&cli.BoolFlag{Name: "last-only", Usage: "return logits for the final position only", Destination: &lastOnly},
		&cli.StringFlag{Name: "token-policy", Usage: "sharding constraint for the input sequence", Value: "replicate", Destination: &tokenPolicy},
		&cli.StringFlag{Name: "flight", Usage: "host:port of an Arrow Flight collector to export logits to", Destination: &flightAddr},
	)

	return &cli.Command{
		Name:  "apply",
		Usage: "Run a direct forward pass and report raw logits",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}

			ids, err := resolveInput(rt, prompt, tokens, noBOS)
			if err != nil {
				return err
			}

			tp, err := mesh.ParsePolicy(tokenPolicy)
			if err != nil {
				return err
			}
			toks, err := mesh.Constrain(rt.mesh, ids, tp)
			if err != nil {
				return err
			}

			res, err := rt.eng.Apply(ctx, toks, engine.ApplyOptions{ReturnLastOnly: lastOnly})
			if err != nil {
				return err
			}

			fmt.Printf("sequence length %d, %d logits row(s) of %d\n",
				res.SeqLen, len(res.Logits), rt.spec.VocabSize)
			base := res.SeqLen - len(res.Logits)
			for i, row := range res.Logits {
				id, val := argmaxRow(row)
				fmt.Printf("pos %3d  argmax %6d %-12q  logit %8.4f\n",
					base+i, id, rt.tok.Tokens[id], val)
			}

			if flightAddr != "" {
				if err := exportLogits(ctx, flightAddr, base, res.Logits); err != nil {
					logger.Log.Error("flight export failed", "addr", flightAddr, "error", err)
				}
			}
			return nil
		},
	}
}

func resolveInput(rt *runtime, prompt, tokens string, noBOS bool) ([]int, error) {
	if tokens != "" {
		var ids []int
		for _, part := range strings.Split(tokens, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("token list: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	if prompt == "" {
		return nil, fmt.Errorf("one of --prompt or --tokens is required")
	}
	if noBOS {
		return rt.tok.Encode(prompt), nil
	}
	return rt.tok.EncodeBOS(prompt)
}

func argmaxRow(row []float32) (int, float32) {
	best, bestVal := 0, row[0]
	for i, v := range row {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

func exportLogits(ctx context.Context, addr string, base int, rows [][]float32) error {
	host, portStr, ok := strings.Cut(addr, ":")
	port := 0
	if ok {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("flight address %q: %w", addr, err)
		}
		port = p
	}

	exp := flight.NewExporter(host, port)
	if err := exp.Connect(ctx); err != nil {
		return err
	}
	defer exp.Close()

	steps := make([]int64, len(rows))
	for i := range steps {
		steps[i] = int64(base + i)
	}
	return exp.PublishLogits(ctx, steps, rows)
}
