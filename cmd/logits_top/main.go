package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/23skdu/longbow-mesh/internal/engine"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/model"
	"github.com/23skdu/longbow-mesh/internal/present"
	"github.com/23skdu/longbow-mesh/internal/tokenizer"
)

var (
	modelRef = flag.String("model", "", "GGUF path or store name")
	prompt   = flag.String("prompt", "The capital of France is", "prompt text")
	devices  = flag.Int("devices", 8, "mesh size")
	k        = flag.Int("k", 5, "candidates to print")
)

func main() {
	flag.Parse()
	if *modelRef == "" {
		log.Fatal("--model is required")
	}

	path, err := model.ResolvePath(*modelRef)
	if err != nil {
		log.Fatalf("resolving model: %v", err)
	}
	m, err := mesh.New(*devices)
	if err != nil {
		log.Fatal(err)
	}
	spec, params, err := model.Load(path, m, mesh.FSDP(mesh.DefaultFSDPMinSize))
	if err != nil {
		log.Fatalf("loading checkpoint: %v", err)
	}
	tok, err := tokenizer.New(path)
	if err != nil {
		log.Fatalf("loading tokenizer: %v", err)
	}

	ids, err := tok.EncodeBOS(*prompt)
	if err != nil {
		log.Fatal(err)
	}
	toks, err := mesh.Constrain(m, ids, mesh.Replicate())
	if err != nil {
		log.Fatal(err)
	}

	eng := engine.New(spec, params, m)
	res, err := eng.Apply(context.Background(), toks, engine.ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		log.Fatalf("forward pass: %v", err)
	}

	for _, c := range present.TopK(res.Logits[0], *k) {
		fmt.Printf("%6d  %-16q  %.4f\n", c.ID, present.DecodeToken(tok, c.ID), c.Prob)
	}
}
