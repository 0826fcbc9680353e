package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/23skdu/longbow-mesh/internal/model"
	"github.com/23skdu/longbow-mesh/internal/tokenizer"
)

var (
	modelRef = flag.String("model", "", "GGUF path or store name")
	id       = flag.Int("id", 0, "token id to decode")
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
	tok, err := tokenizer.New(path)
	if err != nil {
		log.Fatalf("loading tokenizer: %v", err)
	}

	if *id < 0 || *id >= tok.VocabSize() {
		log.Fatalf("token id %d outside vocabulary [0, %d)", *id, tok.VocabSize())
	}
	fmt.Printf("token %d: raw %q decoded %q\n", *id, tok.Tokens[*id], tok.Decode([]int{*id}))
}
