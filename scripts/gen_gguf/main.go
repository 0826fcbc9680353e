// Generates a tiny synthetic gemma3-shaped checkpoint for local smoke
// testing: mesh chat -m toy.gguf -p "ab".
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/23skdu/longbow-mesh/internal/gguf"
)

var (
	out    = flag.String("out", "toy.gguf", "output path")
	layers = flag.Int("layers", 2, "decoder layers")
	dim    = flag.Int("dim", 64, "embedding width")
)

func main() {
	flag.Parse()

	const (
		heads   = 2
		kvHeads = 1
		headDim = 16
	)
	hidden := 4 * *dim
	vocab := []string{"<pad>", "<bos>", "<eos>", "▁a", "▁b", "▁c", "a", "b", "c", "▁"}

	b := gguf.NewBuilder()
	b.SetKV("general.architecture", "gemma3")
	b.SetKV("gemma3.block_count", uint32(*layers))
	b.SetKV("gemma3.embedding_length", uint32(*dim))
	b.SetKV("gemma3.feed_forward_length", uint32(hidden))
	b.SetKV("gemma3.attention.head_count", uint32(heads))
	b.SetKV("gemma3.attention.head_count_kv", uint32(kvHeads))
	b.SetKV("gemma3.attention.key_length", uint32(headDim))
	b.SetKV("gemma3.context_length", uint32(128))
	b.SetKV("tokenizer.ggml.tokens", vocab)
	b.SetKV("tokenizer.ggml.bos_token_id", uint32(1))
	b.SetKV("tokenizer.ggml.eos_token_id", uint32(2))
	b.SetKV("tokenizer.ggml.unknown_token_id", uint32(0))

	seed := uint32(1)
	fill := func(n int) []float32 {
		data := make([]float32, n)
		for i := range data {
			seed = seed*1664525 + 1013904223
			data[i] = (float32(seed>>16)/65536.0 - 0.5) * 0.1
		}
		return data
	}
	add := func(name string, dims ...int) {
		n := 1
		u := make([]uint64, len(dims))
		for i, d := range dims {
			n *= d
			u[i] = uint64(d)
		}
		b.AddTensor(name, u, fill(n))
	}

	add("token_embd.weight", *dim, len(vocab))
	add("output_norm.weight", *dim)
	for l := 0; l < *layers; l++ {
		blk := fmt.Sprintf("blk.%d.", l)
		add(blk+"attn_norm.weight", *dim)
		add(blk+"attn_q.weight", *dim, heads*headDim)
		add(blk+"attn_k.weight", *dim, kvHeads*headDim)
		add(blk+"attn_v.weight", *dim, kvHeads*headDim)
		add(blk+"attn_output.weight", heads*headDim, *dim)
		add(blk+"ffn_norm.weight", *dim)
		add(blk+"ffn_gate.weight", *dim, hidden)
		add(blk+"ffn_up.weight", *dim, hidden)
		add(blk+"ffn_down.weight", hidden, *dim)
	}

	if err := b.WriteFile(*out); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d layers, dim %d, vocab %d)", *out, *layers, *dim, len(vocab))
}
