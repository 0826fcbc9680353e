package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-mesh/internal/gguf"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/model"
)

const (
	tLayers  = 2
	tDim     = 8
	tHidden  = 16
	tHeads   = 2
	tKVHeads = 1
	tHeadDim = 4
	tVocab   = 8
	tSeqLen  = 16
)

// noise fills a tensor with small deterministic pseudo-random values so the
// forward pass has no accidental symmetry.
func noise(seed uint32, n int) []float32 {
	out := make([]float32, n)
	s := seed
	for i := range out {
		s = s*1664525 + 1013904223
		out[i] = (float32(s>>16)/65536.0 - 0.5) * 0.2
	}
	return out
}

func buildCheckpoint(t *testing.T) string {
	t.Helper()
	qDim := tHeads * tHeadDim
	kvDim := tKVHeads * tHeadDim

	b := gguf.NewBuilder()
	b.SetKV("general.architecture", "gemma3")
	b.SetKV("gemma3.block_count", uint32(tLayers))
	b.SetKV("gemma3.embedding_length", uint32(tDim))
	b.SetKV("gemma3.feed_forward_length", uint32(tHidden))
	b.SetKV("gemma3.attention.head_count", uint32(tHeads))
	b.SetKV("gemma3.attention.head_count_kv", uint32(tKVHeads))
	b.SetKV("gemma3.attention.key_length", uint32(tHeadDim))
	b.SetKV("gemma3.context_length", uint32(tSeqLen))
	b.SetKV("tokenizer.ggml.tokens", []string{"<pad>", "<bos>", "<eos>", "a", "b", "c", "d", "e"})
	b.SetKV("tokenizer.ggml.bos_token_id", uint32(1))
	b.SetKV("tokenizer.ggml.eos_token_id", uint32(2))

	seed := uint32(7)
	add := func(name string, dims []uint64) {
		n := 1
		for _, d := range dims {
			n *= int(d)
		}
		seed++
		b.AddTensor(name, dims, noise(seed, n))
	}

	add("token_embd.weight", []uint64{tDim, tVocab})
	add("output_norm.weight", []uint64{tDim})
	for l := 0; l < tLayers; l++ {
		blk := "blk." + string(rune('0'+l)) + "."
		add(blk+"attn_norm.weight", []uint64{tDim})
		add(blk+"attn_q.weight", []uint64{tDim, uint64(qDim)})
		add(blk+"attn_k.weight", []uint64{tDim, uint64(kvDim)})
		add(blk+"attn_v.weight", []uint64{tDim, uint64(kvDim)})
		add(blk+"attn_output.weight", []uint64{uint64(qDim), tDim})
		add(blk+"ffn_norm.weight", []uint64{tDim})
		add(blk+"ffn_gate.weight", []uint64{tDim, tHidden})
		add(blk+"ffn_up.weight", []uint64{tDim, tHidden})
		add(blk+"ffn_down.weight", []uint64{tHidden, tDim})
	}

	path := filepath.Join(t.TempDir(), "engine.gguf")
	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, devices int, p mesh.Policy) (*Engine, *mesh.Mesh) {
	t.Helper()
	m, err := mesh.New(devices)
	if err != nil {
		t.Fatal(err)
	}
	spec, params, err := model.Load(buildCheckpoint(t), m, p)
	if err != nil {
		t.Fatalf("loading checkpoint: %v", err)
	}
	return New(spec, params, m), m
}

func TestApplyShapes(t *testing.T) {
	e, m := newTestEngine(t, 1, mesh.Replicate())
	toks, err := mesh.Constrain(m, []int{1, 3, 4, 5}, mesh.Replicate())
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Apply(context.Background(), toks, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SeqLen != 4 || len(res.Logits) != 4 {
		t.Fatalf("expected 4 positions, got seq=%d logits=%d", res.SeqLen, len(res.Logits))
	}
	for i, row := range res.Logits {
		if len(row) != tVocab {
			t.Errorf("position %d: %d logits, want %d", i, len(row), tVocab)
		}
	}

	last, err := e.Apply(context.Background(), toks, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Logits) != 1 {
		t.Fatalf("ReturnLastOnly: got %d rows", len(last.Logits))
	}
	for i := range last.Logits[0] {
		if last.Logits[0][i] != res.Logits[3][i] {
			t.Fatalf("last-only logits differ from full pass at %d", i)
		}
	}
}

func TestApplyDeterministic(t *testing.T) {
	e, m := newTestEngine(t, 1, mesh.Replicate())
	toks, _ := mesh.Constrain(m, []int{1, 3, 4}, mesh.Replicate())

	a, err := e.Apply(context.Background(), toks, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Apply(context.Background(), toks, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Logits[0] {
		if a.Logits[0][i] != b.Logits[0][i] {
			t.Fatalf("repeated pass differs at %d: %f vs %f", i, a.Logits[0][i], b.Logits[0][i])
		}
	}
}

// Sharding is an implementation arrangement; the numbers must come out the
// same regardless of placement.
func TestShardingPreservesLogits(t *testing.T) {
	ref, mr := newTestEngine(t, 1, mesh.Replicate())
	rt, _ := mesh.Constrain(mr, []int{1, 3, 5}, mesh.Replicate())
	want, err := ref.Apply(context.Background(), rt, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []mesh.Policy{mesh.ShardDim(0), mesh.ShardDim(1), mesh.FSDP(1)} {
		e, m := newTestEngine(t, 4, p)
		toks, _ := mesh.Constrain(m, []int{1, 3, 5}, mesh.Replicate())
		got, err := e.Apply(context.Background(), toks, ApplyOptions{ReturnLastOnly: true})
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		for i := range want.Logits[0] {
			d := math.Abs(float64(want.Logits[0][i] - got.Logits[0][i]))
			if d > 1e-4 {
				t.Errorf("%s: logit %d differs by %g", p, i, d)
			}
		}
	}
}

func TestStepMatchesApply(t *testing.T) {
	e, m := newTestEngine(t, 2, mesh.ShardDim(0))
	ids := []int{1, 4, 6}

	var step []float32
	for _, id := range ids {
		var err error
		step, err = e.Step(id)
		if err != nil {
			t.Fatal(err)
		}
	}
	if e.Pos() != len(ids) {
		t.Fatalf("Pos = %d, want %d", e.Pos(), len(ids))
	}

	toks, _ := mesh.Constrain(m, ids, mesh.Replicate())
	res, err := e.Apply(context.Background(), toks, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	for i := range step {
		if step[i] != res.Logits[0][i] {
			t.Fatalf("incremental and batch logits differ at %d", i)
		}
	}

	e.Reset()
	if e.Pos() != 0 {
		t.Errorf("Pos after Reset = %d", e.Pos())
	}
}

func TestPrefixChangesLogits(t *testing.T) {
	e, m := newTestEngine(t, 1, mesh.Replicate())

	with, _ := mesh.Constrain(m, []int{1, 3}, mesh.Replicate())
	without, _ := mesh.Constrain(m, []int{3}, mesh.Replicate())

	a, err := e.Apply(context.Background(), with, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Apply(context.Background(), without, ApplyOptions{ReturnLastOnly: true})
	if err != nil {
		t.Fatal(err)
	}

	same := true
	for i := range a.Logits[0] {
		if a.Logits[0][i] != b.Logits[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("logits identical with and without a prefix token")
	}
}

func TestApplyErrors(t *testing.T) {
	e, m := newTestEngine(t, 1, mesh.Replicate())

	if _, err := e.Apply(context.Background(), &mesh.Tokens{Axis: -1}, ApplyOptions{}); err == nil {
		t.Error("expected error for empty sequence")
	}

	toks, _ := mesh.Constrain(m, []int{99}, mesh.Replicate())
	if _, err := e.Apply(context.Background(), toks, ApplyOptions{}); err == nil {
		t.Error("expected error for out-of-vocabulary token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	good, _ := mesh.Constrain(m, []int{1, 3}, mesh.Replicate())
	if _, err := e.Apply(ctx, good, ApplyOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestContextLengthExceeded(t *testing.T) {
	e, _ := newTestEngine(t, 1, mesh.Replicate())
	for i := 0; i < tSeqLen; i++ {
		if _, err := e.Step(3); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if _, err := e.Step(3); err == nil {
		t.Error("expected context length error")
	}
}
