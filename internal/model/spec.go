package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/23skdu/longbow-mesh/internal/gguf"
)

// Spec describes one pretrained architecture/size variant. Immutable once
// built; the loader cross-checks every checkpoint tensor against it.
type Spec struct {
	Name         string
	Architecture string

	Layers    int
	Dim       int
	HiddenDim int
	Heads     int
	KVHeads   int
	HeadDim   int
	VocabSize int
	SeqLen    int

	Eps       float32
	RopeTheta float32

	// EmbScale multiplies the embedding lookup (sqrt(dim) for gemma).
	EmbScale float32
}

// Variant is the subset of a Spec that identifies a published model size.
type Variant struct {
	Name   string
	Layers int
	Dim    int
	Heads  int
}

// Known gemma3 text variants, by loose name ("gemma3:1b", "gemma3-1b", "1b").
var variants = []Variant{
	{Name: "270m", Layers: 18, Dim: 640, Heads: 4},
	{Name: "1b", Layers: 26, Dim: 1152, Heads: 4},
	{Name: "4b", Layers: 34, Dim: 2560, Heads: 8},
	{Name: "12b", Layers: 48, Dim: 3840, Heads: 16},
	{Name: "27b", Layers: 62, Dim: 5376, Heads: 32},
}

// VariantByName resolves a size-variant identifier.
func VariantByName(name string) (Variant, bool) {
	short := name
	if i := strings.LastIndexAny(name, ":-"); i >= 0 {
		short = name[i+1:]
	}
	for _, v := range variants {
		if v.Name == short {
			return v, true
		}
	}
	return Variant{}, false
}

// SpecFromFile reads the model descriptor out of GGUF metadata.
// Keys are architecture-prefixed ("gemma3.block_count" etc.).
func SpecFromFile(f *gguf.File) (*Spec, error) {
	arch := f.String("general.architecture", "llama")
	key := func(suffix string) string { return arch + "." + suffix }

	s := &Spec{
		Name:         f.String("general.name", arch),
		Architecture: arch,
		Layers:       f.Int(key("block_count"), 0),
		Dim:          f.Int(key("embedding_length"), 0),
		HiddenDim:    f.Int(key("feed_forward_length"), 0),
		Heads:        f.Int(key("attention.head_count"), 0),
		KVHeads:      f.Int(key("attention.head_count_kv"), 0),
		HeadDim:      f.Int(key("attention.key_length"), 0),
		SeqLen:       f.Int(key("context_length"), 2048),
		Eps:          f.Float32(key("attention.layer_norm_rms_epsilon"), 1e-6),
		RopeTheta:    f.Float32(key("rope.freq_base"), 10000.0),
		EmbScale:     1.0,
	}

	if s.KVHeads == 0 {
		s.KVHeads = s.Heads // MHA
	}
	if s.HeadDim == 0 && s.Heads > 0 {
		s.HeadDim = s.Dim / s.Heads
	}
	if s.HiddenDim == 0 {
		s.HiddenDim = 4 * s.Dim
	}

	if toks, ok := f.Strings("tokenizer.ggml.tokens"); ok {
		s.VocabSize = len(toks)
	} else {
		s.VocabSize = f.Int(key("vocab_size"), 0)
	}

	if strings.Contains(strings.ToLower(arch), "gemma") {
		s.EmbScale = float32(math.Sqrt(float64(s.Dim)))
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spec) Validate() error {
	if s.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", s.Layers)
	}
	if s.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", s.Dim)
	}
	if s.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", s.Heads)
	}
	if s.KVHeads <= 0 || s.KVHeads > s.Heads {
		return fmt.Errorf("invalid kv_heads: %d (must be in [1, heads=%d])", s.KVHeads, s.Heads)
	}
	if s.HeadDim <= 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive)", s.HeadDim)
	}
	if s.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", s.HiddenDim)
	}
	if s.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", s.VocabSize)
	}
	if s.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", s.SeqLen)
	}
	if s.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", s.Eps)
	}
	if s.RopeTheta <= 0 {
		return fmt.Errorf("invalid rope_theta: %f (must be positive)", s.RopeTheta)
	}
	return nil
}

// CheckVariant verifies the checkpoint descriptor against a named variant.
func (s *Spec) CheckVariant(v Variant) error {
	if s.Layers != v.Layers || s.Dim != v.Dim || s.Heads != v.Heads {
		return fmt.Errorf("checkpoint (layers=%d dim=%d heads=%d) does not match variant %s (layers=%d dim=%d heads=%d)",
			s.Layers, s.Dim, s.Heads, v.Name, v.Layers, v.Dim, v.Heads)
	}
	return nil
}
