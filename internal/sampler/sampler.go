package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/metrics"
	"github.com/23skdu/longbow-mesh/internal/tokenizer"
)

// Engine is the decode stream the sampler drives. Satisfied by
// engine.Engine.
type Engine interface {
	Step(id int) ([]float32, error)
	Reset()
}

// Config controls one generation run. The zero temperature means greedy
// decoding.
type Config struct {
	Temperature float64
	TopK        int
	TopP        float64
	Seed        int64
	MaxTokens   int

	// Echo prepends the prompt text to the returned output.
	Echo bool
	// ReturnLogits keeps the per-step logits in the output.
	ReturnLogits bool
	// Forbidden token ids are masked to -Inf before every pick.
	Forbidden []int
}

// Output is one completed generation.
type Output struct {
	// Text is the decoded completion, prompt included when Echo is set.
	Text string
	// Tokens are the generated ids, without the prompt and without the
	// terminating end-of-sequence token.
	Tokens []int
	// Logits, when requested, hold one vocab-sized row per generated token.
	Logits [][]float32
}

type Sampler struct {
	eng Engine
	tok *tokenizer.Tokenizer
	cfg Config
	rng *rand.Rand
}

func New(eng Engine, tok *tokenizer.Tokenizer, cfg Config) *Sampler {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Sampler{
		eng: eng,
		tok: tok,
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Chat encodes the prompt with a beginning-of-sequence token, runs the
// decode loop and returns the completion. Generation stops at the
// end-of-sequence token or at MaxTokens.
func (s *Sampler) Chat(ctx context.Context, prompt string) (*Output, error) {
	ids, err := s.tok.EncodeBOS(prompt)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, prompt, ids)
}

// Generate runs the decode loop over already-encoded prompt ids.
func (s *Sampler) Generate(ctx context.Context, ids []int) (*Output, error) {
	return s.generate(ctx, "", ids)
}

func (s *Sampler) generate(ctx context.Context, prompt string, ids []int) (*Output, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}
	start := time.Now()
	s.eng.Reset()

	var logits []float32
	var err error
	for _, id := range ids {
		if logits, err = s.eng.Step(id); err != nil {
			return nil, err
		}
	}

	out := &Output{}
	for len(out.Tokens) < s.cfg.MaxTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mask(logits)
		next := s.pick(logits)
		if s.cfg.ReturnLogits {
			out.Logits = append(out.Logits, logits)
		}
		if next == s.tok.EOS {
			break
		}
		out.Tokens = append(out.Tokens, next)

		if logits, err = s.eng.Step(next); err != nil {
			// the context window ran out mid-generation; return what we have
			logger.Log.Debug("generation stopped early", "error", err, "tokens", len(out.Tokens))
			break
		}
	}

	out.Text = s.tok.Decode(out.Tokens)
	if s.cfg.Echo {
		out.Text = prompt + out.Text
	}

	metrics.RecordInference(len(out.Tokens), time.Since(start))
	metrics.RecordForwardPass("sampler", time.Since(start))
	return out, nil
}

// mask pushes forbidden token ids to -Inf so they can never be picked.
func (s *Sampler) mask(logits []float32) {
	for _, id := range s.cfg.Forbidden {
		if id >= 0 && id < len(logits) {
			logits[id] = float32(math.Inf(-1))
		}
	}
}

func (s *Sampler) pick(logits []float32) int {
	if s.cfg.Temperature == 0 {
		return argMax(logits)
	}

	probs := softmaxTemp(logits, s.cfg.Temperature)

	candidates := make([]tokenProb, 0, len(probs))
	for i, p := range probs {
		if p > 1e-10 {
			candidates = append(candidates, tokenProb{id: i, prob: p})
		}
	}
	if len(candidates) == 0 {
		return argMax(logits)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})
	candidates = topK(candidates, s.cfg.TopK)
	candidates = topP(candidates, s.cfg.TopP)

	sum := 0.0
	for _, c := range candidates {
		sum += c.prob
	}
	r := s.rng.Float64() * sum
	acc := 0.0
	for _, c := range candidates {
		acc += c.prob
		if r < acc {
			return c.id
		}
	}
	return candidates[0].id
}

type tokenProb struct {
	id   int
	prob float64
}

func argMax(logits []float32) int {
	best := 0
	bestVal := float32(math.Inf(-1))
	for i, v := range logits {
		if v != v {
			continue
		}
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	return best
}

func softmaxTemp(logits []float32, temp float64) []float64 {
	probs := make([]float64, len(logits))
	maxVal := math.Inf(-1)
	for i, v := range logits {
		probs[i] = float64(v) / temp
		if probs[i] > maxVal {
			maxVal = probs[i]
		}
	}

	sum := 0.0
	for i := range probs {
		probs[i] = math.Exp(probs[i] - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func topK(candidates []tokenProb, k int) []tokenProb {
	if k <= 0 || k >= len(candidates) {
		return candidates
	}
	return candidates[:k]
}

// topP keeps the smallest prefix of sorted candidates whose mass reaches p,
// renormalized.
func topP(candidates []tokenProb, p float64) []tokenProb {
	if p <= 0 || p >= 1 {
		return candidates
	}
	sum := 0.0
	for i, c := range candidates {
		sum += c.prob
		if sum >= p {
			kept := candidates[:i+1]
			for j := range kept {
				kept[j].prob /= sum
			}
			return kept
		}
	}
	return candidates
}
