package present

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/23skdu/longbow-mesh/internal/simd"
	"github.com/23skdu/longbow-mesh/internal/tokenizer"
)

// Candidate is one vocabulary entry with its probability mass.
type Candidate struct {
	ID   int
	Prob float32
}

// TopK converts raw logits to probabilities and returns the k most likely
// token ids, highest first. k larger than the vocabulary clamps.
func TopK(logits []float32, k int) []Candidate {
	if len(logits) == 0 || k <= 0 {
		return nil
	}
	if k > len(logits) {
		k = len(logits)
	}

	probs := make([]float32, len(logits))
	copy(probs, logits)
	simd.Softmax(probs)

	cands := make([]Candidate, len(probs))
	for i, p := range probs {
		cands[i] = Candidate{ID: i, Prob: p}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Prob != cands[j].Prob {
			return cands[i].Prob > cands[j].Prob
		}
		return cands[i].ID < cands[j].ID
	})
	return cands[:k]
}

// DecodeToken renders a single token id for display. Control and byte
// tokens come back in their raw vocabulary spelling rather than dropped,
// so the chart never shows an empty label.
func DecodeToken(tok *tokenizer.Tokenizer, id int) string {
	if id < 0 || id >= len(tok.Tokens) {
		return fmt.Sprintf("<invalid:%d>", id)
	}
	s := tok.Decode([]int{id})
	if s == "" {
		return tok.Tokens[id]
	}
	return s
}

// BarChart writes a horizontal probability chart, one row per candidate.
// width is the bar length of a probability of 1.
func BarChart(w io.Writer, tok *tokenizer.Tokenizer, cands []Candidate, width int) error {
	if width <= 0 {
		width = 40
	}

	labelW := 0
	labels := make([]string, len(cands))
	for i, c := range cands {
		labels[i] = DecodeToken(tok, c.ID)
		if n := len([]rune(labels[i])); n > labelW {
			labelW = n
		}
	}

	for i, c := range cands {
		n := int(c.Prob*float32(width) + 0.5)
		if n > width {
			n = width
		}
		bar := strings.Repeat("█", n)
		if _, err := fmt.Fprintf(w, "%6d  %-*s  %6.2f%%  %s\n",
			c.ID, labelW, labels[i], c.Prob*100, bar); err != nil {
			return err
		}
	}
	return nil
}
