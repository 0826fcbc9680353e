package tokenizer

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-mesh/internal/gguf"
)

// spacePiece is the SentencePiece whitespace marker.
const spacePiece = "▁"

// Tokenizer holds the vocabulary read from GGUF metadata. Encoding is greedy
// longest-match over vocabulary pieces, which round-trips any text whose
// characters appear in the vocabulary.
type Tokenizer struct {
	Tokens []string
	Vocab  map[string]int

	BOS int
	EOS int
	Unk int

	maxPiece   int
	markSpaces bool // vocabulary uses the SentencePiece space marker
}

// New loads the vocabulary from a GGUF checkpoint path.
func New(path string) (*Tokenizer, error) {
	f, err := gguf.Load(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return FromFile(f)
}

// FromFile builds the tokenizer from already-parsed GGUF metadata.
func FromFile(f *gguf.File) (*Tokenizer, error) {
	tokens, ok := f.Strings("tokenizer.ggml.tokens")
	if !ok {
		return nil, fmt.Errorf("tokenizer.ggml.tokens not found in GGUF")
	}

	t := &Tokenizer{
		Tokens: tokens,
		Vocab:  make(map[string]int, len(tokens)),
		BOS:    f.Int("tokenizer.ggml.bos_token_id", -1),
		EOS:    f.Int("tokenizer.ggml.eos_token_id", -1),
		Unk:    f.Int("tokenizer.ggml.unknown_token_id", -1),
	}

	for i, tok := range tokens {
		t.Vocab[tok] = i
		if len(tok) > t.maxPiece {
			t.maxPiece = len(tok)
		}
		if strings.Contains(tok, spacePiece) {
			t.markSpaces = true
		}
	}

	return t, nil
}

// Encode converts text to token ids. No BOS is added: the direct invocation
// path owns that, and forgetting it degrades output rather than erroring.
func (t *Tokenizer) Encode(text string) []int {
	if t.markSpaces {
		// SentencePiece dummy prefix plus space marking
		text = spacePiece + strings.ReplaceAll(text, " ", spacePiece)
	}

	var ids []int
	for len(text) > 0 {
		end := len(text)
		if end > t.maxPiece {
			end = t.maxPiece
		}

		matched := false
		for ; end > 0; end-- {
			if id, ok := t.Vocab[text[:end]]; ok {
				ids = append(ids, id)
				text = text[end:]
				matched = true
				break
			}
		}
		if !matched {
			// byte fallback, then unknown
			if id, ok := t.Vocab[fmt.Sprintf("<0x%02X>", text[0])]; ok {
				ids = append(ids, id)
			} else if t.Unk >= 0 {
				ids = append(ids, t.Unk)
			}
			text = text[1:]
		}
	}
	return ids
}

// EncodeBOS encodes text with the beginning-of-sequence marker prepended,
// the form the model expects for a fresh context.
func (t *Tokenizer) EncodeBOS(text string) ([]int, error) {
	if t.BOS < 0 {
		return nil, fmt.Errorf("vocabulary has no BOS token")
	}
	return append([]int{t.BOS}, t.Encode(text)...), nil
}

// Decode converts token ids back to text. Control tokens decode to nothing.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.Tokens) {
			continue
		}
		if id == t.BOS || id == t.EOS {
			continue
		}
		piece := t.Tokens[id]
		if len(piece) == 6 && strings.HasPrefix(piece, "<0x") && piece[5] == '>' {
			var b byte
			if _, err := fmt.Sscanf(piece, "<0x%02X>", &b); err == nil {
				sb.WriteByte(b)
				continue
			}
		}
		sb.WriteString(piece)
	}
	out := sb.String()
	if t.markSpaces {
		out = strings.ReplaceAll(out, spacePiece, " ")
		out = strings.TrimPrefix(out, " ")
	}
	return out
}

// VocabSize returns the vocabulary size.
func (t *Tokenizer) VocabSize() int {
	return len(t.Tokens)
}
