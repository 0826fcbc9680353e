package tokenizer

import (
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-mesh/internal/gguf"
)

func newVocabFile(t *testing.T, vocab []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.gguf")

	b := gguf.NewBuilder().
		SetKV("tokenizer.ggml.tokens", vocab).
		SetKV("tokenizer.ggml.bos_token_id", uint32(1)).
		SetKV("tokenizer.ggml.eos_token_id", uint32(2)).
		SetKV("tokenizer.ggml.unknown_token_id", uint32(0))

	if err := b.WriteFile(path); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func spVocab() []string {
	return []string{
		"<unk>", "<bos>", "<eos>",
		"▁Hello", "▁World", "▁", "Hello", "World", "!",
		"▁My", "▁name", "▁is", "▁Mary",
		"H", "e", "l", "o", "r", "d", "W",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tk, err := New(newVocabFile(t, spVocab()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []string{
		"Hello World!",
		"My name is",
		"Hello",
		"World World World",
	}

	for _, text := range tests {
		ids := tk.Encode(text)
		if len(ids) == 0 {
			t.Fatalf("%q: empty encoding", text)
		}
		if got := tk.Decode(ids); got != text {
			t.Errorf("%q: round trip got %q (ids %v)", text, got, ids)
		}
	}
}

func TestEncodeGreedyLongestMatch(t *testing.T) {
	tk, err := New(newVocabFile(t, spVocab()))
	if err != nil {
		t.Fatal(err)
	}

	// "▁Hello" must win over "▁" + "Hello"
	ids := tk.Encode("Hello")
	if len(ids) != 1 || tk.Tokens[ids[0]] != "▁Hello" {
		t.Errorf("got ids %v", ids)
	}
}

func TestEncodeBOS(t *testing.T) {
	tk, err := New(newVocabFile(t, spVocab()))
	if err != nil {
		t.Fatal(err)
	}

	plain := tk.Encode("My name is")
	withBOS, err := tk.EncodeBOS("My name is")
	if err != nil {
		t.Fatalf("EncodeBOS: %v", err)
	}

	if len(withBOS) != len(plain)+1 {
		t.Fatalf("lengths: plain %d, bos %d", len(plain), len(withBOS))
	}
	if withBOS[0] != tk.BOS {
		t.Errorf("first token: got %d, want BOS %d", withBOS[0], tk.BOS)
	}
	for i, id := range plain {
		if withBOS[i+1] != id {
			t.Errorf("token %d differs", i)
		}
	}
}

func TestDecodeSkipsControlTokens(t *testing.T) {
	tk, err := New(newVocabFile(t, spVocab()))
	if err != nil {
		t.Fatal(err)
	}

	ids, _ := tk.EncodeBOS("Hello")
	ids = append(ids, tk.EOS)
	if got := tk.Decode(ids); got != "Hello" {
		t.Errorf("got %q", got)
	}

	// out-of-range ids are dropped, not a panic
	if got := tk.Decode([]int{-1, 99999}); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestEncodeUnknownFallsBack(t *testing.T) {
	tk, err := New(newVocabFile(t, spVocab()))
	if err != nil {
		t.Fatal(err)
	}

	ids := tk.Encode("Hello§")
	if len(ids) == 0 {
		t.Fatal("empty encoding")
	}
	last := ids[len(ids)-1]
	if last != tk.Unk {
		// the section sign isn't in the vocab and there are no byte tokens
		t.Errorf("expected unk fallback, got token %d (%q)", last, tk.Tokens[last])
	}
}

func TestMissingVocabFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novocab.gguf")
	if err := gguf.NewBuilder().SetKV("general.architecture", "gemma3").WriteFile(path); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path); err == nil {
		t.Fatal("expected error for missing vocabulary")
	}
}
