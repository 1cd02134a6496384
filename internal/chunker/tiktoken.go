package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

var installLoader sync.Once

// Tiktoken is a Tokenizer backed by tiktoken-go. BPE ranks come from the
// offline loader, which embeds them, so no network access is needed.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. An empty name uses DefaultEncoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	installLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode implements Tokenizer. Special tokens are encoded as plain text.
func (t *Tiktoken) Encode(text string) ([]int, error) {
	return t.enc.Encode(text, nil, nil), nil
}

// Decode implements Tokenizer. The result holds the raw token bytes and is
// not valid UTF-8 when tokens ends inside a multi-byte rune.
func (t *Tiktoken) Decode(tokens []int) (string, error) {
	return t.enc.Decode(tokens), nil
}
