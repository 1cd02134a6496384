package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteTokenizer maps each byte to one token, which keeps round trips exact
// and token counts predictable.
type byteTokenizer struct {
	encodeErr error
	decodeErr error
	// mangle, when set, drops the last byte of every decoded chunk.
	mangle bool
}

func (b *byteTokenizer) Encode(text string) ([]int, error) {
	if b.encodeErr != nil {
		return nil, b.encodeErr
	}
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out, nil
}

func (b *byteTokenizer) Decode(tokens []int) (string, error) {
	if b.decodeErr != nil {
		return "", b.decodeErr
	}
	buf := make([]byte, len(tokens))
	for i, t := range tokens {
		buf[i] = byte(t)
	}
	if b.mangle && len(buf) > 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

func TestSplit_FitsInBudget(t *testing.T) {
	tok := &byteTokenizer{}

	chunks, err := Split(tok, "hello", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, chunks)

	chunks, err = Split(tok, "", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, chunks)
}

func TestSplit_CeilChunkCount(t *testing.T) {
	tok := &byteTokenizer{}
	text := strings.Repeat("a", 20000)

	chunks, err := Split(tok, text, 8000)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 8000)
	assert.Len(t, chunks[1], 8000)
	assert.Len(t, chunks[2], 4000)
}

func TestSplit_RoundTrip(t *testing.T) {
	tok := &byteTokenizer{}
	tests := []struct {
		name string
		text string
		max  int
	}{
		{"exact multiple", strings.Repeat("xy", 50), 10},
		{"remainder", "the quick brown fox jumps over the lazy dog", 7},
		{"budget of one", "abc", 1},
		{"newlines", "line one\nline two\nline three\n", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tok, tt.text, tt.max)
			require.NoError(t, err)
			want := (len(tt.text) + tt.max - 1) / tt.max
			assert.Len(t, chunks, want)
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), tt.max)
			}
			assert.Equal(t, tt.text, strings.Join(chunks, ""))
		})
	}
}

func TestSplit_FailsClosed(t *testing.T) {
	boom := errors.New("boom")

	_, err := Split(&byteTokenizer{encodeErr: boom}, "text", 2)
	assert.ErrorIs(t, err, ErrTokenization)

	_, err = Split(&byteTokenizer{decodeErr: boom}, "text", 2)
	assert.ErrorIs(t, err, ErrTokenization)

	chunks, err := Split(&byteTokenizer{mangle: true}, "text", 2)
	assert.ErrorIs(t, err, ErrTokenization)
	assert.Nil(t, chunks)

	_, err = Split(&byteTokenizer{}, "text", 0)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestSplit_RuneBoundaries(t *testing.T) {
	tok := &byteTokenizer{}

	// "é" is two bytes, so the first slice of two tokens would split it.
	chunks, err := Split(tok, "héllo", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "é", "ll", "o"}, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "%q", c)
	}

	// A four-byte rune cannot be placed in a two-token slice.
	_, err = Split(tok, "a\U0001F600b", 2)
	assert.ErrorIs(t, err, ErrTokenization)

	// Input that is not UTF-8 is split on plain token boundaries.
	chunks, err = Split(tok, "\xff\xfe\xfd", 1)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestTiktoken_Offline(t *testing.T) {
	tok, err := NewTiktoken("")
	require.NoError(t, err)

	tokens, err := tok.Encode("hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens)
	text, err := tok.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = NewTiktoken("no_such_encoding")
	assert.Error(t, err)
}

func TestTiktoken_SplitMultibyte(t *testing.T) {
	tok, err := NewTiktoken(DefaultEncoding)
	require.NoError(t, err)

	text := strings.Repeat("日本語のテキストと絵文字 😀🎉 も含む。", 20) + "func main() {}\n"
	tokens, err := tok.Encode(text)
	require.NoError(t, err)

	const budget = 7
	chunks, err := Split(tok, text, budget)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(chunks), (len(tokens)+budget-1)/budget)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8: %q", i, c)
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitter_Defaults(t *testing.T) {
	s, err := NewSplitter(&byteTokenizer{}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, s.MaxTokens())

	n, err := s.Count("abcd")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = NewSplitter(nil, 10)
	assert.Error(t, err)

	_, err = NewSplitter(&byteTokenizer{}, -1)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestMean(t *testing.T) {
	t.Run("single vector is unchanged", func(t *testing.T) {
		in := []float32{0.25, -1, 3}
		out, err := Mean([][]float32{in})
		require.NoError(t, err)
		assert.Equal(t, in, out)

		out[0] = 99
		assert.Equal(t, float32(0.25), in[0], "result must be a copy")
	})

	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{1, 2, 3}
		out, err := Mean([][]float32{v, v, v})
		require.NoError(t, err)
		assert.Equal(t, v, out)
	})

	t.Run("elementwise average", func(t *testing.T) {
		out, err := Mean([][]float32{{0, 2}, {2, 4}})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{1, 3}, out, 1e-6)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Mean(nil)
		assert.ErrorIs(t, err, ErrNoVectors)
	})

	t.Run("mismatched dimensions", func(t *testing.T) {
		_, err := Mean([][]float32{{1, 2}, {1}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestLines(t *testing.T) {
	content := "a\nb\nc\nd\ne"

	chunks := Lines(content, 2)
	assert.Equal(t, []string{"a\nb\n", "c\nd\n", "e"}, chunks)
	assert.Equal(t, content, strings.Join(chunks, ""))

	assert.Equal(t, []string{"a\nb\n"}, Lines("a\nb\n", 2))
	assert.Nil(t, Lines("", 10))
	assert.Len(t, Lines(strings.Repeat("x\n", 450), 0), 3)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, LineCount(""))
	assert.Equal(t, 1, LineCount("x"))
	assert.Equal(t, 2, LineCount("x\ny\n"))
	assert.Equal(t, 3, LineCount("x\ny\nz"))
}
