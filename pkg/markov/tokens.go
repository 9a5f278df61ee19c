package markov

import (
	"io"
	"regexp"
)

// Token represents a single tokenized unit of text. It contains the text itself
// and a boolean flag indicating if it is terminal punctuation (it ends a
// sentence, or chain).
type Token struct {
	Text string
	EOC  bool
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens. This allows the chain builder and the generator to be
// independent of the specific tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer for processing an io.Reader.
	NewStream(io.Reader) StreamTokenizer
	// Suffix returns the string emitted after a generated token.
	Suffix(token string) string
}

// StreamTokenizer is an interface for a stateful tokenizer that processes a
// stream of data, returning one token at a time.
type StreamTokenizer interface {
	// Next returns the next token from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() (*Token, error)
}

const (
	// wordPattern matches runs of word characters that may be joined by
	// apostrophes or hyphens, so a word always starts and ends on a word
	// character.
	wordPattern     = `[\p{L}\p{M}\p{N}_]+(?:['\-]+[\p{L}\p{M}\p{N}_]+)*`
	terminalPattern = `[.!?]`
)

var (
	defaultSplitRegex = regexp.MustCompile(wordPattern + `|` + terminalPattern)
	defaultEOCRegex   = regexp.MustCompile(`^` + terminalPattern + `$`)
)

// Tokenize splits text into word and terminal punctuation tokens using the
// default rules. Every other character is a separator.
//
//	Tokenize("Hello, world! Go go.") // [Hello world ! Go go .]
func Tokenize(text string) []string {
	return defaultSplitRegex.FindAllString(text, -1)
}

// IsTerminal reports whether token is one of the terminal punctuation marks
// `.`, `!` or `?`.
func IsTerminal(token string) bool {
	return defaultEOCRegex.MatchString(token)
}
