package markov

import (
	"bufio"
	"io"
	"regexp"
)

// maxLineLength bounds the size of a single corpus line held in memory.
const maxLineLength = 1 << 20

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It uses regular expressions to split text into words and terminal
// punctuation, and identifies terminal punctuation as End-Of-Chain (EOC)
// tokens. Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	separator  string
	splitRegex *regexp.Regexp
	eocRegex   *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string emitted after every non-terminal token.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithSplitRegex sets the regex string used to find tokens in input text.
// Default: words joined by interior apostrophes or hyphens, or one of `.!?`
func WithSplitRegex(splitRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.splitRegex = regexp.MustCompile(splitRegex)
	}
}

// WithEOCRegex sets the regex string to use when deciding whether a token is an EOC token or not.
// Default: `^[.!?]$`
func WithEOCRegex(eocRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.eocRegex = regexp.MustCompile(eocRegex)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator:  " ",
		splitRegex: defaultSplitRegex,
		eocRegex:   defaultEOCRegex,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Suffix returns the separator for a generated token: nothing after terminal
// punctuation, the configured separator otherwise.
func (t *DefaultTokenizer) Suffix(token string) string {
	if t.eocRegex.MatchString(token) {
		return ""
	}
	return t.separator
}

// NewStream Returns the stream processor.
func (t *DefaultTokenizer) NewStream(r io.Reader) StreamTokenizer {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &DefaultStreamTokenizer{
		scanner:    scanner,
		buffer:     []string{},
		splitRegex: t.splitRegex,
		eocRegex:   t.eocRegex,
	}
}

// DefaultStreamTokenizer is the default implementation of the StreamTokenizer interface.
// It uses a bufio.Scanner and regular expressions to read and tokenize a stream
// line by line. Line breaks are separators, so no token spans two lines.
type DefaultStreamTokenizer struct {
	scanner    *bufio.Scanner
	buffer     []string
	splitRegex *regexp.Regexp
	eocRegex   *regexp.Regexp
}

// Next returns the next token from the stream. It returns a Token and a nil error on
// success. When the stream is exhausted, it returns a nil Token and io.EOF.
// Any other error indicates a problem reading from the underlying stream.
func (s *DefaultStreamTokenizer) Next() (*Token, error) {
	for len(s.buffer) == 0 { // Loop until we have tokens
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		s.buffer = s.splitRegex.FindAllString(s.scanner.Text(), -1)
	}

	word := s.buffer[0]
	s.buffer = s.buffer[1:]

	return &Token{Text: word, EOC: s.eocRegex.MatchString(word)}, nil
}
