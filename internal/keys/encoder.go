// Package keys builds the row keys of the audio/video table.
//
// Every key is a table prefix ("train", "eval" or "test") followed by ids and a
// family tag whose numeric suffix is re-encoded through a digit to letter
// substitution. Suffixes are zero padded to a fixed width so that plain
// byte-wise comparison of two keys orders them by their numeric suffix, which is
// what the store's range scans rely on.
package keys

import (
	"strconv"
	"strings"

	"github.com/devrev/avcorr/internal/errors"
)

// DefaultMaxSuffix is the largest shard, video, frame or audio block index the
// default encoder accepts.
const DefaultMaxSuffix = 9999

const alphabet = "abcdefghij"

// alphabetEnd sorts after every encoded suffix character.
const alphabetEnd = "k"

// Encoder maps non-negative integers in [0, maxSuffix] to fixed-width letter strings.
type Encoder struct {
	maxSuffix int
	width     int
}

// DefaultEncoder is the encoder for the historical 9999 suffix key space.
var DefaultEncoder = MustNewEncoder(DefaultMaxSuffix)

// NewEncoder creates an encoder whose width is the digit count of maxSuffix.
func NewEncoder(maxSuffix int) (*Encoder, error) {
	if maxSuffix <= 0 {
		return nil, errors.InvalidArgumentf("max suffix must be positive, saw %d", maxSuffix)
	}
	return &Encoder{
		maxSuffix: maxSuffix,
		width:     len(strconv.Itoa(maxSuffix)),
	}, nil
}

// MustNewEncoder is NewEncoder for package level defaults.
func MustNewEncoder(maxSuffix int) *Encoder {
	e, err := NewEncoder(maxSuffix)
	if err != nil {
		panic(err)
	}
	return e
}

// MaxSuffix returns the largest encodable index.
func (e *Encoder) MaxSuffix() int {
	return e.maxSuffix
}

// Width returns the length of every encoded suffix.
func (e *Encoder) Width() int {
	return e.width
}

// Lex encodes i. Indices outside [0, MaxSuffix] fail instead of producing a
// suffix that would sort out of place.
func (e *Encoder) Lex(i int) (string, error) {
	if i < 0 || i > e.maxSuffix {
		return "", errors.KeySpaceExhausted(i, e.maxSuffix)
	}

	digits := strconv.Itoa(i)
	var b strings.Builder
	b.Grow(e.width)
	for pad := e.width - len(digits); pad > 0; pad-- {
		b.WriteByte(alphabet[0])
	}
	for j := 0; j < len(digits); j++ {
		b.WriteByte(alphabet[digits[j]-'0'])
	}
	return b.String(), nil
}

// Unlex decodes a suffix produced by Lex.
func (e *Encoder) Unlex(s string) (int, error) {
	if len(s) != e.width {
		return 0, errors.InvalidArgumentf("encoded suffix %q has width %d, expected %d", s, len(s), e.width)
	}
	n := 0
	for j := 0; j < len(s); j++ {
		d := strings.IndexByte(alphabet, s[j])
		if d < 0 {
			return 0, errors.InvalidArgumentf("encoded suffix %q contains %q", s, s[j])
		}
		n = n*10 + d
	}
	if n > e.maxSuffix {
		return 0, errors.KeySpaceExhausted(n, e.maxSuffix)
	}
	return n, nil
}

// LexIndex encodes i with the default encoder.
func LexIndex(i int) (string, error) {
	return DefaultEncoder.Lex(i)
}
