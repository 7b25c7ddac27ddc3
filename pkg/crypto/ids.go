package crypto

import (
	"crypto/rand"
	"errors"
	"math"
)

const (
	urlAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	DefaultIDSize   = 22 // 22 * 6 = 132 bits of entropy
	minAlphabetSize = 8
	maxAlphabetSize = 255
)

var (
	ErrAlphabetTooShort = errors.New("alphabet must contain at least 8 characters")
	ErrAlphabetTooLong  = errors.New("alphabet must contain no more than 255 characters")
	ErrAlphabetNotASCII = errors.New("alphabet must contain only ASCII characters")
)

// IDGenerator produces random identifiers drawn uniformly from an alphabet
// (nanoid algorithm: masked random bytes, rejecting out-of-range indexes).
type IDGenerator struct {
	alphabet string
	mask     byte
}

// NewIDGenerator returns a generator over alphabet, or the URL-safe alphabet
// when it is empty.
func NewIDGenerator(alphabet string) (*IDGenerator, error) {
	if alphabet == "" {
		alphabet = urlAlphabet
	}
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] > 127 {
			return nil, ErrAlphabetNotASCII
		}
	}
	switch {
	case len(alphabet) < minAlphabetSize:
		return nil, ErrAlphabetTooShort
	case len(alphabet) > maxAlphabetSize:
		return nil, ErrAlphabetTooLong
	}

	return &IDGenerator{alphabet: alphabet, mask: maskFor(len(alphabet))}, nil
}

// maskFor returns the smallest 2^n-1 that covers every alphabet index.
func maskFor(alphabetLen int) byte {
	mask := 1
	for mask < alphabetLen-1 {
		mask = mask<<1 | 1
	}
	return byte(mask)
}

// Generate returns an identifier of size characters, DefaultIDSize when size <= 0.
func (g *IDGenerator) Generate(size int) (string, error) {
	if size <= 0 {
		size = DefaultIDSize
	}

	alphabetLen := len(g.alphabet)
	step := int(math.Ceil(1.6 * float64(int(g.mask)*size) / float64(alphabetLen)))

	id := make([]byte, 0, size)
	buffer := make([]byte, step)
	for len(id) < size {
		if _, err := rand.Read(buffer); err != nil {
			return "", err
		}
		for _, b := range buffer {
			index := int(b & g.mask)
			if index < alphabetLen {
				id = append(id, g.alphabet[index])
				if len(id) == size {
					break
				}
			}
		}
	}

	return string(id), nil
}
