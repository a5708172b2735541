// Package shortid generates random base62 short ids.
package shortid

import (
	"crypto/rand"
	"errors"
	"strings"
)

const (
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// DefaultLength gives 62^7 (about 3.5e12) possible ids.
	DefaultLength = 7
	MaxLength     = 32

	// Bytes at or above this value are rejected so every symbol is
	// equally likely.
	rejectAbove = 256 - 256%len(alphabet)
)

var ErrInvalidLength = errors.New("short id length must be between 1 and 32")

// Generator is safe for concurrent use.
type Generator struct {
	length int
}

func New(length int) (*Generator, error) {
	if length < 1 || length > MaxLength {
		return nil, ErrInvalidLength
	}
	return &Generator{length: length}, nil
}

func (g *Generator) Length() int {
	return g.length
}

func (g *Generator) Generate() (string, error) {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)

	for len(out) < g.length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}

	return string(out), nil
}

// Valid reports whether id could have been produced by a Generator.
func Valid(id string) bool {
	if len(id) < 1 || len(id) > MaxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(alphabet, rune(id[i])) {
			return false
		}
	}
	return true
}
