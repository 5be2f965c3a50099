// Package token mints the short numeric codes users exchange out of band.
package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// Length is the number of ASCII digits in every token.
	Length = 6

	// Tokens are drawn from [minToken, maxToken]. The generator never emits a
	// leading zero, so roughly 10% of the six-digit space is unused.
	minToken = 100000
	maxToken = 999999
)

// Generator produces tokens. Tests substitute deterministic generators.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func() (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate() (string, error) { return f() }

// Random draws uniformly distributed tokens from crypto/rand.
type Random struct{}

// Generate returns a uniformly random token in [100000, 999999].
func (Random) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxToken-minToken+1))
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+minToken), nil
}

// Valid reports whether s has the token format: exactly six ASCII digits.
// Leading zeros are valid even though Random never produces them.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
