// Package token produces the short, human-typable codes used as external
// grant handles.
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/medgrant/portal-api/internal/model"
)

// Alphabet deliberately omits I, L, O, 0 and 1: codes are read aloud and
// retyped, so easily-confused glyphs are excluded.
const (
	Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	Length   = 8

	DefaultMaxAttempts = 10
)

// ExistenceChecker is the slice of the grant store the generator needs.
type ExistenceChecker interface {
	TokenExists(ctx context.Context, token string) (bool, error)
}

type Generator struct {
	store       ExistenceChecker
	maxAttempts int
}

func NewGenerator(store ExistenceChecker, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{store: store, maxAttempts: maxAttempts}
}

// Generate returns a fresh candidate token not currently present in the
// store. The check here does not reserve the token; the insert's uniqueness
// constraint is the authoritative guard, and callers retry through this
// method when it fires. Exhausting attempts returns
// model.ErrGenerationExhausted.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate, err := random(Length)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}

		exists, err := g.store.TokenExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check token: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", model.ErrGenerationExhausted
}

// Normalize maps user input onto the canonical token form: trimmed and
// uppercased. Claimants may type lowercase.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether s is a well-formed token after normalization.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}

func random(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}
