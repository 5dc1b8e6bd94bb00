// Package codes produces the short numeric codes that identify transfers.
package codes

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// codePattern is the accepted wire format of a transfer code.
var codePattern = regexp.MustCompile(`^\d{6,8}$`)

// Valid reports whether code is a well-formed transfer code (6–8 ASCII
// digits). Validated at every external boundary before touching any store.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// Generator produces decimal digit strings from a cryptographically strong
// random source. It is stateless; collision checking against live sessions
// is the caller's responsibility.
type Generator struct {
	length int
}

func NewGenerator(length int) *Generator {
	return &Generator{length: length}
}

// randRead is a seam for tests.
var randRead = rand.Read

// Generate returns a random code of the configured length, each digit
// independent and uniform over 0–9. Bytes of 250 and above are discarded:
// 256 is not a multiple of 10, so reducing them would skew digits 0–5.
func (g *Generator) Generate() (string, error) {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length)
	for len(out) < g.length {
		n := g.length - len(out)
		if _, err := randRead(buf[:n]); err != nil {
			return "", fmt.Errorf("random source: %w", err)
		}
		for _, b := range buf[:n] {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
		}
	}
	return string(out), nil
}
