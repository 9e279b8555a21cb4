package codegen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// BodyLength is the number of random characters between prefix and checksum.
	BodyLength = 12
	// ChecksumLength is the number of hex characters kept from the digest.
	ChecksumLength = 4

	alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	separator = "-"
)

// maxUnbiased is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are rejected so every character is equally likely.
const maxUnbiased = 256 - (256 % len(alphabet))

// Generator produces coupon codes of the form PREFIX-BODY-CHECKSUM.
type Generator struct {
	rand io.Reader
}

// New creates a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader creates a generator drawing randomness from r.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a fresh code for prefix. Codes are unpredictable but not
// guaranteed unique; callers deduplicate.
func (g *Generator) Generate(prefix string) (string, error) {
	body, err := g.body()
	if err != nil {
		return "", err
	}
	return prefix + separator + body + separator + Checksum(prefix, body), nil
}

func (g *Generator) body() (string, error) {
	out := make([]byte, 0, BodyLength)
	buf := make([]byte, BodyLength*2)

	for len(out) < BodyLength {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == BodyLength {
				break
			}
		}
	}

	return string(out), nil
}

// Checksum derives the 4 character integrity suffix for prefix and body.
func Checksum(prefix, body string) string {
	sum := sha256.Sum256([]byte(prefix + body))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:ChecksumLength]
}

// Parse splits a code into its prefix, body and checksum parts.
func Parse(code string) (prefix, body, checksum string, ok bool) {
	last := strings.LastIndex(code, separator)
	if last <= 0 {
		return "", "", "", false
	}
	mid := strings.LastIndex(code[:last], separator)
	if mid <= 0 {
		return "", "", "", false
	}

	prefix, body, checksum = code[:mid], code[mid+1:last], code[last+1:]
	if len(body) != BodyLength || len(checksum) != ChecksumLength {
		return "", "", "", false
	}
	return prefix, body, checksum, true
}

// Verify reports whether code is well formed and its checksum matches. It
// needs no database lookup.
func Verify(code string) bool {
	prefix, body, checksum, ok := Parse(code)
	if !ok {
		return false
	}
	return Checksum(prefix, body) == checksum
}
