package codegen

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^PROMO-[0-9A-Z]{12}-[0-9A-F]{4}$`)

func TestGenerate_Format(t *testing.T) {
	g := New()

	code, err := g.Generate("PROMO")
	require.NoError(t, err)

	assert.Regexp(t, codePattern, code)
	assert.True(t, Verify(code))
}

func TestGenerate_ChecksumMatchesBody(t *testing.T) {
	g := New()

	code, err := g.Generate("SUMMER24")
	require.NoError(t, err)

	prefix, body, checksum, ok := Parse(code)
	require.True(t, ok)
	assert.Equal(t, "SUMMER24", prefix)
	assert.Len(t, body, BodyLength)
	assert.Equal(t, Checksum(prefix, body), checksum)
}

func TestGenerate_DeterministicReader(t *testing.T) {
	seed := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 8)

	a, err := NewWithReader(bytes.NewReader(seed)).Generate("X")
	require.NoError(t, err)
	b, err := NewWithReader(bytes.NewReader(seed)).Generate("X")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "X-0123456789AB-"+Checksum("X", "0123456789AB"), a)
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 255 is above the unbiased range and must be skipped.
	seed := append(bytes.Repeat([]byte{255}, 24), bytes.Repeat([]byte{35}, 24)...)

	code, err := NewWithReader(bytes.NewReader(seed)).Generate("P")
	require.NoError(t, err)

	_, body, _, ok := Parse(code)
	require.True(t, ok)
	assert.Equal(t, "ZZZZZZZZZZZZ", body)
}

func TestGenerate_ReaderExhausted(t *testing.T) {
	_, err := NewWithReader(bytes.NewReader([]byte{1, 2})).Generate("P")
	assert.Error(t, err)
}

func TestGenerate_Uniqueness(t *testing.T) {
	g := New()
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		code, err := g.Generate("BULK")
		require.NoError(t, err)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	assert.Equal(t, Checksum("PROMO", "ABCDEF123456"), Checksum("PROMO", "ABCDEF123456"))
	assert.Len(t, Checksum("PROMO", "ABCDEF123456"), ChecksumLength)
}

func TestChecksum_SensitiveToInput(t *testing.T) {
	base := Checksum("PROMO", "ABCDEF123456")

	assert.NotEqual(t, base, Checksum("PROMO", "ABCDEF123457"))
	assert.NotEqual(t, base, Checksum("PROMA", "ABCDEF123456"))
}

func TestVerify(t *testing.T) {
	body := "ABCDEF123456"
	valid := "PROMO-" + body + "-" + Checksum("PROMO", body)

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid", valid, true},
		{"tampered body", "PROMO-ABCDEF123457-" + Checksum("PROMO", body), false},
		{"tampered prefix", "PROMA-" + body + "-" + Checksum("PROMO", body), false},
		{"missing checksum", "PROMO-" + body, false},
		{"short body", "PROMO-ABC-" + Checksum("PROMO", "ABC"), false},
		{"empty prefix", "-" + body + "-" + Checksum("", body), false},
		{"garbage", "not a code", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.code))
		})
	}
}
