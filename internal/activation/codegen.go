package activation

import (
	"math/rand/v2"
	"strings"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSegments    = 3
	codeSegmentSize = 4
)

// GenerateCode returns a code shaped like "7K2Q-X9AB-04ZD". It is not
// cryptographically random; uniqueness is enforced by the registry.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(codeSegments*codeSegmentSize + codeSegments - 1)

	for s := 0; s < codeSegments; s++ {
		if s > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeSegmentSize; i++ {
			b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
		}
	}
	return b.String()
}

// NormalizeCode trims and upper-cases user input so "abcd-efgh-ijkl " matches.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
