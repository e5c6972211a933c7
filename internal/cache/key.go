package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// keyVersion prefixes every canonical string. Changing it invalidates every
// existing cache entry, so it must stay stable.
const keyVersion = "v1"

// Field separator (ASCII unit separator) so no field can bleed into another.
const keySep = "\x1f"

// NormalizeText applies NFKC normalization, case folding, trims and
// collapses internal whitespace runs to a single space.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// CanonicalString returns the string hashed by ComputeKey.
func CanonicalString(req ttypes.Request) string {
	n := req.Normalized()

	provider := n.Provider
	if provider == "" {
		provider = ttypes.AutoProvider
	}
	voice := strings.ToLower(n.Voice)
	if voice == "" {
		voice = "default"
	}
	model := strings.ToLower(n.Model)
	if model == "" {
		model = "default"
	}

	return strings.Join([]string{
		keyVersion,
		NormalizeText(n.Text),
		provider,
		voice,
		n.Format,
		fmt.Sprintf("%.2f", n.Speed),
		model,
	}, keySep)
}

// ComputeKey derives the cache key of a request: the lower-case hex
// SHA-256 of its canonical string. It is pure and deterministic.
func ComputeKey(req ttypes.Request) string {
	sum := sha256.Sum256([]byte(CanonicalString(req)))
	return hex.EncodeToString(sum[:])
}

// validKey reports whether key is safe to use as a file name.
func validKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
