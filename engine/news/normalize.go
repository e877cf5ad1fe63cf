package news

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// IDLen is the length of an Item ID: a hex sha256 truncated to 32 characters.
const IDLen = 32

// cashtagPattern matches $-prefixed symbols of any case, e.g. "$AAPL", "$tsla".
var cashtagPattern = regexp.MustCompile(`\$[A-Za-z]{1,5}\b`)

// symbolPattern matches bare 1-5 letter all-caps tokens not adjacent to other
// letters or digits.
var symbolPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

// tickerBlacklist holds common acronyms that collide with valid symbols.
var tickerBlacklist = map[string]bool{
	"USA": true, "CEO": true, "EPS": true, "IPO": true,
	"GDP": true, "ETF": true, "SEC": true,
}

// ExtractTickers returns the set of candidate ticker symbols in text, sorted,
// with blacklisted acronyms removed. Bare tokens must already be upper-case;
// cashtags are accepted in any case.
func ExtractTickers(text string) []string {
	seen := make(map[string]bool)
	for _, m := range cashtagPattern.FindAllString(text, -1) {
		seen[strings.ToUpper(m[1:])] = true
	}
	for _, m := range symbolPattern.FindAllString(text, -1) {
		seen[m] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		if !tickerBlacklist[sym] {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeURL trims whitespace and lowercases. Empty input normalizes to
// the empty string.
func NormalizeURL(url string) string {
	return strings.ToLower(strings.TrimSpace(url))
}

// URLHash returns the full hex sha256 of the normalized URL. This is the
// dedup-ledger key.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(url)))
	return hex.EncodeToString(sum[:])
}

// ContentID derives the Item ID from a URL: URLHash truncated to IDLen.
// Same normalized URL always yields the same id, which makes the storage
// insert idempotent even if the ledger check race-loses.
func ContentID(url string) string {
	return URLHash(url)[:IDLen]
}
