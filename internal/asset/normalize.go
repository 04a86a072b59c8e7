package asset

import (
	"regexp"
	"strings"
)

var (
	vstRunPattern  = regexp.MustCompile(`(-VST)+`)
	validSymbolPat = regexp.MustCompile(`^[A-Z0-9]+-(USDT|USDC)$`)
)

// Normalize applies the canonical symbol normalization rules:
//
//  1. Uppercase; replace '/' and '\' with '-'.
//  2. Collapse repeated "-VST" sequences to empty.
//  3. Rewrite "-VST-USDT" -> "-USDT", "-VST-USDC" -> "-USDC".
//  4. If the result ends in neither "-USDT" nor "-USDC", strip a trailing
//     "-USDT"/"-USDC"/"-VST" (if present) and append "-USDT".
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	out := strings.ToUpper(s)
	out = strings.ReplaceAll(out, "/", "-")
	out = strings.ReplaceAll(out, "\\", "-")

	// Rewrite "-VST-USDT"/"-VST-USDC" first; the collapse below removes
	// every remaining "-VST" run, so either order yields the same result.
	out = strings.ReplaceAll(out, "-VST-USDT", "-USDT")
	out = strings.ReplaceAll(out, "-VST-USDC", "-USDC")

	// Repeat the collapse until nothing changes: removing one run can join
	// the surrounding characters into a new "-VST" run ("-V-VSTST").
	for {
		next := vstRunPattern.ReplaceAllString(out, "")
		if next == out {
			break
		}
		out = next
	}

	if !strings.HasSuffix(out, "-USDT") && !strings.HasSuffix(out, "-USDC") {
		for _, suffix := range []string{"-USDT", "-USDC", "-VST"} {
			if strings.HasSuffix(out, suffix) {
				out = strings.TrimSuffix(out, suffix)
				break
			}
		}
		out += "-USDT"
	}

	return out
}

// Valid reports whether a normalized symbol matches the canonical shape
// ^[A-Z0-9]+-(USDT|USDC)$.
func Valid(normalized string) bool {
	return validSymbolPat.MatchString(normalized)
}

// BaseCurrency extracts the base currency from a normalized symbol,
// e.g. "BTC-USDT" -> "BTC". Returns "" if the symbol has no hyphen.
func BaseCurrency(symbol string) string {
	idx := strings.LastIndex(symbol, "-")
	if idx <= 0 {
		return ""
	}
	return symbol[:idx]
}

// QuoteCurrency extracts the quote currency from a normalized symbol,
// e.g. "BTC-USDT" -> "USDT". Returns "" if the symbol has no hyphen.
func QuoteCurrency(symbol string) string {
	idx := strings.LastIndex(symbol, "-")
	if idx < 0 || idx == len(symbol)-1 {
		return ""
	}
	return symbol[idx+1:]
}
