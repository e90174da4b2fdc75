package security

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// NameSimilarity returns a similarity ratio in [0,1] between two names based
// on edit distance. Comparison is case-insensitive with surrounding
// whitespace ignored. Two empty names are identical (1.0).
func NameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// SequentialEmails reports whether two addresses look machine-generated from
// the same template, e.g. user1@x.com and user2@x.com. Domains must match;
// the local parts must become identical once digit runs are collapsed, and at
// least one must actually contain digits.
func SequentialEmails(a, b string) bool {
	aLocal, aDomain, okA := splitEmail(a)
	bLocal, bDomain, okB := splitEmail(b)
	if !okA || !okB {
		return false
	}
	if aDomain != bDomain {
		return false
	}
	if aLocal == bLocal {
		return false
	}

	aStripped, aDigits := collapseDigits(aLocal)
	bStripped, bDigits := collapseDigits(bLocal)
	if !aDigits && !bDigits {
		return false
	}
	return aStripped == bStripped && aStripped != ""
}

func splitEmail(addr string) (local, domain string, ok bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

// collapseDigits replaces every run of digits with a single '#' marker and
// reports whether any digits were present.
func collapseDigits(s string) (string, bool) {
	var b strings.Builder
	hadDigits := false
	inRun := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			hadDigits = true
			if !inRun {
				b.WriteByte('#')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String(), hadDigits
}
