package changes

import (
	"strings"
	"unicode"
)

// overlapThreshold is the word overlap ratio above which two items are the same.
const overlapThreshold = 0.6

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordSet(normalized string) map[string]struct{} {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// similar reports whether two items describe the same thing: an exact match
// after normalization, one containing the other, or word overlap above the
// threshold measured against the smaller word set.
func similar(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return na == nb
	}
	if na == nb {
		return true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	wa, wb := wordSet(na), wordSet(nb)
	smaller := len(wa)
	if len(wb) < smaller {
		smaller = len(wb)
	}
	if smaller == 0 {
		return false
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared)/float64(smaller) > overlapThreshold
}

// novel returns items of current that have no similar counterpart in previous.
func novel(current, previous []string) []string {
	out := []string{}
	for _, c := range current {
		found := false
		for _, p := range previous {
			if similar(c, p) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return out
}
