package spotter

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Score rates how closely transcript matches phrase, in [0, 1].
//
// Both strings are normalised (lowercase, letters and spaces only). Every
// window of the transcript with as many words as the phrase is compared:
// the Jaro-Winkler similarity of the window is weighted by the fraction of
// phrase words whose Double Metaphone codes appear in the window, so that
// mishearings like "hey calender" still score high while unrelated speech of
// similar spelling does not.
func Score(transcript, phrase string) float64 {
	tw := words(transcript)
	pw := words(phrase)
	if len(tw) == 0 || len(pw) == 0 {
		return 0
	}

	n := len(pw)
	if len(tw) < n {
		n = len(tw)
	}
	full := strings.Join(pw, " ")
	concat := strings.Join(pw, "")

	var best float64
	for i := 0; i+n <= len(tw); i++ {
		win := tw[i : i+n]
		jw := matchr.JaroWinkler(strings.Join(win, " "), full, false)
		if s := matchr.JaroWinkler(strings.Join(win, ""), concat, false); s > jw {
			jw = s
		}
		s := jw * (0.6 + 0.4*phoneticCoverage(win, pw))
		// Short windows cannot be a full match.
		s *= float64(n) / float64(len(pw))
		if s > best {
			best = s
		}
	}
	if best > 1 {
		return 1
	}
	return best
}

// phoneticCoverage returns the fraction of phrase words whose metaphone codes
// overlap with any window word.
func phoneticCoverage(window, phrase []string) float64 {
	have := make(map[string]struct{}, len(window)*2)
	for _, w := range window {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			have[p] = struct{}{}
		}
		if s != "" {
			have[s] = struct{}{}
		}
	}
	var hit int
	for _, w := range phrase {
		p, s := matchr.DoubleMetaphone(w)
		_, okP := have[p]
		_, okS := have[s]
		if (p != "" && okP) || (s != "" && okS) {
			hit++
		}
	}
	return float64(hit) / float64(len(phrase))
}

func words(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
