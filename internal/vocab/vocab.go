// Package vocab corrects misrecognized custom vocabulary (product names,
// jargon, people) in recognized text.
//
// Matching runs in two stages. Double Metaphone codes of the spoken words are
// compared with those of each term; terms sharing a code are ranked by
// Jaro-Winkler similarity and accepted above the phonetic threshold. When no
// term sounds alike, a stricter fuzzy threshold on Jaro-Winkler alone
// applies. Windows of up to the longest term's word count are tried so
// multi-word terms win over partial single-word matches.
package vocab

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen excludes short function words ("a", "is") from single-word
	// matching.
	minTokenLen = 3
)

// Substitution records one replacement made by [Corrector.Correct].
type Substitution struct {
	Original   string
	Term       string
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no term
// matches phonetically. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// term is a vocabulary entry with its codes computed once.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector replaces near-miss spellings of known terms. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares a [Corrector] for terms. Blank and duplicate terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			canonical: t,
			lower:     lower,
			tokens:    tokens,
			codes:     codesFor(tokens),
		})
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Terms returns the canonical spelling of every prepared term.
func (c *Corrector) Terms() []string {
	out := make([]string, len(c.terms))
	for i, t := range c.terms {
		out[i] = t.canonical
	}
	return out
}

// Len returns the number of prepared terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with matching word windows replaced by the canonical
// term spelling. Punctuation around a replaced window is kept. Tokens are
// re-joined with single spaces.
func (c *Corrector) Correct(text string) (string, []Substitution) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var (
		out  = make([]string, 0, len(tokens))
		subs []Substitution
	)
	for i := 0; i < len(tokens); {
		n, sub, ok := c.matchAt(tokens, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		lead, _ := splitPunct(tokens[i])
		_, trail := splitPunct(tokens[i+n-1])
		out = append(out, lead+sub.Term+trail)
		if sub.Original != sub.Term {
			subs = append(subs, sub)
		}
		i += n
	}
	if len(subs) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), subs
}

// matchAt tries windows starting at tokens[i], longest first.
func (c *Corrector) matchAt(tokens []string, i int) (int, Substitution, bool) {
	maxN := min(c.maxWindow(), len(tokens)-i)
	for n := maxN; n >= 1; n-- {
		words := make([]string, 0, n)
		for k := range n {
			if _, core := splitCore(tokens[i+k]); core != "" {
				words = append(words, core)
			}
		}
		if len(words) != n {
			continue
		}
		if n == 1 && utf8.RuneCountInString(words[0]) < minTokenLen {
			continue
		}
		if t, score, ok := c.match(words); ok {
			return n, Substitution{Original: strings.Join(words, " "), Term: t, Confidence: score}, true
		}
	}
	return 0, Substitution{}, false
}

// maxWindow is the longest word window worth trying. Single-word terms are
// also tried against two spoken words ("cube ernetes").
func (c *Corrector) maxWindow() int {
	return max(c.maxWords, 2)
}

// match finds the best term for a window of spoken words.
func (c *Corrector) match(words []string) (string, float64, bool) {
	lower := strings.ToLower(strings.Join(words, " "))
	tokens := strings.Fields(lower)
	codes := codesFor(tokens)
	joined := strings.Join(tokens, "")
	joinedCodes := codesFor([]string{joined})

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for _, t := range c.terms {
		if t.lower == lower {
			return t.canonical, 1, true
		}

		switch {
		case len(t.tokens) == len(tokens):
			score, ok := alignedScore(tokens, t.tokens, lower, t.lower)
			if !ok {
				continue
			}
			if overlaps(codes, t.codes) {
				if score >= c.phoneticThreshold && (!bestPhon || score > bestScore) {
					best, bestScore, bestPhon = t.canonical, score, true
				}
				continue
			}
			if !bestPhon && score >= c.fuzzyThreshold && score > bestScore {
				best, bestScore = t.canonical, score
			}

		case len(t.tokens) == 1 && len(tokens) > 1:
			// A split word must both sound and look like the term.
			if !splitCandidate(tokens, joined, t.lower) || !overlaps(joinedCodes, t.codes) {
				continue
			}
			score := matchr.JaroWinkler(joined, t.lower, false)
			if score >= c.phoneticThreshold && (!bestPhon || score > bestScore) {
				best, bestScore, bestPhon = t.canonical, score, true
			}
		}
	}
	return best, bestScore, best != ""
}

// splitCandidate reports whether spoken words could be one term heard as
// several: every part is shorter than the term and the joined length stays
// within a third of it.
func splitCandidate(tokens []string, joined, term string) bool {
	n := utf8.RuneCountInString(term)
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) >= n {
			return false
		}
	}
	ratio := float64(utf8.RuneCountInString(joined)) / float64(n)
	return ratio >= 0.75 && ratio <= 4.0/3
}

// pairFloor is the minimum similarity of each aligned word pair in a
// multi-word match.
const pairFloor = 0.6

// alignedScore compares a window with a term of the same word count. The
// score is the Jaro-Winkler similarity of the full strings; it fails when any
// aligned word pair falls below pairFloor.
func alignedScore(spoken, term []string, spokenFull, termFull string) (float64, bool) {
	if len(spoken) > 1 {
		for k := range spoken {
			if matchr.JaroWinkler(spoken[k], term[k], false) < pairFloor {
				return 0, false
			}
		}
	}
	return matchr.JaroWinkler(spokenFull, termFull, false), true
}

// codesFor returns the union of the Double Metaphone codes of tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// splitPunct separates leading and trailing punctuation from a token.
func splitPunct(tok string) (lead, trail string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:start], tok[end+size:]
}

// splitCore returns the leading punctuation and the word core of tok.
func splitCore(tok string) (string, string) {
	lead, trail := splitPunct(tok)
	return lead, tok[len(lead) : len(tok)-len(trail)]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
