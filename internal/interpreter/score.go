package interpreter

import (
	"sort"
	"strings"

	"browsernerd/internal/types"
)

// Scoring constants, taken from observed behavior of the original system.
const (
	exactHitScore   = 1.0
	partialHitScore = 0.5
	categoryBonus   = 0.3
	acceptThreshold = 0.2
	acceptMargin    = 0.1
)

// ScoredCandidate pairs an element with its similarity score. Surfaced in
// Ambiguous/Unrecognized diagnostics.
type ScoredCandidate struct {
	Element types.Element `json:"element"`
	Score   float64       `json:"score"`
}

// groundStatus classifies the outcome of page grounding.
type groundStatus int

const (
	groundOK groundStatus = iota
	// groundAmbiguous: top two candidates within the accept margin.
	groundAmbiguous
	// groundWeak: best candidate below the accept threshold.
	groundWeak
	// groundEmpty: nothing scored above zero.
	groundEmpty
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "on": {}, "in": {}, "into": {}, "to": {},
}

// categoryTags maps instruction type keywords to the tags they are
// consistent with.
var categoryTags = map[string]map[string]struct{}{
	"search": {"input": {}, "textarea": {}},
	"field":  {"input": {}, "textarea": {}, "select": {}},
	"button": {"button": {}, "input": {}},
	"link":   {"a": {}},
}

func tokenize(phrase string) []string {
	var out []string
	for _, t := range strings.Fields(strings.ToLower(phrase)) {
		t = strings.Trim(t, `"'.,:;!?`)
		if t == "" {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// scoreElement accumulates similarity between the tokenized phrase and one
// element, normalized by token count.
func scoreElement(tokens []string, e types.Element) float64 {
	if len(tokens) == 0 {
		return 0
	}
	haystacks := []string{
		strings.ToLower(e.Text),
		strings.ToLower(e.Placeholder),
		strings.ToLower(e.Name),
		strings.ToLower(e.AriaLabel),
		strings.ToLower(e.ID),
		strings.ToLower(e.Class),
		strings.ToLower(e.Title),
		strings.ToLower(e.Value),
	}

	var score float64
	bonusGiven := false
	for _, tok := range tokens {
		best := 0.0
		for _, h := range haystacks {
			if h == "" {
				continue
			}
			if wordMatch(h, tok) {
				best = exactHitScore
				break
			}
			if strings.Contains(h, tok) && best < partialHitScore {
				best = partialHitScore
			}
		}
		score += best

		if !bonusGiven {
			if tags, ok := categoryTags[tok]; ok {
				if _, consistent := tags[e.Tag]; consistent {
					score += categoryBonus
					bonusGiven = true
				}
			}
		}
	}
	return score / float64(len(tokens))
}

func wordMatch(haystack, token string) bool {
	for _, w := range strings.FieldsFunc(haystack, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.' || r == '/' || r == ':'
	}) {
		if w == token {
			return true
		}
	}
	return false
}

// ground scores every snapshot element against the phrase and classifies the
// outcome. Candidates come back sorted by score descending.
func ground(phrase string, snap *types.PageSnapshot) ([]ScoredCandidate, groundStatus) {
	tokens := tokenize(phrase)
	var scored []ScoredCandidate
	for _, e := range snap.Elements {
		s := scoreElement(tokens, e)
		if s > 0 {
			scored = append(scored, ScoredCandidate{Element: e, Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) == 0 {
		return nil, groundEmpty
	}
	top := scored[0].Score
	if top < acceptThreshold {
		return scored, groundWeak
	}
	if len(scored) > 1 && top-scored[1].Score < acceptMargin {
		return scored, groundAmbiguous
	}
	return scored, groundOK
}

// topN returns at most n candidates for diagnostics.
func topN(scored []ScoredCandidate, n int) []ScoredCandidate {
	if len(scored) <= n {
		return scored
	}
	return scored[:n]
}
