package winescan

import "strings"

const minQueryTokenLen = 3

// ScoreConfidence estimates how likely matchedName is the wine the query
// asked for. It is a coarse token-overlap heuristic mapped onto fixed bands;
// an empty matchedName means "no candidate" and scores 0.
func ScoreConfidence(query, matchedName string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	m := strings.ToLower(strings.TrimSpace(matchedName))
	if m == "" {
		return 0
	}
	if strings.Join(strings.Fields(q), " ") == strings.Join(strings.Fields(m), " ") {
		return 1.0
	}

	matchedTokens := strings.Fields(m)
	total := 0
	hits := 0
	for _, tok := range strings.Fields(q) {
		if len([]rune(tok)) < minQueryTokenLen {
			continue
		}
		total++
		for _, mt := range matchedTokens {
			if strings.Contains(mt, tok) || strings.Contains(tok, mt) {
				hits++
				break
			}
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return confidenceBand(ratio)
}

func confidenceBand(ratio float64) float64 {
	switch {
	case ratio >= 0.8:
		return 0.9
	case ratio >= 0.6:
		return 0.75
	case ratio >= 0.4:
		return 0.6
	default:
		return 0.4
	}
}
