package winescan

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// Known response envelopes, tried in priority order. A new variant is one
// more line here.
var envelopePaths = []*jmespath.JMESPath{
	jmespath.MustCompile("@"),
	jmespath.MustCompile("results"),
	jmespath.MustCompile("scores"),
	jmespath.MustCompile("data"),
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var (
	scoreKeys   = []string{"score", "rating", "points", "value"}
	criticKeys  = []string{"critic", "critic_name", "publication", "source", "reviewer", "author"}
	vintageKeys = []string{"vintage", "year"}
	windowKeys  = []string{"drinking_window", "drink_window", "window"}
)

// unwrapEnvelope returns the first array found by the known envelope paths,
// or nil when the body is empty, malformed, or has no recognizable list.
func unwrapEnvelope(body []byte) []any {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	for _, path := range envelopePaths {
		v, err := path.Search(doc)
		if err != nil {
			continue
		}
		if arr, ok := v.([]any); ok {
			return arr
		}
	}
	return nil
}

// DecodeCriticScores converts a loosely-shaped critic score payload into
// canonical CriticScore values. Records without a positive score are dropped.
func DecodeCriticScores(body []byte) []CriticScore {
	records := unwrapEnvelope(body)
	out := make([]CriticScore, 0, len(records))
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		score, ok := firstNumber(m, scoreKeys)
		if !ok || score <= 0 || math.IsNaN(score) {
			continue
		}
		cs := CriticScore{
			Critic:         firstString(m, criticKeys),
			Score:          score,
			Vintage:        firstString(m, vintageKeys),
			DrinkingWindow: firstString(m, windowKeys),
		}
		if cs.DrinkingWindow == "" {
			cs.DrinkingWindow = drinkWindowFromRange(m)
		}
		out = append(out, cs)
	}
	return out
}

func drinkWindowFromRange(m map[string]any) string {
	from := firstString(m, []string{"drink_from", "from"})
	to := firstString(m, []string{"drink_to", "to"})
	switch {
	case from != "" && to != "":
		return from + "-" + to
	case from != "":
		return from + "+"
	}
	return ""
}

func firstNumber(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			match := numberRe.FindString(n)
			if match == "" {
				continue
			}
			f, err := strconv.ParseFloat(match, 64)
			if err != nil {
				continue
			}
			return f, true
		}
	}
	return 0, false
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case map[string]any:
			if name := firstString(s, []string{"name"}); name != "" {
				return name
			}
		}
	}
	return ""
}
