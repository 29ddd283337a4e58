package winescan

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var quoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‛", "'", "ʼ", "'", "`", "'", "´", "'",
	"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
)

var dotLeaderRe = regexp.MustCompile(`\.{2,}|\x{2026}`)

// Abbreviations are expanded with a trailing space so an expansion can never
// glue itself to the next token.
var abbreviations = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bch\.\s*`), "Château "},
	{regexp.MustCompile(`(?i)\bchât\.\s*`), "Château "},
	{regexp.MustCompile(`(?i)\bdom\.\s*`), "Domaine "},
	{regexp.MustCompile(`(?i)\bste\.\s*`), "Sainte "},
	{regexp.MustCompile(`(?i)\bst\.\s*`), "Saint "},
	{regexp.MustCompile(`(?i)\bmt\.\s*`), "Mount "},
	{regexp.MustCompile(`(?i)\bcab\.?\s*sauv\.?\b`), "Cabernet Sauvignon"},
}

func isStrippedGlyph(r rune) bool {
	switch r {
	case '•', '·', '●', '▪', '‣', '◦', '⁃', '*':
		return true
	}
	return unicode.Is(unicode.Sc, r)
}

// NormalizeQuery turns a raw OCR wine name into the canonical query sent to
// the identity service. It is idempotent.
func NormalizeQuery(raw string) string {
	s := norm.NFC.String(raw)
	s = quoteReplacer.Replace(s)
	s = dotLeaderRe.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if isStrippedGlyph(r) {
			return ' '
		}
		return r
	}, s)
	s = collapseSpaces(s)
	s = fixOCRConfusions(s)
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, a.repl)
	}
	return collapseSpaces(s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fixOCRConfusions rewrites '0' and '|' to letters when both neighbours in
// the input are letters. Decisions only look at the original runes, so a
// replaced rune never changes the outcome for its neighbours.
func fixOCRConfusions(s string) string {
	runes := []rune(s)
	out := make([]rune, len(runes))
	copy(out, runes)
	for i := 1; i < len(runes)-1; i++ {
		if !unicode.IsLetter(runes[i-1]) || !unicode.IsLetter(runes[i+1]) {
			continue
		}
		switch runes[i] {
		case '0':
			out[i] = 'o'
			if unicode.IsUpper(runes[i-1]) && unicode.IsUpper(runes[i+1]) {
				out[i] = 'O'
			}
		case '|':
			out[i] = 'l'
		}
	}
	return string(out)
}
