package conversation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Answer is a yes/no reading of free text.
type Answer int

const (
	AnswerNone Answer = iota
	AnswerYes
	AnswerNo
)

var (
	yesPhrases = []string{
		"si", "ok", "okay", "va bene", "perfetto", "confermo", "confermata", "certo", "assolutamente", "procedi", "vai",
		"yes", "yep", "yeah", "sure", "confirm", "confirmed", "go ahead", "sounds good", "perfect",
	}
	// Checked before yesPhrases so that "non va bene" is not read as "va bene".
	noPhrases = []string{
		"non va bene", "non confermo", "no", "annulla", "cancella", "negativo", "rifiuto",
		"nope", "cancel", "not ok", "dont", "do not", "reject",
	}
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases text, removes accents and punctuation, and collapses whitespace.
func Normalize(text string) string {
	folded, _, err := transform.String(stripMarks, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		if r == '\'' || r == '’' {
			return -1
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(cleaned), " ")
}

// ParseConfirmation reads a yes or a no out of a short reply.
func ParseConfirmation(text string) Answer {
	padded := " " + Normalize(text) + " "
	if padded == "  " {
		return AnswerNone
	}
	for _, p := range noPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return AnswerNo
		}
	}
	for _, p := range yesPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return AnswerYes
		}
	}
	return AnswerNone
}
