package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "si va bene", Normalize("  Sì,   va bene!! "))
	assert.Equal(t, "perche no", Normalize("Perché no?"))
	assert.Equal(t, "dont", Normalize("Don't"))
}

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		text string
		want Answer
	}{
		{"Sì", AnswerYes},
		{"ok grazie", AnswerYes},
		{"Va bene!", AnswerYes},
		{"confermo", AnswerYes},
		{"Yes please", AnswerYes},
		{"sounds good", AnswerYes},
		{"no", AnswerNo},
		{"No, annulla", AnswerNo},
		{"non va bene", AnswerNo},
		{"please cancel", AnswerNo},
		{"Don't", AnswerNo},
		{"vorrei le 21", AnswerNone},
		{"okapi", AnswerNone},
		{"", AnswerNone},
		{"!!!", AnswerNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseConfirmation(c.text), c.text)
	}
}
