package classifier

import (
	"context"
	"strings"
	"unicode"
)

// Reply is the interpretation of a free-text answer to a yes/no prompt.
type Reply string

const (
	ReplyYes   Reply = "yes"
	ReplyNo    Reply = "no"
	ReplyOther Reply = "other"
)

// ReplyClassifier interprets an answer to a confirmation prompt.
type ReplyClassifier interface {
	ClassifyReply(ctx context.Context, text string) (Reply, error)
}

var (
	affirmative = []string{
		"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed",
		"proceed", "go ahead", "do it", "sounds good", "correct", "book it", "please do",
		"proceed anyway", "absolutely", "definitely",
	}
	negative = []string{
		"no", "n", "nope", "nah", "cancel", "stop", "abort", "don't", "do not",
		"never mind", "nevermind", "forget it", "not now",
	}
	hesitant = []string{"not sure", "maybe", "i don't know", "dont know"}
)

// Keywords is a ReplyClassifier that matches a small vocabulary of answers.
// Replies that match both vocabularies, or neither, are ReplyOther.
type Keywords struct{}

// ClassifyReply never fails.
func (Keywords) ClassifyReply(_ context.Context, text string) (Reply, error) {
	return MatchReply(text), nil
}

// MatchReply classifies text against the keyword vocabularies.
func MatchReply(text string) Reply {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(words) == 0 {
		return ReplyOther
	}
	normalized := " " + strings.Join(words, " ") + " "

	if matchesAny(normalized, hesitant) {
		return ReplyOther
	}
	yes := matchesAny(normalized, affirmative)
	no := matchesAny(normalized, negative)
	switch {
	case yes && !no:
		return ReplyYes
	case no && !yes:
		return ReplyNo
	default:
		return ReplyOther
	}
}

func matchesAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, " "+p+" ") {
			return true
		}
	}
	return false
}
