package intake

import (
	"strings"

	"github.com/cyberguard/internal/catalog"
)

// Command is the meaning of one user utterance.
type Command int

const (
	Answer Command = iota
	Next
	Back
	Submit
	Repeat
)

func (c Command) String() string {
	switch c {
	case Next:
		return "next"
	case Back:
		return "back"
	case Submit:
		return "submit"
	case Repeat:
		return "repeat"
	default:
		return "answer"
	}
}

// Classify matches an utterance, trimmed and case-insensitively, against the
// localized keywords and their English words. Anything else is an Answer.
func Classify(utterance string, keywords catalog.Commands) Command {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return Answer
	}

	table := []struct {
		cmd     Command
		keyword string
		english string
	}{
		{Next, keywords.Next, "next"},
		{Back, keywords.Back, "back"},
		{Submit, keywords.Submit, "submit"},
		{Repeat, keywords.Repeat, "repeat"},
	}
	for _, row := range table {
		if u == row.english || (row.keyword != "" && u == strings.ToLower(row.keyword)) {
			return row.cmd
		}
	}
	return Answer
}
