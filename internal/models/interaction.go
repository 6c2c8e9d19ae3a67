package models

import "fmt"

// Kind is the mode of an agent invocation.
type Kind int

const (
	KindSummarize Kind = iota
	KindSay
	KindReact
)

// DefaultSpeaker is used when an interaction names no speaker.
const DefaultSpeaker = "Interviewer"

// ParseKind maps a wire value to a Kind. Anything other than "say" or
// "react" is a summary request.
func ParseKind(s string) Kind {
	switch s {
	case "say":
		return KindSay
	case "react":
		return KindReact
	default:
		return KindSummarize
	}
}

func (k Kind) String() string {
	switch k {
	case KindSay:
		return "say"
	case KindReact:
		return "react"
	case KindSummarize:
		return "summarize"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Interaction is one request to the agent.
// Content is untyped because it arrives from decoded JSON and must be validated.
type Interaction struct {
	Kind    Kind
	Speaker string
	Content any
}

// Text returns Content if it is a string.
func (i Interaction) Text() (string, bool) {
	s, ok := i.Content.(string)
	return s, ok
}

// SpeakerOrDefault returns the speaker, falling back to DefaultSpeaker.
func (i Interaction) SpeakerOrDefault() string {
	if i.Speaker == "" {
		return DefaultSpeaker
	}
	return i.Speaker
}
