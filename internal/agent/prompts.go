package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/models"
)

const reactionPrompt = `%s
It is %s.
%s's status: %s
Summary of relevant context from %s's memory:
%s
Most recent observations: %s
Observation: %s

%s`

const saySuffix = `What would %s say? To end the conversation, write: GOODBYE: "what to say". Otherwise to continue the conversation, write: SAY: "what to say next"`

const reactSuffix = `Should %[1]s react to the observation, and if so, what would be an appropriate reaction? Respond in one line. If the action is to engage in dialogue, write:
SAY: "what to say"
otherwise, write:
REACT: %[1]s's reaction (if anything).
Either do nothing, react, or say something but not both.`

const summaryPrompt = `How would you summarize %s's core characteristics given the following statements:
%s
Do not embellish.

Summary: `

const timeLayout = "January 02, 2006, 03:04 PM"

var (
	sayMarker      = regexp.MustCompile(`(?i)\bSAY:\s*`)
	goodbyeMarker  = regexp.MustCompile(`(?i)\bGOODBYE:\s*`)
	reactMarker    = regexp.MustCompile(`(?i)\bREACT:\s*`)
	surroundQuotes = strings.NewReplacer(`"`, "", "“", "", "”", "")
)

func formatScored(mems []memory.Scored) string {
	if len(mems) == 0 {
		return "(nothing relevant)"
	}
	var sb strings.Builder
	for _, s := range mems {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Memory.CreatedAt.Format(timeLayout), s.Memory.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRecent(mems []models.Memory) string {
	contents := make([]string, len(mems))
	for i, m := range mems {
		contents[i] = m.Content
	}
	return strings.Join(contents, "; ")
}

func buildReactionPrompt(p Persona, summary string, now time.Time, relevant []memory.Scored, recent []models.Memory, observation, suffix string) string {
	return fmt.Sprintf(reactionPrompt,
		summary,
		now.Format(timeLayout),
		p.Name, p.Status,
		p.Name, formatScored(relevant),
		formatRecent(recent),
		observation,
		suffix,
	)
}

// afterMarker returns the text following re in reply, or "" when re does not match.
func afterMarker(re *regexp.Regexp, reply string) (string, bool) {
	loc := re.FindStringIndex(reply)
	if loc == nil {
		return "", false
	}
	return cleanReply(reply[loc[1]:]), true
}

// cleanReply keeps the first line and drops quoting.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(surroundQuotes.Replace(s))
}
