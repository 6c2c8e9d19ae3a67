package models

// ChatMessage is one entry of a chat transcript. Content is untyped so that a
// non-string value can be rejected instead of failing JSON decoding.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Messages        []ChatMessage `json:"messages"`
	InteractionType string        `json:"interaction_type"`
	Speaker         string        `json:"speaker,omitempty"`
}

// Interaction maps the request onto an Interaction using the last message.
// ok is false when there is no message to answer.
func (r ChatRequest) Interaction() (Interaction, bool) {
	if len(r.Messages) == 0 {
		return Interaction{}, false
	}
	return Interaction{
		Kind:    ParseKind(r.InteractionType),
		Speaker: r.Speaker,
		Content: r.Messages[len(r.Messages)-1].Content,
	}, true
}

// StreamEvent is one websocket frame of a streamed reply.
type StreamEvent struct {
	Token string  `json:"token,omitempty"`
	Done  bool    `json:"done"`
	Error *string `json:"error,omitempty"`
}
