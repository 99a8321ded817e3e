package domain

import (
	"fmt"
	"strings"
)

const InstructionSource = "instructions"

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Segment is one bounded piece of text sent to the completion service.
// Index is 1-based; Total is the number of segments of the same source.
type Segment struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Text   string `json:"text"`
}

func (s Segment) Header() string {
	if s.Total > 1 {
		return fmt.Sprintf("%s (chunk %d/%d)", s.Source, s.Index, s.Total)
	}
	return s.Source
}

// Render returns the text as it is placed into a request.
func (s Segment) Render() string {
	if s.Source == InstructionSource {
		return s.Text
	}
	return "### " + s.Header() + "\n" + s.Text
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries the full context segment set plus exactly one
// item chunk.
type CompletionRequest struct {
	Segments []Segment `json:"segments"`
	Item     Segment   `json:"item"`
}

// Messages renders the request for chat-style providers: every context
// segment as a system message, followed by one user message for the chunk.
func (r CompletionRequest) Messages() []Message {
	out := make([]Message, 0, len(r.Segments)+1)
	for _, segment := range r.Segments {
		out = append(out, Message{Role: RoleSystem, Content: segment.Render()})
	}
	out = append(out, Message{Role: RoleUser, Content: r.Item.Render()})
	return out
}

// Prompt renders the request as one combined input string for providers
// that do not accept message lists.
func (r CompletionRequest) Prompt() string {
	var b strings.Builder
	for _, segment := range r.Segments {
		b.WriteString(segment.Render())
		b.WriteString("\n\n")
	}
	b.WriteString(r.Item.Render())
	return b.String()
}
