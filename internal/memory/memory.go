/*
Package memory keeps the ordered log of conversation turns for the active session
and renders it as a text block for inclusion in a prompt.

The log is unbounded: nothing is evicted or summarised while a session lives.
Long sessions therefore grow every prompt; Window is the opt-in way to render
only the most recent turns.
*/
package memory

import (
	"strings"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation log.
type Turn struct {
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

// Memory is an append-only sequence of turns owned by one session.
// It is not safe for concurrent writers; the caller serialises access.
type Memory struct {
	turns []Turn
	next  int
}

// New returns an empty memory.
func New() *Memory {
	return &Memory{next: 1}
}

// Append adds a turn and returns it with its assigned ordinal.
func (m *Memory) Append(role Role, text string) Turn {
	if m.next == 0 {
		m.next = 1
	}
	t := Turn{Role: role, Text: text, Ordinal: m.next}
	m.turns = append(m.turns, t)
	m.next++
	return t
}

// Len returns the number of turns.
func (m *Memory) Len() int { return len(m.turns) }

// Turns returns a copy of the log, oldest first.
func (m *Memory) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Render returns the whole log as "Speaker: text" lines, oldest first.
// An empty memory renders as "".
func (m *Memory) Render() string {
	return renderTurns(m.turns)
}

// Clear resets the memory to empty. Only an explicit session reset calls this.
func (m *Memory) Clear() {
	m.turns = nil
	m.next = 1
}

// Replace discards the current log and installs turns verbatim, in order.
// Ordinals are reassigned from 1 so they stay strictly increasing.
func (m *Memory) Replace(turns []Turn) {
	m.Clear()
	for _, t := range turns {
		m.Append(t.Role, t.Text)
	}
}

// Speaker returns the prefix a role is rendered with.
func Speaker(r Role) string {
	switch r {
	case RoleUser:
		return "Human"
	case RoleAssistant:
		return "AI"
	default:
		return string(r)
	}
}

func renderTurns(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Speaker(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// Renderer turns a memory into the history block placed in a prompt.
type Renderer interface {
	Render(m *Memory) string
}

// Full renders every turn. It is the default.
type Full struct{}

func (Full) Render(m *Memory) string { return m.Render() }

// Window renders only the last Turns turns. The memory itself keeps everything.
// Turns <= 0 renders the full log. Whole exchanges are kept: a window that would
// open on an AI turn is widened by one so the history starts with its question.
type Window struct {
	Turns int
}

func (w Window) Render(m *Memory) string {
	if w.Turns <= 0 || w.Turns >= len(m.turns) {
		return m.Render()
	}
	start := len(m.turns) - w.Turns
	if m.turns[start].Role == RoleAssistant {
		start--
	}
	return renderTurns(m.turns[start:])
}

// NewRenderer picks Full for window <= 0 and Window otherwise.
func NewRenderer(window int) Renderer {
	if window <= 0 {
		return Full{}
	}
	return Window{Turns: window}
}
