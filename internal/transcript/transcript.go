/*
Package transcript persists the conversation log between process runs.

A transcript is a JSON array of {role, content} records. The default store keeps
it in a single local file; a PostgreSQL store keeps one document per session.
Nothing is written automatically: the caller saves and loads explicitly.
*/
package transcript

import (
	"context"

	"NutriPlan/internal/memory"
)

// Record is one persisted turn.
type Record struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store loads and saves a whole transcript.
type Store interface {
	// Load returns the saved transcript, or an empty one if nothing usable is stored.
	Load(ctx context.Context) ([]Record, error)
	// Save replaces the stored transcript in full.
	Save(ctx context.Context, records []Record) error
	// Health reports the state of the underlying storage.
	Health(ctx context.Context) map[string]string
}

// FromTurns converts memory turns to records, oldest first.
func FromTurns(turns []memory.Turn) []Record {
	out := make([]Record, 0, len(turns))
	for _, t := range turns {
		out = append(out, Record{Role: string(t.Role), Content: t.Text})
	}
	return out
}

// ToTurns converts records back to turns. Ordinals are assigned from 1.
// Records with an unknown role are skipped.
func ToTurns(records []Record) []memory.Turn {
	out := make([]memory.Turn, 0, len(records))
	for _, r := range records {
		role := memory.Role(r.Role)
		if role != memory.RoleUser && role != memory.RoleAssistant {
			continue
		}
		out = append(out, memory.Turn{Role: role, Text: r.Content, Ordinal: len(out) + 1})
	}
	return out
}
