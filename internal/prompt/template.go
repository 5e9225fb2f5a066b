/*
Package prompt renders the plan-generation prompt by binding named {slot}
placeholders to profile fields, the rendered conversation history and the
user's question.

Every slot a template declares is known once the template is parsed, so a
missing field is reported by name before any backend is contacted.
*/
package prompt

import (
	"fmt"
	"io"

	"NutriPlan/internal/profile"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/valyala/fasttemplate"
)

// Reserved slots that are bound from the conversation rather than the profile.
const (
	SlotHistory   = "chat_history"
	SlotUserInput = "user_input"
)

const (
	startTag = "{"
	endTag   = "}"

	cacheSize = 32
)

// MissingSlotError reports a template slot the profile did not supply.
type MissingSlotError struct {
	Template string
	Slot     string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("template %q: missing value for slot %q", e.Template, e.Slot)
}

// Template is a compiled prompt template. It is read-only after Parse.
type Template struct {
	name  string
	text  string
	tpl   *fasttemplate.Template
	slots []string
}

var cache, _ = lru.New[string, *Template](cacheSize)

// Parse compiles text and enumerates its slots. Identical name and text
// return the same compiled template.
func Parse(name, text string) (*Template, error) {
	key := name + "\x00" + text
	if t, ok := cache.Get(key); ok {
		return t, nil
	}

	tpl, err := fasttemplate.NewTemplate(text, startTag, endTag)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}

	t := &Template{name: name, text: text, tpl: tpl, slots: collectSlots(tpl)}
	cache.Add(key, t)
	return t, nil
}

// MustParse is Parse for package-level templates.
func MustParse(name, text string) *Template {
	t, err := Parse(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// collectSlots walks the template once, recording each tag in order of first appearance.
func collectSlots(tpl *fasttemplate.Template) []string {
	var slots []string
	seen := make(map[string]bool)
	tpl.ExecuteFuncString(func(_ io.Writer, tag string) (int, error) {
		if !seen[tag] {
			seen[tag] = true
			slots = append(slots, tag)
		}
		return 0, nil
	})
	return slots
}

// Name returns the template's name.
func (t *Template) Name() string { return t.name }

// Text returns the raw template text.
func (t *Template) Text() string { return t.text }

// Slots returns every slot the template declares, in order of first appearance.
func (t *Template) Slots() []string {
	out := make([]string, len(t.slots))
	copy(out, t.slots)
	return out
}

// ProfileSlots returns the slots that must come from the profile.
func (t *Template) ProfileSlots() []string {
	var out []string
	for _, s := range t.slots {
		if s != SlotHistory && s != SlotUserInput {
			out = append(out, s)
		}
	}
	return out
}

// Missing lists every profile slot p does not supply, in template order.
func (t *Template) Missing(p profile.Data) []string {
	var missing []string
	for _, s := range t.ProfileSlots() {
		if !p.Has(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Render substitutes every slot. Values are inserted exactly as given.
// It fails with *MissingSlotError naming the first absent slot.
func (t *Template) Render(p profile.Data, history, userInput string) (string, error) {
	if missing := t.Missing(p); len(missing) > 0 {
		return "", &MissingSlotError{Template: t.name, Slot: missing[0]}
	}

	return t.tpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case SlotHistory:
			return io.WriteString(w, history)
		case SlotUserInput:
			return io.WriteString(w, userInput)
		}
		v, ok := p.Get(tag)
		if !ok {
			return 0, &MissingSlotError{Template: t.name, Slot: tag}
		}
		return io.WriteString(w, v)
	})
}
