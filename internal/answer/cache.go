// Package answer holds the in-memory draft answers of one session.
package answer

import (
	"strings"

	"github.com/stemsi/interview-engine/internal/model"
)

// Draft is a possibly unsaved answer. Option is used by multiple_choice
// questions (nil means nothing selected), Text by free_text questions.
type Draft struct {
	Option *int   `json:"option,omitempty"`
	Text   string `json:"text,omitempty"`
}

// OptionDraft builds a multiple_choice draft.
func OptionDraft(index int) Draft {
	return Draft{Option: &index}
}

// TextDraft builds a free_text draft.
func TextDraft(text string) Draft {
	return Draft{Text: text}
}

// Answered reports whether d holds a non-empty answer for kind.
// Whitespace-only text does not count.
func (d Draft) Answered(kind model.QuestionKind) bool {
	switch kind {
	case model.QuestionKindMultipleChoice:
		return d.Option != nil && *d.Option >= 0
	case model.QuestionKindFreeText:
		return strings.TrimSpace(d.Text) != ""
	default:
		return false
	}
}

func (d Draft) clone() Draft {
	out := Draft{Text: d.Text}
	if d.Option != nil {
		v := *d.Option
		out.Option = &v
	}
	return out
}

// Cache maps question ids to drafts. It is not safe for concurrent use; the
// session controller owns it.
//
// A question with no entry has not been visited yet. A visited question with
// an empty draft has been shown but not answered.
type Cache struct {
	kinds  map[model.ID]model.QuestionKind
	drafts map[model.ID]Draft
}

// NewCache creates an empty cache for questions.
func NewCache(questions []model.Question) *Cache {
	c := &Cache{
		kinds:  make(map[model.ID]model.QuestionKind, len(questions)),
		drafts: make(map[model.ID]Draft, len(questions)),
	}
	for _, q := range questions {
		c.kinds[q.ID] = q.Kind
	}
	return c
}

// Visit creates an empty draft the first time a question is shown and
// reports whether this was the first visit.
func (c *Cache) Visit(id model.ID) bool {
	if _, ok := c.drafts[id]; ok {
		return false
	}
	c.drafts[id] = Draft{}
	return true
}

// Visited reports whether id has a draft entry.
func (c *Cache) Visited(id model.ID) bool {
	_, ok := c.drafts[id]
	return ok
}

// Set replaces the draft for id.
func (c *Cache) Set(id model.ID, d Draft) {
	c.drafts[id] = d.clone()
}

// SetOption selects an option for a multiple_choice question.
func (c *Cache) SetOption(id model.ID, index int) {
	c.Set(id, OptionDraft(index))
}

// SetText stores free text for a free_text question.
func (c *Cache) SetText(id model.ID, text string) {
	c.Set(id, TextDraft(text))
}

// Get returns a copy of the draft for id.
func (c *Cache) Get(id model.ID) (Draft, bool) {
	d, ok := c.drafts[id]
	if !ok {
		return Draft{}, false
	}
	return d.clone(), true
}

// IsAnswered reports whether id has a non-empty draft.
func (c *Cache) IsAnswered(id model.ID) bool {
	d, ok := c.drafts[id]
	if !ok {
		return false
	}
	return d.Answered(c.kinds[id])
}

// Restore seeds drafts for known questions that have no entry yet.
// Unknown ids are ignored.
func (c *Cache) Restore(drafts map[model.ID]Draft) int {
	restored := 0
	for id, d := range drafts {
		if _, known := c.kinds[id]; !known {
			continue
		}
		if _, exists := c.drafts[id]; exists {
			continue
		}
		c.drafts[id] = d.clone()
		restored++
	}
	return restored
}

// Len returns the number of visited questions.
func (c *Cache) Len() int {
	return len(c.drafts)
}

// Reset destroys every draft.
func (c *Cache) Reset() {
	c.drafts = make(map[model.ID]Draft)
}
