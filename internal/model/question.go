package model

import (
	"encoding/json"
	"strings"
)

// QuestionKind is the answer shape a question expects.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	QuestionKindFreeText       QuestionKind = "free_text"
)

// UnmarshalJSON accepts the aliases the interview API has used over time
// ("mcq", "short_answer") and folds them onto the two supported kinds.
// Anything else is kept verbatim so Snapshot.Validate can reject it.
func (k *QuestionKind) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "multiple_choice", "mcq", "multiple-choice":
		*k = QuestionKindMultipleChoice
	case "free_text", "short_answer", "text", "essay":
		*k = QuestionKindFreeText
	default:
		*k = QuestionKind(raw)
	}
	return nil
}

// SubmittedAnswer is the answer the API already holds for a question when a
// partially completed session is resumed. SelectedOption is option text.
type SubmittedAnswer struct {
	AnswerText     *string `json:"answer_text"`
	SelectedOption *string `json:"selected_option"`
}

// Question is one interview question as delivered by the API.
type Question struct {
	ID              ID               `json:"id"`
	Kind            QuestionKind     `json:"question_type"`
	Prompt          string           `json:"question_text"`
	Options         []string         `json:"options,omitempty"`
	SubmittedAnswer *SubmittedAnswer `json:"submitted_answer,omitempty"`
}

// OptionIndex returns the index of the option whose text equals text.
func (q Question) OptionIndex(text string) (int, bool) {
	for i, opt := range q.Options {
		if opt == text {
			return i, true
		}
	}
	return -1, false
}
