package model

import "encoding/json"

// AnswerPayload is the body of POST /sessions/{id}/answers. Exactly one of
// AnswerText and SelectedOptionText carries the answer; the other is null
// (or an empty string, depending on the submission profile).
type AnswerPayload struct {
	QuestionID         ID      `json:"question_id"`
	AnswerText         *string `json:"answer_text"`
	SelectedOptionText *string `json:"selected_option_text"`
	TimeTakenSeconds   *int    `json:"time_taken_seconds,omitempty"`
}

// Clone returns a deep copy so stored submission records cannot be mutated
// through a returned value.
func (p AnswerPayload) Clone() AnswerPayload {
	out := AnswerPayload{QuestionID: p.QuestionID}
	if p.AnswerText != nil {
		v := *p.AnswerText
		out.AnswerText = &v
	}
	if p.SelectedOptionText != nil {
		v := *p.SelectedOptionText
		out.SelectedOptionText = &v
	}
	if p.TimeTakenSeconds != nil {
		v := *p.TimeTakenSeconds
		out.TimeTakenSeconds = &v
	}
	return out
}

// CompleteRequest is the body of POST /sessions/{id}/complete. An empty
// request marshals to {}.
type CompleteRequest struct {
	EarlyCompletion *bool `json:"early_completion,omitempty"`
}

// CompletionSummary is what the completion endpoint returns. The engine only
// keeps it for the results view; Raw holds the full body.
type CompletionSummary struct {
	SessionID       ID              `json:"session_id,omitempty"`
	Status          SessionStatus   `json:"status,omitempty"`
	OverallScore    *float64        `json:"overall_score,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

// SetAnswerRequest is the host payload for updating a draft answer.
type SetAnswerRequest struct {
	SelectedOption *int    `json:"selected_option" binding:"omitempty,min=0,max=64"`
	AnswerText     *string `json:"answer_text" binding:"omitempty,max=20000"`
}
