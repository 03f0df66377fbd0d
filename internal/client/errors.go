package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/stemsi/interview-engine/internal/model"
)

// APIError is a non-2xx response from the interview API.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("interview api: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("interview api: %s: status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Is matches model.ErrSessionAlreadyCompleted for a 409, or for a 400 whose
// detail says the session is already completed.
func (e *APIError) Is(target error) bool {
	if target != model.ErrSessionAlreadyCompleted {
		return false
	}
	switch e.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(e.Detail), "already completed")
	}
	return false
}

// parseDetail extracts the {"detail": ...} field the API uses for errors.
// detail may be a string or a validation list; lists are kept as raw JSON.
func parseDetail(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return truncate(string(raw), 200)
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return truncate(string(body.Detail), 200)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
