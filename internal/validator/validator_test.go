package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type attachBody struct {
	SessionID string `json:"session_id" binding:"required,resource_id"`
}

func bindBody(t *testing.T, body string) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	Setup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst attachBody
	return Bind(c, &dst)
}

func TestBindAcceptsResourceID(t *testing.T) {
	if errs := bindBody(t, `{"session_id":"42"}`); errs != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestBindRejectsBadResourceID(t *testing.T) {
	errs := bindBody(t, `{"session_id":"../etc"}`)
	if errs["session_id"] != "session_id must be a valid id" {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestBindReportsMissingField(t *testing.T) {
	errs := bindBody(t, `{}`)
	if _, ok := errs["session_id"]; !ok {
		t.Fatalf("expected session_id error, got %v", errs)
	}
}

func TestBindReportsSyntaxError(t *testing.T) {
	errs := bindBody(t, `{`)
	if _, ok := errs["detail"]; !ok {
		t.Fatalf("expected detail, got %v", errs)
	}
}

func TestIsResourceID(t *testing.T) {
	for _, s := range []string{"1", "abc-DEF_9", "550e8400-e29b-41d4-a716-446655440000"} {
		if !IsResourceID(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []string{"", "a b", "a/b", strings.Repeat("x", 65)} {
		if IsResourceID(s) {
			t.Fatalf("%q should be invalid", s)
		}
	}
}
