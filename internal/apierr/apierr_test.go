package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCodeStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeInvalidCredentials: http.StatusUnauthorized,
		CodeForbidden:          http.StatusForbidden,
		CodeAccountDisabled:    http.StatusForbidden,
		CodeRateLimitExceeded:  http.StatusTooManyRequests,
		CodeBadRequest:         http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.Status(); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestAbortWith_Envelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	AbortWith(c, CodeRateLimitExceeded, "slow down", gin.H{"retry_after_minutes": 3})

	if w.Code != http.StatusTooManyRequests || !c.IsAborted() {
		t.Fatalf("expected aborted 429, got %d", w.Code)
	}
	var body struct {
		Error struct {
			Code              string `json:"code"`
			Message           string `json:"message"`
			RetryAfterMinutes int    `json:"retry_after_minutes"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" || body.Error.Message != "slow down" || body.Error.RetryAfterMinutes != 3 {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
