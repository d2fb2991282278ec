package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteRendersHTTPError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/x", nil)
	req.Header.Set("X-Request-ID", "req-1")

	Write(rr, req, NotFound("job not found"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
	var body Error
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "not_found" || body.Message != "job not found" || body.RequestID != "req-1" {
		t.Fatalf("body %+v", body)
	}
}

func TestWriteWrapsPlainErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Write(rr, req, errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}
	var body Error
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "internal" {
		t.Fatalf("code %q", body.Code)
	}
	if body.RequestID == "" {
		t.Fatal("request id not generated")
	}
}

func TestErrorCodesAndStatuses(t *testing.T) {
	cases := []struct {
		err    *HTTPError
		status int
		code   string
	}{
		{BadRequest("x"), http.StatusBadRequest, "invalid_input"},
		{NotFound("x"), http.StatusNotFound, "not_found"},
		{Conflict("x"), http.StatusConflict, "conflict"},
		{TooManyRequests("x"), http.StatusTooManyRequests, "rate_limited"},
		{Unavailable("x"), http.StatusServiceUnavailable, "provider_unavailable"},
		{Internal(nil), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		if tc.err.Status() != tc.status || tc.err.Code() != tc.code {
			t.Errorf("%s: got %d/%s want %d/%s", tc.err.Error(), tc.err.Status(), tc.err.Code(), tc.status, tc.code)
		}
	}
}

func TestWithDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	Write(rr, req, BadRequest("validation failed").WithDetails(map[string]string{"source_type": "oneof"}))
	var body Error
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details["source_type"] != "oneof" {
		t.Fatalf("details %v", body.Details)
	}
}
