package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, origins []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	nextCalled := false
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(method, "/consultar", nil)
	if origin != "" {
		request.Header.Set("Origin", origin)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder, nextCalled
}

func TestCORSPreflightAllowedOrigin(t *testing.T) {
	recorder, nextCalled := corsRequest(t, []string{"https://consultas.example"}, http.MethodOptions, "https://consultas.example")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if nextCalled {
		t.Fatalf("expected preflight to short-circuit chain")
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://consultas.example" {
		t.Fatalf("expected allow origin header, got %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Fatalf("unexpected allow methods %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, "+RequestIDHeader {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestCORSActualRequestExposesRequestID(t *testing.T) {
	recorder, nextCalled := corsRequest(t, []string{"https://consultas.example"}, http.MethodPost, "https://consultas.example")

	if !nextCalled || recorder.Code != http.StatusOK {
		t.Fatalf("expected request to reach handler, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Expose-Headers"); got != RequestIDHeader {
		t.Fatalf("expected request id to be exposed, got %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got != "" {
		t.Fatalf("expected no preflight headers on actual request, got %q", got)
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	recorder, _ := corsRequest(t, []string{"*"}, http.MethodGet, "http://localhost:3000")

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
}

func TestCORSIgnoresDisallowedOrMissingOrigin(t *testing.T) {
	for _, origin := range []string{"https://evil.example", ""} {
		recorder, nextCalled := corsRequest(t, []string{"https://consultas.example"}, http.MethodOptions, origin)

		if !nextCalled || recorder.Code != http.StatusOK {
			t.Fatalf("origin %q: expected passthrough, got %d", origin, recorder.Code)
		}
		if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("origin %q: expected no allow-origin header, got %q", origin, got)
		}
	}
}
