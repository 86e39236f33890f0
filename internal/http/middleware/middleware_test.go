package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRequestIDPropagatesHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(RequestIDHeader, "abc-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if seen != "abc-123" {
		t.Fatalf("expected propagated id, got %q", seen)
	}
	if got := recorder.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected response header, got %q", got)
	}
}

func TestRequestIDReplacesInvalidHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	handler.ServeHTTP(httptest.NewRecorder(), request)

	if len(seen) != 36 {
		t.Fatalf("expected a generated uuid, got %q", seen)
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RequestID(RateLimit(ctx, 0.001, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/health", nil)
		request.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, request)
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(last.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Error.Code != "rate_limited" || payload.RequestID == "" {
		t.Fatalf("unexpected payload %s", last.Body.String())
	}

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, other)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected separate bucket per ip, got %d", recorder.Code)
	}
}

func TestTraceLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	handler := RequestID(Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	request := httptest.NewRequest(http.MethodGet, "/consultar/9", nil)
	request.Header.Set(RequestIDHeader, "trace-1")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "trace-1" || entry["status"] != float64(404) || entry["path"] != "/consultar/9" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if entry["level"] != "warning" {
		t.Fatalf("expected warning level, got %v", entry["level"])
	}
}
