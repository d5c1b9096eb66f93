package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/resilience"
)

func testClient(url string) *Client {
	cfg := &config.Config{
		SynthesisAPIKey:            "test-key",
		SynthesisURL:               url,
		ExaminerVoice:              "en-GB-examiner-1",
		SynthesisTimeout:           5,
		CircuitBreakerMaxFailures:  10,
		CircuitBreakerResetTimeout: 1,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
	return NewClient(cfg, nil, zerolog.Nop())
}

func TestSynthesize_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("x-api-key"))
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.VoiceName != "en-GB-examiner-1" {
			t.Errorf("Expected voice name from config, got %q", req.VoiceName)
		}

		json.NewEncoder(w).Encode(Response{
			Key:         req.Key,
			Text:        req.Text,
			AudioBase64: "AAAA",
			SampleRate:  24000,
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	resp, err := client.Synthesize(context.Background(), "greeting", "Good morning")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if resp.Key != "greeting" {
		t.Errorf("Expected key 'greeting', got %q", resp.Key)
	}
	if resp.SampleRate != 24000 {
		t.Errorf("Expected 24000 Hz, got %d", resp.SampleRate)
	}
}

func TestSynthesize_RateLimited(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Synthesize(context.Background(), "q1", "First question")
	if err == nil {
		t.Fatal("Expected rate limit error")
	}

	hint, limited := resilience.IsRateLimited(err)
	if !limited {
		t.Fatalf("Expected RateLimitError, got %v", err)
	}
	if hint != 7*time.Second {
		t.Errorf("Expected 7s retry-after hint, got %v", hint)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected rate-limited request not retried, got %d calls", n)
	}
}

func TestSynthesize_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Response{Key: "q1", AudioBase64: "AAAA", SampleRate: 24000})
	}))
	defer server.Close()

	client := testClient(server.URL)
	resp, err := client.Synthesize(context.Background(), "q1", "First question")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if resp.Key != "q1" {
		t.Errorf("Expected key 'q1', got %q", resp.Key)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestSynthesize_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Synthesize(context.Background(), "q1", "text"); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 attempt for client error, got %d", n)
	}
}

func TestSynthesize_EmptyAudioRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Key: "q1", SampleRate: 24000})
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Synthesize(context.Background(), "q1", "text"); err == nil {
		t.Fatal("Expected error for empty audio payload")
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy endpoint, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"missing", "", 0},
		{"invalid", "soon", 0},
		{"negative", "-5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			if got := parseRetryAfter(resp); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
