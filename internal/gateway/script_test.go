package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/synthesis"
)

func synthesisServer(t *testing.T, sampleRate int) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	keys := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesis.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode synthesis request: %v", err)
		}
		mu.Lock()
		keys = append(keys, req.Key)
		mu.Unlock()

		json.NewEncoder(w).Encode(synthesis.Response{
			Key:         req.Key,
			Text:        req.Text,
			AudioBase64: base64.StdEncoding.EncodeToString(make([]byte, 640)),
			SampleRate:  sampleRate,
		})
	}))
	t.Cleanup(server.Close)
	return server, &keys
}

func testBuilder(url string) *ScriptBuilder {
	cfg := &config.Config{
		SynthesisAPIKey:            "test-key",
		SynthesisURL:               url,
		ExaminerVoice:              "en-GB-examiner-1",
		SynthesisTimeout:           5,
		CircuitBreakerMaxFailures:  10,
		CircuitBreakerResetTimeout: 1,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
	}
	return NewScriptBuilder(synthesis.NewClient(cfg, nil, zerolog.Nop()), 24000, zerolog.Nop())
}

func TestScriptBuilder_BuildSynthesizesScriptedSegments(t *testing.T) {
	server, keys := synthesisServer(t, 16000)
	builder := testBuilder(server.URL)

	script, err := builder.Build(context.Background(), "hometown", "band7")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if script.Topic != "hometown" {
		t.Errorf("Expected topic 'hometown', got %q", script.Topic)
	}
	if script.Difficulty != "band7" {
		t.Errorf("Expected difficulty 'band7', got %q", script.Difficulty)
	}
	if len(script.Greeting) != 2 {
		t.Errorf("Expected 2 greeting clips, got %d", len(script.Greeting))
	}
	if script.Greeting[0].Key != "greeting-0" {
		t.Errorf("Expected key 'greeting-0', got %q", script.Greeting[0].Key)
	}
	if script.Greeting[0].SampleRate != 16000 {
		t.Errorf("Expected clip sample rate from the synthesis response, got %d", script.Greeting[0].SampleRate)
	}
	if len(script.Part1Questions) != 4 {
		t.Errorf("Expected 4 part-1 questions, got %d", len(script.Part1Questions))
	}
	if len(script.Part3Questions) != 3 {
		t.Errorf("Expected 3 part-3 questions, got %d", len(script.Part3Questions))
	}
	if got := script.Part3Questions[2].AnswerTime; got != 60*time.Second {
		t.Errorf("Expected extended answer time on last part-3 question, got %v", got)
	}
	if script.Part2CueCard == "" {
		t.Error("Expected a part-2 cue card")
	}
	if script.Closing == "" {
		t.Error("Expected a closing directive")
	}

	// Every scripted segment was synthesized; live questions were not.
	wantClips := len(script.Greeting) + len(script.Part1Intro) +
		len(script.Part2Intro) + len(script.Part2Begin) + len(script.Part3Intro)
	if len(*keys) != wantClips {
		t.Errorf("Expected %d synthesis calls, got %d", wantClips, len(*keys))
	}
}

func TestScriptBuilder_UnknownTopicFallsBack(t *testing.T) {
	server, _ := synthesisServer(t, 16000)
	builder := testBuilder(server.URL)

	script, err := builder.Build(context.Background(), "quantum-chromodynamics", "band6")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if script.Topic != defaultTopic {
		t.Errorf("Expected fallback to %q, got %q", defaultTopic, script.Topic)
	}
}

func TestScriptBuilder_MissingSampleRateUsesConfigured(t *testing.T) {
	server, _ := synthesisServer(t, 0)
	builder := testBuilder(server.URL)

	script, err := builder.Build(context.Background(), "work", "band7")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if script.Greeting[0].SampleRate != 24000 {
		t.Errorf("Expected configured playback rate 24000, got %d", script.Greeting[0].SampleRate)
	}
}

func TestScriptBuilder_SynthesisFailureFailsBuild(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer server.Close()

	builder := testBuilder(server.URL)
	if _, err := builder.Build(context.Background(), "hometown", "band7"); err == nil {
		t.Fatal("Expected build to fail when synthesis fails")
	}
}
