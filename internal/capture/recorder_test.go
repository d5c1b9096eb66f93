package capture

import (
	"context"
	"encoding/base64"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/audio"
)

func testConfig() RecorderConfig {
	return RecorderConfig{SampleRate: 16000}
}

func pcmChunk(value int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return audio.SamplesToBytes(s)
}

func toneChunk(amplitude float64, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = int16(amplitude * math.Sin(2*math.Pi*float64(i)/64))
	}
	return audio.SamplesToBytes(s)
}

func TestRemoteSource_ExclusiveAcquire(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())

	stream, err := source.Acquire(context.Background(), func([]byte) {})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := source.Acquire(context.Background(), func([]byte) {}); err == nil {
		t.Error("Expected second Acquire to fail while stream is open")
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if source.Open() {
		t.Error("Expected source released after Stop")
	}

	// Device is reacquirable after release
	stream2, err := source.Acquire(context.Background(), func([]byte) {})
	if err != nil {
		t.Fatalf("Reacquire failed: %v", err)
	}
	stream2.Stop()
}

func TestRemoteSource_PushRouting(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())

	var received [][]byte
	// Frames before acquisition are dropped
	source.Push([]byte{1, 2})

	stream, err := source.Acquire(context.Background(), func(pcm []byte) {
		received = append(received, pcm)
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	source.Push([]byte{3, 4})
	source.Push([]byte{5, 6})
	stream.Stop()

	// Frames after release are dropped
	source.Push([]byte{7, 8})

	if len(received) != 2 {
		t.Fatalf("Expected 2 fragments delivered, got %d", len(received))
	}
}

func TestRemoteSource_StopIdempotent(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())

	stream, _ := source.Acquire(context.Background(), func([]byte) {})
	stream.Stop()

	// A stale handle's second Stop must not release a newer stream
	stream2, err := source.Acquire(context.Background(), func([]byte) {})
	if err != nil {
		t.Fatalf("Reacquire failed: %v", err)
	}
	stream.Stop()
	if !source.Open() {
		t.Error("Expected newer stream to remain open after stale Stop")
	}
	stream2.Stop()
}

func TestRecorder_CaptureAndFinalize(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	rec.BeginPart(1, false)
	if err := rec.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if !rec.Capturing() {
		t.Fatal("Expected Capturing true after StartCapture")
	}

	// One second of audio at 16kHz
	source.Push(pcmChunk(100, 8000))
	source.Push(pcmChunk(100, 8000))
	rec.AppendTranscript("hello")
	rec.AppendTranscript("world")

	rec.StopCapture()
	if rec.Capturing() {
		t.Error("Expected Capturing false after StopCapture")
	}

	fin := rec.FinalizePart()
	if fin == nil {
		t.Fatal("Expected a finalization future")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := fin.Await(ctx)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	if result.PartNumber != 1 {
		t.Errorf("Expected part 1, got %d", result.PartNumber)
	}
	if result.Transcript != "hello world" {
		t.Errorf("Expected transcript 'hello world', got %q", result.Transcript)
	}
	if result.Duration != 1.0 {
		t.Errorf("Expected 1.0s duration, got %f", result.Duration)
	}

	wav, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		t.Fatalf("Audio payload is not valid base64: %v", err)
	}
	pcm, rate, err := audio.UnwrapWAV(wav)
	if err != nil {
		t.Fatalf("Audio payload is not a valid WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", rate)
	}
	if len(pcm) != 32000 {
		t.Errorf("Expected 32000 bytes of PCM, got %d", len(pcm))
	}
}

func TestRecorder_StartCaptureRequiresActivePart(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	if err := rec.StartCapture(context.Background()); err == nil {
		t.Error("Expected error with no active part")
	}
}

func TestRecorder_DoubleStartCapture(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	rec.BeginPart(1, false)
	if err := rec.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if err := rec.StartCapture(context.Background()); err == nil {
		t.Error("Expected error starting capture twice")
	}
	rec.StopCapture()
}

func TestRecorder_AcquisitionFailureIsRetryable(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	// Hold the device so the recorder's acquisition fails
	blocker, _ := source.Acquire(context.Background(), func([]byte) {})

	rec := NewRecorder(source, testConfig(), zerolog.Nop())
	rec.BeginPart(1, false)

	if err := rec.StartCapture(context.Background()); err == nil {
		t.Fatal("Expected acquisition failure while device is held")
	}
	if rec.Capturing() {
		t.Error("Expected Capturing false after failed acquisition")
	}

	// Device freed; the same part can retry capture
	blocker.Stop()
	if err := rec.StartCapture(context.Background()); err != nil {
		t.Fatalf("Retry after release failed: %v", err)
	}
	rec.StopCapture()
}

func TestRecorder_FinalizeWithNoAudio(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	rec.BeginPart(2, false)
	fin := rec.FinalizePart()
	if fin == nil {
		t.Fatal("Expected a finalization future")
	}

	result, err := fin.Await(context.Background())
	if err == nil {
		t.Error("Expected error finalizing a part with no audio")
	}
	if result.PartNumber != 2 {
		t.Errorf("Expected part number carried on error, got %d", result.PartNumber)
	}
}

func TestRecorder_FinalizeWithoutPart(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	if fin := rec.FinalizePart(); fin != nil {
		t.Error("Expected nil finalization with no active part")
	}
}

func TestRecorder_SpeakingSecondsMeasurement(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	rec.BeginPart(2, true)
	if err := rec.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	// Half a second of loud speech, half a second of silence
	source.Push(toneChunk(8000, 8000))
	source.Push(pcmChunk(0, 8000))
	rec.StopCapture()

	voiced := rec.SpeakingSeconds()
	if voiced < 0.49 || voiced > 0.51 {
		t.Errorf("Expected ~0.5s voiced time, got %f", voiced)
	}

	fin := rec.FinalizePart()
	result, err := fin.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if result.SpeakingSeconds != voiced {
		t.Errorf("Expected finalized speaking seconds %f, got %f", voiced, result.SpeakingSeconds)
	}
}

func TestRecorder_FragmentsAfterFinalizeDropped(t *testing.T) {
	source := NewRemoteSource(zerolog.Nop())
	rec := NewRecorder(source, testConfig(), zerolog.Nop())

	rec.BeginPart(1, false)
	rec.StartCapture(context.Background())
	source.Push(pcmChunk(1, 160))
	rec.StopCapture()
	rec.FinalizePart().Await(context.Background())

	// No active part; appends are silently dropped rather than corrupting state
	rec.AppendTranscript("late")
	if rec.SpeakingSeconds() != 0 {
		t.Error("Expected zero speaking seconds with no active part")
	}
}
