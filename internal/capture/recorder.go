package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/audio"
)

// RecorderConfig holds per-session capture settings.
type RecorderConfig struct {
	SampleRate         int
	VADEnergyThreshold float64
	VADSilenceFrames   int
}

func (c *RecorderConfig) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.VADEnergyThreshold == 0 {
		c.VADEnergyThreshold = 500.0
	}
	if c.VADSilenceFrames == 0 {
		c.VADSilenceFrames = 25
	}
}

// Recording is a finalized per-part capture: the accumulated fragments
// encoded as a WAV payload plus the measurements submission assembly needs.
type Recording struct {
	PartNumber      int
	AudioBase64     string
	Duration        float64
	Transcript      string
	SpeakingSeconds float64
}

// Finalization is the pending result of an asynchronous part encode. The
// state machine moves on immediately; submission assembly awaits it.
type Finalization struct {
	done chan struct{}
	rec  Recording
	err  error
}

func (f *Finalization) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the encode completes or ctx is cancelled.
func (f *Finalization) Await(ctx context.Context) (Recording, error) {
	select {
	case <-f.done:
		return f.rec, f.err
	case <-ctx.Done():
		return Recording{}, ctx.Err()
	}
}

type partState struct {
	partNumber int
	fragments  [][]byte
	startedAt  time.Time
	transcript strings.Builder
	vad        *audio.VADDetector
}

// Recorder accumulates microphone fragments for the active test part and
// finalizes each part into a WAV payload. One part is active at a time; the
// microphone handle is held only between StartCapture and StopCapture.
type Recorder struct {
	mu     sync.Mutex
	source Source
	stream Stream
	config RecorderConfig
	logger zerolog.Logger
	active *partState
}

func NewRecorder(source Source, config RecorderConfig, logger zerolog.Logger) *Recorder {
	config.applyDefaults()
	return &Recorder{
		source: source,
		config: config,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// BeginPart initializes the recording for a test part. measureSpeech enables
// voiced-time measurement over incoming fragments (used for the part-2
// monologue).
func (r *Recorder) BeginPart(partNumber int, measureSpeech bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	part := &partState{
		partNumber: partNumber,
		startedAt:  time.Now(),
	}
	if measureSpeech {
		part.vad = audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: r.config.VADEnergyThreshold,
			SilenceFrames:   r.config.VADSilenceFrames,
			SampleRate:      r.config.SampleRate,
		})
	}
	r.active = part

	r.logger.Debug().Int("part", partNumber).Bool("measure_speech", measureSpeech).Msg("Part recording initialized")
}

// StartCapture acquires the microphone stream and routes fragments into the
// active part. Acquisition failure leaves the recorder unchanged so the
// caller can retry.
func (r *Recorder) StartCapture(ctx context.Context) error {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return fmt.Errorf("no active part recording")
	}
	if r.stream != nil {
		r.mu.Unlock()
		return fmt.Errorf("capture already in progress")
	}
	r.mu.Unlock()

	stream, err := r.source.Acquire(ctx, r.appendFragment)
	if err != nil {
		return fmt.Errorf("failed to acquire microphone stream: %w", err)
	}

	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()

	r.logger.Debug().Msg("Capture started")
	return nil
}

// StopCapture releases the microphone stream. Safe to call when no capture
// is running.
func (r *Recorder) StopCapture() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to stop capture stream")
	}
	r.logger.Debug().Msg("Capture stopped")
}

// Capturing reports whether the microphone handle is currently held.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

func (r *Recorder) appendFragment(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.active.fragments = append(r.active.fragments, buf)

	if r.active.vad != nil {
		if samples, err := audio.BytesToSamples(pcm); err == nil {
			r.active.vad.ProcessFrame(samples)
		}
	}
}

// AppendTranscript adds a finalized transcript fragment to the active part.
func (r *Recorder) AppendTranscript(text string) {
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return
	}
	if r.active.transcript.Len() > 0 {
		r.active.transcript.WriteString(" ")
	}
	r.active.transcript.WriteString(text)
}

// SpeakingSeconds returns the voiced time measured so far for the active
// part, or 0 when measurement is not enabled.
func (r *Recorder) SpeakingSeconds() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || r.active.vad == nil {
		return 0
	}
	return r.active.vad.VoicedSeconds()
}

// FinalizePart detaches the active part and encodes it asynchronously.
// Returns nil when no part is active. The caller must stop capture first;
// fragments arriving after finalization belong to no part and are dropped.
func (r *Recorder) FinalizePart() *Finalization {
	r.mu.Lock()
	part := r.active
	r.active = nil
	r.mu.Unlock()

	if part == nil {
		return nil
	}

	fin := &Finalization{done: make(chan struct{})}

	go func() {
		defer close(fin.done)
		fin.rec, fin.err = r.encode(part)
		if fin.err != nil {
			r.logger.Error().Err(fin.err).Int("part", part.partNumber).Msg("Part encoding failed")
			return
		}
		r.logger.Info().
			Int("part", part.partNumber).
			Float64("duration", fin.rec.Duration).
			Int("fragments", len(part.fragments)).
			Msg("Part recording finalized")
	}()

	return fin
}

func (r *Recorder) encode(part *partState) (Recording, error) {
	total := 0
	for _, f := range part.fragments {
		total += len(f)
	}

	pcm := make([]byte, 0, total)
	for _, f := range part.fragments {
		pcm = append(pcm, f...)
	}

	rec := Recording{
		PartNumber: part.partNumber,
		Transcript: part.transcript.String(),
		Duration:   audio.DurationSeconds(total/2, r.config.SampleRate),
	}
	if part.vad != nil {
		rec.SpeakingSeconds = part.vad.VoicedSeconds()
	}

	if total == 0 {
		return rec, fmt.Errorf("part %d has no captured audio", part.partNumber)
	}

	wav := audio.WrapWAV(pcm, r.config.SampleRate)
	rec.AudioBase64 = base64.StdEncoding.EncodeToString(wav)

	return rec, nil
}
