package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/resilience"
)

// TranscriptFunc receives candidate transcript fragments as they arrive.
type TranscriptFunc func(text string, isFinal bool)

// transcriberCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type transcriberCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (h *transcriberCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	h.handler(message)
	return nil
}

func (h *transcriberCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if h.errorHandler != nil {
		return h.errorHandler(errorResponse)
	}
	return h.DefaultCallbackHandler.Error(errorResponse)
}

// Transcriber streams candidate microphone audio to Deepgram and delivers
// transcript fragments through a callback. It runs only between
// StartListening and StopListening on the owning channel; the microphone
// feeds raw 16-bit LE PCM at the capture sample rate.
type Transcriber struct {
	config       *config.Config
	client       *listenClient.WSCallback
	onTranscript TranscriptFunc
	breaker      *resilience.CircuitBreaker
	logger       zerolog.Logger

	mu       sync.RWMutex
	isActive bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewTranscriber(cfg *config.Config, onTranscript TranscriptFunc, logger zerolog.Logger) *Transcriber {
	ctx, cancel := context.WithCancel(context.Background())

	return &Transcriber{
		config:       cfg,
		onTranscript: onTranscript,
		ctx:          ctx,
		cancel:       cancel,
		breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "transcriber").Logger(),
	}
}

// Start opens a streaming transcription session.
func (t *Transcriber) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isActive {
		return fmt.Errorf("transcriber is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.config.DeepgramModel,
		Language:       t.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     t.config.CaptureSampleRate,
	}

	callback := &transcriberCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                t.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			t.logger.Error().Msgf("Deepgram error: %+v", errorResponse)

			t.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(t.breaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			select {
			case <-t.ctx.Done():
				return nil
			default:
				t.mu.Lock()
				t.isActive = false
				t.mu.Unlock()

				go t.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		t.ctx,
		t.config.DeepgramAPIKey,
		nil,
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	t.client = client
	t.isActive = true

	t.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(t.breaker.GetState()))

	t.logger.Info().
		Str("model", t.config.DeepgramModel).
		Str("language", t.config.DeepgramLanguage).
		Int("sample_rate", t.config.CaptureSampleRate).
		Msg("Transcription session started")
	return nil
}

func (t *Transcriber) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		t.logger.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		t.logger.Debug().Msg("Candidate speech started")

	case "UtteranceEnd":
		t.logger.Debug().Msg("Candidate utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		if msg.IsFinal {
			t.logger.Debug().
				Str("transcript", alt.Transcript).
				Float64("confidence", alt.Confidence).
				Msg("Final transcript fragment")
		}

		t.onTranscript(alt.Transcript, msg.IsFinal)

	default:
		t.logger.Debug().Str("type", msg.Type).Msg("Unknown Deepgram message type")
	}
}

// SendAudio forwards one microphone fragment to the transcription session.
func (t *Transcriber) SendAudio(pcm []byte) error {
	err := t.breaker.Call(func() error {
		t.mu.RLock()
		active := t.isActive
		client := t.client
		t.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("transcriber is not active")
		}

		if _, err := client.Write(pcm); err != nil {
			go t.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(t.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}

	return err
}

func (t *Transcriber) attemptReconnect() {
	select {
	case <-t.ctx.Done():
		return
	default:
	}

	t.mu.RLock()
	alreadyActive := t.isActive
	t.mu.RUnlock()

	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: t.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(t.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(t.ctx, func() error {
		return t.Start()
	}, reconnectConfig)

	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to reconnect transcriber")
	} else {
		t.logger.Info().Msg("Transcriber reconnected")
	}
}

// Stop ends the streaming session. Safe to call when not active.
func (t *Transcriber) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isActive {
		return nil
	}

	t.client.Finish()
	t.isActive = false

	t.logger.Info().Msg("Transcription session stopped")
	return nil
}

// Close stops the session and cancels any pending reconnects.
func (t *Transcriber) Close() error {
	t.cancel()
	return t.Stop()
}

// IsActive reports whether a transcription session is open.
func (t *Transcriber) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isActive
}
