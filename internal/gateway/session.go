package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/capture"
	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/conversation"
	"github.com/fluentprep/speaking-gateway/internal/evaluation"
	"github.com/fluentprep/speaking-gateway/internal/exam"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/playback"
	"github.com/fluentprep/speaking-gateway/internal/synthesis"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the web app's domains
		// For now, allow all origins (development only)
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// scriptBuildTimeout bounds the synthesis of all scripted segments for one
// attempt before the start is rejected.
const scriptBuildTimeout = 60 * time.Second

// ClientMessage is a message from the browser client
type ClientMessage struct {
	Type       string `json:"type"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
	Payload    string `json:"payload,omitempty"` // Base64 encoded PCM audio
}

// ServerMessage is a message to the browser client
type ServerMessage struct {
	Type       string      `json:"type"`
	State      *exam.State `json:"state,omitempty"`
	Payload    string      `json:"payload,omitempty"` // Base64 encoded PCM audio
	SampleRate int         `json:"sampleRate,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Session holds the state of a single speaking-test attempt: one client
// WebSocket bound to one phase controller with its playback queue, recorder,
// and conversation channel.
type Session struct {
	// Connection
	conn *websocket.Conn

	// State management
	mu       sync.RWMutex
	isActive bool
	started  bool

	// Test attempt components
	testID     string
	source     *capture.RemoteSource
	recorder   *capture.Recorder
	channel    conversation.Channel
	queue      *playback.Queue
	builder    *ScriptBuilder
	evaluator  *evaluation.Client
	controller *exam.Controller

	// Configuration
	config *config.Config

	// Observability
	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger

	// Control channels
	done     chan struct{}
	closeOne sync.Once

	// WebSocket write serialization
	writeMu sync.Mutex
}

// NewSession creates a new speaking-test session bound to the client conn
func NewSession(conn *websocket.Conn, cfg *config.Config) *Session {
	correlationID := observability.NewCorrelationID()
	testID := fmt.Sprintf("test-%s", uuid.New().String())

	logger := observability.WithTestAttempt(correlationID, testID)
	metrics := observability.NewTestMetrics(testID)

	session := &Session{
		conn:          conn,
		testID:        testID,
		config:        cfg,
		correlationID: correlationID,
		metrics:       metrics,
		logger:        logger,
		done:          make(chan struct{}),
		isActive:      true,
	}

	session.source = capture.NewRemoteSource(logger)
	session.recorder = capture.NewRecorder(session.source, capture.RecorderConfig{
		SampleRate:         cfg.CaptureSampleRate,
		VADEnergyThreshold: cfg.VADEnergyThreshold,
		VADSilenceFrames:   cfg.VADSilenceFrames,
	}, logger)
	session.channel = conversation.NewLiveChannel(cfg, logger)
	session.queue = playback.NewQueue(
		newStreamPlayer(session, cfg.AudioBufferSize, metrics, logger),
		logger, metrics)
	session.builder = NewScriptBuilder(synthesis.NewClient(cfg, metrics, logger), cfg.PlaybackSampleRate, logger)
	session.evaluator = evaluation.NewClient(cfg, metrics, logger)

	return session
}

// HandleSpeakingWS is the entry point for client speaking-test connections
func HandleSpeakingWS(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		session := NewSession(conn, cfg)
		session.logger.Info().Msg("New speaking-test connection established")

		session.readLoop()
		session.Close()
	}
}

// readLoop handles all incoming WebSocket messages from the client
func (s *Session) readLoop() {
	for {
		s.mu.RLock()
		active := s.isActive
		s.mu.RUnlock()
		if !active {
			return
		}

		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			s.mu.Lock()
			s.isActive = false
			s.mu.Unlock()
			return
		}

		switch msg.Type {
		case "start":
			if err := s.handleStart(msg); err != nil {
				s.logger.Error().Err(err).Msg("Failed to start test attempt")
				s.sendError(err.Error())
			}

		case "audio":
			s.handleAudio(msg.Payload)

		case "advance":
			if ctrl := s.getController(); ctrl != nil {
				ctrl.Advance()
			}

		case "ready":
			if ctrl := s.getController(); ctrl != nil {
				ctrl.Ready()
			}

		case "end":
			if ctrl := s.getController(); ctrl != nil {
				ctrl.EndTest()
			}

		case "mute":
			s.queue.SetMuted(msg.Muted)
			s.logger.Info().Bool("muted", msg.Muted).Msg("Examiner audio mute toggled")

		default:
			s.logger.Warn().Str("type", msg.Type).Msg("Unknown client message type")
		}
	}
}

// handleStart prepares the script and starts the phase controller. A failed
// start leaves the session open so the client can try again.
func (s *Session) handleStart(msg ClientMessage) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("test attempt already started")
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), scriptBuildTimeout)
	defer cancel()

	script, err := s.builder.Build(ctx, msg.Topic, msg.Difficulty)
	if err != nil {
		s.resetStarted()
		return fmt.Errorf("failed to prepare examiner script: %w", err)
	}

	ctrl := exam.NewController(exam.Config{
		TestID:         s.testID,
		ClipRetryCount: s.config.ClipRetryCount,
		SubmitTimeout:  time.Duration(s.config.EvaluationTimeout) * time.Second,
	}, script, exam.Deps{
		Channel:   s.channel,
		Speaker:   s.queue,
		Recorder:  s.recorder,
		Submitter: s.evaluator,
		Metrics:   s.metrics,
		Notify:    s.sendState,
		Logger:    s.logger,
	})

	if err := ctrl.Start(context.Background()); err != nil {
		s.resetStarted()
		return fmt.Errorf("failed to start test attempt: %w", err)
	}

	s.mu.Lock()
	s.controller = ctrl
	s.mu.Unlock()

	s.logger.Info().
		Str("topic", script.Topic).
		Str("difficulty", script.Difficulty).
		Msg("Test attempt started")

	go func() {
		select {
		case <-ctrl.Done():
			s.logger.Info().Msg("Test attempt finished")
		case <-s.done:
		}
	}()
	return nil
}

func (s *Session) resetStarted() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// handleAudio routes a candidate microphone frame into the recorder's source
// and the conversation channel. Frames arriving outside a capture window are
// dropped by both receivers.
func (s *Session) handleAudio(payload string) {
	if payload == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode client audio frame")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAudioBytes("in", int64(len(pcm)))
	}

	s.source.Push(pcm)
	if err := s.channel.SendAudio(pcm); err != nil {
		s.logger.Error().Err(err).Msg("Error forwarding audio to conversation channel")
		if s.metrics != nil {
			s.metrics.RecordError("channel_audio_error", "gateway")
		}
	}
}

func (s *Session) getController() *exam.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

// sendState pushes a controller snapshot to the client.
func (s *Session) sendState(state exam.State) {
	if err := s.sendJSON(ServerMessage{Type: "state", State: &state}); err != nil {
		s.logger.Error().Err(err).Msg("Error sending state to client")
	}
}

// sendAudioFrame delivers one paced examiner PCM frame to the client.
func (s *Session) sendAudioFrame(pcm []byte, sampleRate int) error {
	s.mu.RLock()
	active := s.isActive
	s.mu.RUnlock()
	if !active {
		return fmt.Errorf("session is not active")
	}

	return s.sendJSON(ServerMessage{
		Type:       "audio",
		Payload:    base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
	})
}

func (s *Session) sendError(message string) {
	if err := s.sendJSON(ServerMessage{Type: "error", Message: message}); err != nil {
		s.logger.Error().Err(err).Msg("Error sending error to client")
	}
}

func (s *Session) sendJSON(msg ServerMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// IsActive returns whether the session is still serving its client
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}

// TestID returns the attempt identifier assigned to this session
func (s *Session) TestID() string {
	return s.testID
}

// Close tears the session down: controller, playback, and the client conn.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.isActive = false
		ctrl := s.controller
		s.mu.Unlock()

		if ctrl != nil {
			ctrl.Close()
		}
		s.queue.Stop()
		close(s.done)
		_ = s.conn.Close()
		s.logger.Info().Msg("Session closed")
	})
}
