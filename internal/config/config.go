package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the speaking gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used for logging the WebSocket endpoint; clients connect to wss://<this-host>/sessions/speaking.
	// Optional; if unset, logs ws://localhost:PORT/sessions/speaking.
	SpeakingGatewayURL string `envconfig:"SPEAKING_GATEWAY_URL" default:""`

	// Examiner speech synthesis API configuration
	SynthesisAPIKey  string `envconfig:"SYNTHESIS_API_KEY" required:"true"`
	SynthesisURL     string `envconfig:"SYNTHESIS_URL" default:"https://api.fluentprep.ai/v1/speech"`
	ExaminerVoice    string `envconfig:"EXAMINER_VOICE" default:"en-GB-examiner-1"`
	SynthesisTimeout int    `envconfig:"SYNTHESIS_TIMEOUT" default:"15"` // seconds

	// Deepgram STT configuration (candidate transcription)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Conversation channel (live examiner turns) endpoint
	ConversationURL     string `envconfig:"CONVERSATION_URL" default:"wss://api.fluentprep.ai/v1/conversation"`
	ConversationAPIKey  string `envconfig:"CONVERSATION_API_KEY" default:""`
	ConversationTimeout int    `envconfig:"CONVERSATION_TIMEOUT" default:"30"` // seconds

	// Evaluation submission endpoint
	EvaluationURL     string `envconfig:"EVALUATION_URL" default:"https://api.fluentprep.ai/v1/evaluations"`
	EvaluationAPIKey  string `envconfig:"EVALUATION_API_KEY" default:""`
	EvaluationTimeout int    `envconfig:"EVALUATION_TIMEOUT" default:"60"` // seconds

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"`    // Ring buffer size in bytes
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`  // Candidate microphone sample rate
	PlaybackSampleRate int     `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"` // Examiner clip sample rate
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Frames of silence to mark speech end

	// Playback configuration
	ClipRetryCount int `envconfig:"CLIP_RETRY_COUNT" default:"1"` // Additional attempts per failed clip

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.SynthesisAPIKey == "" {
		return fmt.Errorf("SYNTHESIS_API_KEY is required")
	}
	if cfg.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", cfg.CaptureSampleRate)
	}
	if cfg.ClipRetryCount < 0 {
		return fmt.Errorf("CLIP_RETRY_COUNT must be >= 0, got %d", cfg.ClipRetryCount)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
