package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silence frames to mark as end of speech
	FrameSize       int     // Number of samples per frame (typically 320 for 16kHz = 20ms)
	SampleRate      int     // Sample rate of the incoming frames
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0, // Adjust based on testing
		SilenceFrames:   25,    // 500ms of silence (25 frames * 20ms)
		FrameSize:       320,   // 20ms at 16kHz (16000 * 0.02 = 320)
		SampleRate:      16000,
	}
}

// VADDetector performs Voice Activity Detection over candidate microphone
// frames. Besides start/end edges it accumulates total voiced time, which the
// exam controller reads as the measured Part 2 speaking duration.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	voicedSamples  int
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	return &VADDetector{
		config:         config,
		silenceCounter: 0,
		isSpeaking:     false,
	}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	rms := CalculateRMS(samples)

	frameHasSpeech := rms > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		v.voicedSamples += len(samples)

		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++

		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// VoicedSeconds returns the accumulated voiced time across all processed frames
func (v *VADDetector) VoicedSeconds() float64 {
	return DurationSeconds(v.voicedSamples, v.config.SampleRate)
}

// Reset resets the VAD detector state, including the voiced-time accumulator
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.voicedSamples = 0
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence detects if audio samples represent silence
// Uses a simple energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
