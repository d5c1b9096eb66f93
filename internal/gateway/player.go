package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/audio"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/playback"
)

const (
	// playbackFrameDuration is the wall-clock interval between outbound
	// audio frames. 20ms matches the capture frame size on the other leg.
	playbackFrameDuration = 20 * time.Millisecond
	framesPerSecond       = 50
)

// audioSink receives paced PCM frames for delivery to the client.
// Implemented by Session.
type audioSink interface {
	sendAudioFrame(pcm []byte, sampleRate int) error
}

// streamPlayer decodes examiner clips and streams them to the client in
// real-time frames through a ring buffer, the same way the telephony leg
// smooths synthesized audio. Playback is serialized by the queue, so the
// buffer is drained frame by frame as it is filled.
type streamPlayer struct {
	sink    audioSink
	buffer  *audio.RingBuffer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func newStreamPlayer(sink audioSink, bufferSize int, metrics *observability.Metrics, logger zerolog.Logger) *streamPlayer {
	return &streamPlayer{
		sink:    sink,
		buffer:  audio.NewRingBuffer(bufferSize),
		metrics: metrics,
		logger:  logger.With().Str("component", "player").Logger(),
	}
}

// Decode validates and decodes the clip payload into a playable resource.
func (p *streamPlayer) Decode(clip playback.AudioClip) (playback.PlayableResource, error) {
	pcm, err := base64.StdEncoding.DecodeString(clip.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode clip %s: %w", clip.Key, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("clip %s has no audio", clip.Key)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("clip %s has odd byte count %d", clip.Key, len(pcm))
	}
	return &clipResource{
		player: p,
		pcm:    pcm,
		rate:   clip.EffectiveSampleRate(),
	}, nil
}

// clipResource is one decoded clip held in memory until released.
type clipResource struct {
	player  *streamPlayer
	pcm     []byte
	rate    int
	release sync.Once
}

// Play streams the clip to the client at real-time pace, one frame per tick.
// Volume 0 sends silent frames of the same length so the clip still occupies
// its natural duration.
func (r *clipResource) Play(ctx context.Context, volume float64) error {
	frameBytes := r.rate / framesPerSecond * 2
	if frameBytes <= 0 {
		frameBytes = 320
	}

	ticker := time.NewTicker(playbackFrameDuration)
	defer ticker.Stop()

	for offset := 0; offset < len(r.pcm); offset += frameBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		end := offset + frameBytes
		if end > len(r.pcm) {
			end = len(r.pcm)
		}
		frame := r.pcm[offset:end]
		if volume <= 0 {
			frame = make([]byte, end-offset)
		}

		written := r.player.buffer.Write(frame)
		if written < len(frame) {
			r.player.logger.Warn().
				Int("dropped", len(frame)-written).
				Msg("Playback buffer overflow, dropping audio")
		}
		out := r.player.buffer.ReadChunk(written)
		if len(out) == 0 {
			continue
		}

		if err := r.player.sink.sendAudioFrame(out, r.rate); err != nil {
			return fmt.Errorf("failed to send audio frame: %w", err)
		}
		if r.player.metrics != nil {
			r.player.metrics.RecordAudioBytes("out", int64(len(out)))
		}
	}
	return nil
}

// Release drops the decoded samples. Safe to call more than once.
func (r *clipResource) Release() {
	r.release.Do(func() {
		r.pcm = nil
	})
}
