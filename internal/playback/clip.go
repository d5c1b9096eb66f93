package playback

import (
	"context"
)

// DefaultSampleRate is the sample rate assumed for examiner clips that do not
// carry one explicitly
const DefaultSampleRate = 24000

// AudioClip is a single synthesized examiner utterance queued for playback.
// The payload is 16-bit little-endian PCM encoded as base64 text, owned by
// the caller and immutable once created.
type AudioClip struct {
	Key         string // Unique within one playback session
	Text        string // Optional display text
	AudioBase64 string // 16-bit LE PCM samples, base64 encoded
	SampleRate  int    // Hz; DefaultSampleRate when 0
}

// EffectiveSampleRate returns the clip's sample rate, defaulting when unset
func (c AudioClip) EffectiveSampleRate() int {
	if c.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return c.SampleRate
}

// PlayableResource is a decoded clip ready for playback. Each decoded
// resource must be released exactly once, whether the attempt succeeded,
// failed, or was abandoned.
type PlayableResource interface {
	// Play blocks until the clip finishes naturally, fails, or ctx is
	// cancelled. Volume 0 plays silently (muted) but still takes the
	// clip's natural duration.
	Play(ctx context.Context, volume float64) error

	// Release frees the decoded resource (e.g. revokes a transient URL)
	Release()
}

// ClipPlayer decodes clips into playable resources. Implementations wrap the
// actual audio sink: the gateway streams decoded PCM to the client, tests use
// fakes.
type ClipPlayer interface {
	Decode(clip AudioClip) (PlayableResource, error)
}
