package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/observability"
)

// SessionToken identifies one playback run. Starting a new run or calling
// Stop supersedes the token; every suspension point checks Cancelled before
// touching shared state or starting the next attempt.
type SessionToken struct {
	q  *Queue
	id uint64
}

// Cancelled reports whether this run has been superseded or stopped
func (t *SessionToken) Cancelled() bool {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	return t.q.session != t.id
}

// Queue plays an ordered list of examiner clips to completion, with bounded
// per-clip retry and cooperative cancellation. At most one run is logically
// active; a new PlayClips call silently supersedes an in-flight one.
type Queue struct {
	player  ClipPlayer
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	session     uint64
	cancel      context.CancelFunc
	isSpeaking  bool
	currentKey  string
	failedClips []string
	muted       bool
}

// NewQueue creates a playback queue on top of the given player
func NewQueue(player ClipPlayer, logger zerolog.Logger, metrics *observability.Metrics) *Queue {
	return &Queue{
		player:  player,
		logger:  logger.With().Str("component", "playback").Logger(),
		metrics: metrics,
	}
}

// PlayClips plays clips strictly in order, retrying each failed clip up to
// retryCount additional times (retryCount+1 total attempts). A clip that
// exhausts its attempts is recorded in FailedClips and playback continues
// with the next clip. Returns after the list is exhausted or the run is
// superseded by a newer PlayClips call or Stop.
func (q *Queue) PlayClips(ctx context.Context, clips []AudioClip, retryCount int) error {
	if retryCount < 0 {
		retryCount = 0
	}

	token, runCtx := q.beginSession(ctx)
	defer q.endSession(token)

	if len(clips) == 0 {
		return nil
	}

	q.logger.Debug().Int("clips", len(clips)).Int("retry_count", retryCount).Msg("Playback run started")

	for _, clip := range clips {
		if token.Cancelled() || runCtx.Err() != nil {
			q.logger.Debug().Str("clip_key", clip.Key).Msg("Playback run superseded, abandoning remaining clips")
			return nil
		}

		q.setCurrentClip(token, clip.Key)

		if q.playWithRetry(runCtx, token, clip, retryCount) {
			if q.metrics != nil {
				q.metrics.RecordClipPlayed("ok")
			}
			continue
		}

		if token.Cancelled() {
			if q.metrics != nil {
				q.metrics.RecordClipPlayed("abandoned")
			}
			return nil
		}

		// Exhausted all attempts; record and move on. A single bad clip
		// never aborts the run.
		q.recordFailed(token, clip.Key)
		if q.metrics != nil {
			q.metrics.RecordClipPlayed("failed")
		}
		q.logger.Warn().Str("clip_key", clip.Key).Int("attempts", retryCount+1).Msg("Clip failed all playback attempts, skipping")
	}

	return nil
}

// playWithRetry runs the per-clip attempt loop. Returns true when the clip
// played to completion on some attempt.
func (q *Queue) playWithRetry(ctx context.Context, token *SessionToken, clip AudioClip, retryCount int) bool {
	totalAttempts := retryCount + 1

	for attempt := 0; attempt < totalAttempts; attempt++ {
		if token.Cancelled() || ctx.Err() != nil {
			return false
		}

		if attempt > 0 {
			if q.metrics != nil {
				q.metrics.RecordClipRetry()
			}
			q.logger.Debug().Str("clip_key", clip.Key).Int("attempt", attempt+1).Msg("Retrying clip playback")
		}

		err := q.playOnce(ctx, clip)
		if err == nil {
			return true
		}

		q.logger.Warn().Err(err).Str("clip_key", clip.Key).Int("attempt", attempt+1).Msg("Clip playback attempt failed")
	}

	return false
}

// playOnce decodes and plays a single attempt. The decoded resource is
// released before returning, regardless of outcome.
func (q *Queue) playOnce(ctx context.Context, clip AudioClip) error {
	resource, err := q.player.Decode(clip)
	if err != nil {
		return err
	}
	defer resource.Release()

	volume := 1.0
	if q.Muted() {
		volume = 0.0
	}

	return resource.Play(ctx, volume)
}

// Stop invalidates the current run immediately. Any clip mid-playback is
// abandoned (its resource is still released by the run loop) and no further
// clips start.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.session++
	cancel := q.cancel
	q.cancel = nil
	q.isSpeaking = false
	q.currentKey = ""
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SetMuted sets whether clips play at zero volume
func (q *Queue) SetMuted(muted bool) {
	q.mu.Lock()
	q.muted = muted
	q.mu.Unlock()
}

// Muted returns whether playback is muted
func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// IsSpeaking reports whether a playback run is currently active
func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isSpeaking
}

// CurrentClipKey returns the key of the clip being played, or "" when idle
func (q *Queue) CurrentClipKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentKey
}

// FailedClips returns the keys of clips that exhausted all attempts during
// the current (or most recent) run, in playback order
func (q *Queue) FailedClips() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.failedClips))
	copy(out, q.failedClips)
	return out
}

// beginSession supersedes any in-flight run and opens a new one
func (q *Queue) beginSession(ctx context.Context) (*SessionToken, context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Supersede the previous run
	if q.cancel != nil {
		q.cancel()
	}

	q.session++
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.isSpeaking = true
	q.currentKey = ""
	q.failedClips = nil

	return &SessionToken{q: q, id: q.session}, runCtx
}

// endSession clears the speaking state if this run is still the active one
func (q *Queue) endSession(token *SessionToken) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.session != token.id {
		return // A newer run owns the state now
	}

	q.isSpeaking = false
	q.currentKey = ""
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

func (q *Queue) setCurrentClip(token *SessionToken, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.session != token.id {
		return
	}
	q.currentKey = key
}

func (q *Queue) recordFailed(token *SessionToken, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.session != token.id {
		return
	}
	q.failedClips = append(q.failedClips, key)
}
