package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// FragmentFunc receives raw 16-bit LE PCM chunks as they arrive from the
// candidate's microphone.
type FragmentFunc func(pcm []byte)

// Stream is an open microphone capture handle. Fragments are delivered to the
// callback registered at acquisition until Stop releases the device.
type Stream interface {
	Stop() error
}

// Source acquires microphone streams. The device handle is exclusive: a
// source must refuse a second acquisition while a previous stream is open.
type Source interface {
	Acquire(ctx context.Context, onFragment FragmentFunc) (Stream, error)
}

// RemoteSource is the production Source. The candidate's microphone lives in
// the browser; its fragments arrive over the session transport and are pushed
// here. Acquire opens a single stream at a time and Push routes frames to it.
type RemoteSource struct {
	mu       sync.Mutex
	open     bool
	callback FragmentFunc
	logger   zerolog.Logger
}

func NewRemoteSource(logger zerolog.Logger) *RemoteSource {
	return &RemoteSource{
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// Acquire opens the stream. Fails if a previous handle was not stopped.
func (s *RemoteSource) Acquire(ctx context.Context, onFragment FragmentFunc) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil, fmt.Errorf("microphone stream already open")
	}

	s.open = true
	s.callback = onFragment
	s.logger.Debug().Msg("Microphone stream acquired")

	return &remoteStream{source: s}, nil
}

// Push delivers a fragment from the transport. Frames arriving while no
// stream is open are dropped.
func (s *RemoteSource) Push(pcm []byte) {
	s.mu.Lock()
	callback := s.callback
	open := s.open
	s.mu.Unlock()

	if !open || callback == nil {
		return
	}
	callback(pcm)
}

// Open reports whether a stream currently holds the device.
func (s *RemoteSource) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *RemoteSource) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.callback = nil
	s.logger.Debug().Msg("Microphone stream released")
}

type remoteStream struct {
	source *RemoteSource
	once   sync.Once
}

func (st *remoteStream) Stop() error {
	st.once.Do(func() {
		st.source.release()
	})
	return nil
}
