// Package audio provides the playback sink the session controller attaches
// to the agent's audio track. Exactly one sink is active per track;
// re-subscription after a transient drop replaces the sink rather than
// stacking a second one.
package audio

import (
	"sync"
)

// SinkConfig configures playback buffering behavior.
type SinkConfig struct {
	// MinBufferMs is the minimum audio to buffer before emitting the first
	// chunk, preventing glitches when the first synthesized chunk is small.
	// Default: 50ms. Set to 0 to disable pre-buffering.
	MinBufferMs int

	// ChannelSize is the buffer size for the chunks channel. Default: 20.
	ChannelSize int
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		MinBufferMs: 50,
		ChannelSize: 20,
	}
}

// Sink buffers pcm_s16le audio for one subscribed track and hands it to a
// player.
//
// Usage:
//
//	for {
//	    select {
//	    case chunk := <-sink.Chunks():
//	        player.Write(chunk)
//	    case <-sink.Flush():
//	        player.Clear()
//	    }
//	}
type Sink struct {
	config     SinkConfig
	trackID    string
	sampleRate int

	chunks chan []byte
	flush  chan struct{}

	mu          sync.Mutex
	buffer      []byte
	bufferReady bool
	closed      bool
}

// NewSink creates a sink for the given track and sample rate.
func NewSink(trackID string, sampleRate int, config SinkConfig) *Sink {
	if config.MinBufferMs == 0 && config.ChannelSize == 0 {
		config = DefaultSinkConfig()
	}
	if config.ChannelSize == 0 {
		config.ChannelSize = 20
	}

	return &Sink{
		config:     config,
		trackID:    trackID,
		sampleRate: sampleRate,
		chunks:     make(chan []byte, config.ChannelSize),
		flush:      make(chan struct{}, 1),
	}
}

// TrackID returns the track this sink plays.
func (s *Sink) TrackID() string {
	if s == nil {
		return ""
	}
	return s.trackID
}

// Chunks returns a channel emitting audio chunks ready for playback. Audio
// is pre-buffered per MinBufferMs before the first chunk; after each flush,
// pre-buffering resets for the next stream.
func (s *Sink) Chunks() <-chan []byte {
	return s.chunks
}

// Flush returns a channel that signals when the player should clear its
// buffer, for example when the agent restarts its output mid-utterance.
func (s *Sink) Flush() <-chan struct{} {
	return s.flush
}

// HandlePlayback processes chunks in a goroutine, calling onChunk per audio
// chunk and onFlush when playback should clear. Returns immediately.
func (s *Sink) HandlePlayback(onChunk func([]byte), onFlush func()) {
	go func() {
		for {
			select {
			case chunk, ok := <-s.chunks:
				if !ok {
					return
				}
				if onChunk != nil {
					onChunk(chunk)
				}
			case _, ok := <-s.flush:
				if !ok {
					return
				}
				if onFlush != nil {
					onFlush()
				}
			}
		}
	}()
}

// Push buffers incoming track audio, emitting once the pre-buffer threshold
// is met.
func (s *Sink) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.buffer = append(s.buffer, data...)

	// 16-bit mono: bytes = sampleRate * 2 * (ms / 1000).
	minBytes := (s.sampleRate * 2 * s.config.MinBufferMs) / 1000

	if !s.bufferReady && len(s.buffer) >= minBytes {
		s.bufferReady = true
	}

	if s.bufferReady && len(s.buffer) > 0 {
		chunk := s.buffer
		s.buffer = nil
		select {
		case s.chunks <- chunk:
		default:
			// Channel full; hold the data for the next push.
			s.buffer = chunk
		}
	}
}

// DoFlush clears internal buffers and signals the player.
func (s *Sink) DoFlush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buffer = nil
	s.bufferReady = false
	s.mu.Unlock()

	for {
		select {
		case <-s.chunks:
		default:
			goto done
		}
	}
done:

	select {
	case s.flush <- struct{}{}:
	default:
		// A flush signal is already pending.
	}
}

// Close closes the sink channels. Detaching a track closes its sink.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.chunks)
	close(s.flush)
}
