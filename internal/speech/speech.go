package speech

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrUnavailable = errors.New("未配置语音合成能力")

// Synthesizer turns a phrase into audio bytes with a named voice.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string, voice string) ([]byte, string, error)
}

// Speaker serializes utterances: a new request cancels whatever is still
// in flight, waits a short fixed gap, then synthesizes. There is no queue;
// overlap is cancel-and-replace.
type Speaker struct {
	synth Synthesizer
	gap   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSpeaker(synth Synthesizer) *Speaker {
	return &Speaker{
		synth: synth,
		gap:   120 * time.Millisecond,
	}
}

// Speak cancels the previous utterance and synthesizes the given phrase.
// The gap between cancel and synthesis avoids the upstream rejecting
// back-to-back sessions for the same voice.
func (s *Speaker) Speak(ctx context.Context, text string, voice string) ([]byte, string, error) {
	if s == nil || s.synth == nil {
		return nil, "", ErrUnavailable
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	select {
	case <-time.After(s.gap):
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	return s.synth.SynthesizeSpeech(ctx, text, voice)
}

// Stop cancels any in-flight utterance without starting a new one.
func (s *Speaker) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}
