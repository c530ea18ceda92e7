package transcriber

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/voxcap/voxcap/internal/audio"
	"github.com/voxcap/voxcap/internal/vad"
)

// Inferencer runs speech-to-text over one span of mono PCM.
type Inferencer interface {
	Infer(ctx context.Context, samples []int16, sampleRate int) (string, error)
}

// Utterance is the transcription result for one buffer span. Spans are
// contiguous: each utterance starts where the previous one ended, and
// after the final flush they cover the whole session buffer. A failed
// inference still produces an utterance, with Err set and empty text,
// so the span is never re-submitted.
type Utterance struct {
	Start int // sample offset, inclusive
	End   int // sample offset, exclusive
	Text  string
	Err   error
	Final bool // produced by the tail flush at stop
}

// Config tunes the streaming loop.
type Config struct {
	SampleRate   int
	PollInterval time.Duration
	// MaxSpanSamples forces a cut mid-speech once this many samples are
	// pending, keeping inference spans bounded. Zero means 30 seconds.
	MaxSpanSamples int
}

// Streamer watches a capture buffer and transcribes it incrementally:
// each poll looks for a speech segment that has been closed off by
// silence and runs inference on everything up to its end. Inference is
// synchronous inside the poll loop, so at most one run is ever in
// flight and a slow model simply coalesces ticks.
type Streamer struct {
	cfg Config
	inf Inferencer
	det *vad.Detector
	buf *audio.CaptureBuffer

	mu         sync.Mutex
	utterances []Utterance

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config, inf Inferencer, det *vad.Detector, buf *audio.CaptureBuffer) *Streamer {
	if cfg.MaxSpanSamples <= 0 {
		cfg.MaxSpanSamples = 30 * cfg.SampleRate
	}
	return &Streamer{
		cfg:    cfg,
		inf:    inf,
		det:    det,
		buf:    buf,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run polls until Stop or context cancellation. It must be called at
// most once.
func (s *Streamer) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Stop ends the poll loop and waits for any in-flight inference to
// finish. The buffer tail is left to Flush.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// poll transcribes up to the end of the last speech segment that is
// already closed off by silence, if any.
func (s *Streamer) poll(ctx context.Context) {
	start, window := s.buf.Unconsumed()
	if len(window) == 0 {
		return
	}

	cut := s.findCut(window)
	if cut <= 0 {
		return
	}
	s.transcribe(ctx, start, window[:cut], false)
}

// findCut returns how many samples of the window are ready for
// inference: everything through the last hangover-terminated speech
// span, or a forced cut once the window exceeds the span bound.
func (s *Streamer) findCut(window []int16) int {
	if len(window) >= s.cfg.MaxSpanSamples {
		return s.cfg.MaxSpanSamples
	}
	cut := 0
	for _, span := range s.det.Boundaries(window) {
		// A span padded to the window end may still be mid-word.
		if span.End < len(window) {
			cut = span.End
		}
	}
	return cut
}

// Flush transcribes whatever remains past the consumed offset. It runs
// unconditionally at stop: even a span the detector calls pure silence
// goes through inference once, so no audio is ever silently discarded.
func (s *Streamer) Flush(ctx context.Context) {
	start, window := s.buf.Unconsumed()
	if len(window) == 0 {
		return
	}
	s.transcribe(ctx, start, window, true)
}

func (s *Streamer) transcribe(ctx context.Context, start int, samples []int16, final bool) {
	input, trimmed := s.det.Trim(samples)
	if trimmed {
		log.Printf("Transcriber: trimmed span to %d of %d samples", len(input), len(samples))
	}

	text, err := s.inf.Infer(ctx, input, s.cfg.SampleRate)

	end := start + len(samples)
	if err != nil {
		log.Printf("Transcriber: inference failed for span [%d,%d): %v", start, end, err)
		text = ""
	}

	// The offset advances even when inference failed; replaying a bad
	// span forever would stall the whole session.
	if aerr := s.buf.AdvanceConsumed(start, end); aerr != nil {
		log.Printf("Transcriber: advance failed: %v", aerr)
		return
	}

	s.mu.Lock()
	s.utterances = append(s.utterances, Utterance{
		Start: start, End: end, Text: text, Err: err, Final: final,
	})
	s.mu.Unlock()
}

// Utterances returns a copy of everything produced so far.
func (s *Streamer) Utterances() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Transcript joins the successful utterance texts in order.
func (s *Streamer) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []string
	for _, u := range s.utterances {
		if u.Err == nil && u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

// FailedSpans returns the utterances whose inference failed.
func (s *Streamer) FailedSpans() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []Utterance
	for _, u := range s.utterances {
		if u.Err != nil {
			failed = append(failed, u)
		}
	}
	return failed
}
