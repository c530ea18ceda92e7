package model

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// scratchCap sizes the reusable sample-conversion buffer: 30 seconds at
// the whisper input rate covers a typical inference span.
const scratchCap = 30 * 16000

// Handle is a loaded model slot. Infer runs whisper-cli synchronously;
// the controller guarantees at most one inference is in flight, so the
// handle keeps a single scratch buffer that a background goroutine
// reprovisions between runs.
type Handle struct {
	id      string
	path    string
	cache   *Cache
	scratch chan []int
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Path() string { return h.path }

func (h *Handle) provision() {
	select {
	case h.scratch <- make([]int, 0, scratchCap):
	default:
	}
}

func (h *Handle) takeScratch() []int {
	select {
	case s := <-h.scratch:
		return s[:0]
	default:
		return make([]int, 0, scratchCap)
	}
}

// Infer transcribes one span of mono PCM at the given rate and returns
// the text. Empty input yields empty text without touching the model.
func (h *Handle) Infer(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	if _, err := os.Stat(h.path); err != nil {
		return "", fmt.Errorf("%w: model file missing: %s", ErrLoadFailed, h.path)
	}

	bin, err := h.cache.lookPath("whisper-cli")
	if err != nil {
		return "", fmt.Errorf("%w: whisper-cli not found, install whisper.cpp first", ErrLoadFailed)
	}

	tmpFile, err := h.writeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	defer os.Remove(tmpFile)

	lang := h.cache.opts.Language
	if lang == "" {
		lang = "auto"
	}

	args := []string{
		"-m", h.path,
		"-l", lang,
		"-nt", // no timestamps
		"-np", // no progress
		"-f", tmpFile,
	}
	if h.cache.opts.Threads > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", h.cache.opts.Threads))
	}

	start := time.Now()
	stdout, stderr, err := h.cache.runCmd(ctx, bin, args)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("whisper: command failed after %v: %v\nstderr: %s", duration, err, stderr)
		return "", fmt.Errorf("%w: whisper-cli: %v", ErrInferenceFailed, err)
	}

	text := strings.TrimSpace(stdout)
	log.Printf("whisper: transcribed %d samples in %v: %q", len(samples), duration, text)
	return text, nil
}

// writeWAV encodes the samples into a temp WAV file whisper-cli can
// read. The int conversion runs through the scratch buffer, which goes
// back for reprovisioning once the encoder is done with it.
func (h *Handle) writeWAV(samples []int16, sampleRate int) (string, error) {
	ints := h.takeScratch()
	for _, s := range samples {
		ints = append(ints, int(s))
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("voxcap-%d.wav", time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close wav: %w", err)
	}

	go h.provision()
	return path, nil
}
