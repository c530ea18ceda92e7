package vad

import (
	"fmt"

	"github.com/voxcap/voxcap/internal/audio"
)

// Config tunes energy-based voice activity detection. Threshold is a
// normalized [0,1] RMS level; windows at or above it count as speech.
type Config struct {
	SampleRate          int
	Threshold           float64
	WindowMS            int
	HangoverMS          int
	MinRetainedFraction float64
}

// Span is a half-open sample range [Start, End) classified as speech,
// including the hangover padding around it.
type Span struct {
	Start int
	End   int
}

// Detector classifies fixed-size windows by RMS energy and derives
// speech boundaries with a hangover: a silent gap shorter than the
// hangover never splits a span, so natural pauses stay inside one
// utterance.
type Detector struct {
	cfg             Config
	windowSamples   int
	hangoverWindows int
}

func New(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("threshold %g out of range (0,1)", cfg.Threshold)
	}
	if cfg.WindowMS < 10 {
		return nil, fmt.Errorf("window %dms too small", cfg.WindowMS)
	}
	if cfg.HangoverMS < cfg.WindowMS {
		return nil, fmt.Errorf("hangover %dms below window %dms", cfg.HangoverMS, cfg.WindowMS)
	}
	if cfg.MinRetainedFraction < 0 || cfg.MinRetainedFraction >= 1 {
		return nil, fmt.Errorf("min retained fraction %g out of range [0,1)", cfg.MinRetainedFraction)
	}

	d := &Detector{
		cfg:           cfg,
		windowSamples: cfg.SampleRate * cfg.WindowMS / 1000,
	}
	d.hangoverWindows = cfg.HangoverMS / cfg.WindowMS
	return d, nil
}

// WindowSamples reports the classification window size in samples.
func (d *Detector) WindowSamples() int {
	return d.windowSamples
}

// Classify reports whether one window carries speech energy.
func (d *Detector) Classify(window []int16) bool {
	return audio.RMS(window) >= d.cfg.Threshold
}

// rawSpans returns the exact speech ranges without hangover padding.
// A trailing partial window is classified like any other.
func (d *Detector) rawSpans(samples []int16) []Span {
	var spans []Span
	inSpeech := false
	var start int

	for off := 0; off < len(samples); off += d.windowSamples {
		end := off + d.windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		speech := d.Classify(samples[off:end])
		switch {
		case speech && !inSpeech:
			inSpeech = true
			start = off
		case !speech && inSpeech:
			inSpeech = false
			spans = append(spans, Span{Start: start, End: off})
		}
	}
	if inSpeech {
		spans = append(spans, Span{Start: start, End: len(samples)})
	}
	return spans
}

// Boundaries scans the samples window by window and returns the speech
// spans, each padded by the hangover on both sides. Spans that touch or
// overlap after padding are merged.
func (d *Detector) Boundaries(samples []int16) []Span {
	if len(samples) == 0 {
		return nil
	}

	pad := d.hangoverWindows * d.windowSamples
	var spans []Span
	for _, raw := range d.rawSpans(samples) {
		s := raw.Start - pad
		if s < 0 {
			s = 0
		}
		e := raw.End + pad
		if e > len(samples) {
			e = len(samples)
		}
		if len(spans) > 0 && s <= spans[len(spans)-1].End {
			spans[len(spans)-1].End = e
		} else {
			spans = append(spans, Span{Start: s, End: e})
		}
	}
	return spans
}

// Trim cuts leading and trailing silence, keeping everything between the
// first and last speech span. If no speech is found, or trimming would
// retain less than the configured fraction of the input, the original
// samples are returned untouched; a borderline detection must never eat
// most of a recording.
func (d *Detector) Trim(samples []int16) (out []int16, trimmed bool) {
	raw := d.rawSpans(samples)
	if len(raw) == 0 {
		return samples, false
	}

	// The safety check uses the unpadded extent: hangover padding must
	// not talk a borderline recording past the retention floor.
	rawExtent := raw[len(raw)-1].End - raw[0].Start
	if float64(rawExtent)/float64(len(samples)) < d.cfg.MinRetainedFraction {
		return samples, false
	}

	spans := d.Boundaries(samples)
	start := spans[0].Start
	end := spans[len(spans)-1].End
	if start == 0 && end == len(samples) {
		return samples, false
	}
	return samples[start:end], true
}
