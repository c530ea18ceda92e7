// Package testutil holds helpers shared by the package tests: synthetic
// audio, a scriptable inference stub, and a capture source that feeds
// canned frames instead of a real backend.
package testutil

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/voxcap/voxcap/internal/audio"
)

// SynthSpeech returns a 300 Hz tone loud enough to classify as speech.
func SynthSpeech(rate int, seconds float64) []int16 {
	n := int(seconds * float64(rate))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
	}
	return out
}

// SynthSilence returns all-zero samples.
func SynthSilence(rate int, seconds float64) []int16 {
	return make([]int16, int(seconds*float64(rate)))
}

// EncodeS16LE packs samples as little-endian 16-bit PCM bytes.
func EncodeS16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// WaitForCondition polls until cond holds or the timeout expires.
func WaitForCondition(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// InferCall records one invocation of the mock inferencer.
type InferCall struct {
	Samples int
	Rate    int
}

// MockInferencer is a scriptable Inferencer. Each call runs InferFunc
// if set, otherwise returns Text. It fails the test if two calls ever
// overlap.
type MockInferencer struct {
	T         *testing.T
	Text      string
	InferFunc func(samples []int16, rate int) (string, error)

	mu       sync.Mutex
	calls    []InferCall
	inFlight bool
}

func (m *MockInferencer) Infer(ctx context.Context, samples []int16, rate int) (string, error) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		if m.T != nil {
			m.T.Error("overlapping inference calls")
		}
		return "", nil
	}
	m.inFlight = true
	m.calls = append(m.calls, InferCall{Samples: len(samples), Rate: rate})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	if m.InferFunc != nil {
		return m.InferFunc(samples, rate)
	}
	return m.Text, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockInferencer) Calls() []InferCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InferCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSource is an audio.Source fed by the test instead of a backend.
type MockSource struct {
	StartErr error

	mu      sync.Mutex
	frames  chan audio.Frame
	errs    chan error
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewMockSource() *MockSource {
	return &MockSource{stopped: make(chan struct{})}
}

func (m *MockSource) Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error) {
	if m.StartErr != nil {
		return nil, nil, m.StartErr
	}
	m.mu.Lock()
	m.frames = make(chan audio.Frame, 256)
	m.errs = make(chan error, 1)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-m.stopped
		close(m.frames)
		close(m.errs)
	}()
	return m.frames, m.errs, nil
}

func (m *MockSource) Stop() error {
	m.once.Do(func() { close(m.stopped) })
	return nil
}

func (m *MockSource) Wait() { m.wg.Wait() }

// Push delivers one frame of raw bytes to the engine.
func (m *MockSource) Push(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.frames <- audio.Frame{Data: data, Timestamp: time.Now()}:
	case <-m.stopped:
	}
}

// Fail injects a stream error.
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs <- err
}
