package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxcap/voxcap/internal/audio"
	"github.com/voxcap/voxcap/internal/config"
	"github.com/voxcap/voxcap/internal/model"
	"github.com/voxcap/voxcap/internal/notify"
	"github.com/voxcap/voxcap/internal/testutil"
	"github.com/voxcap/voxcap/internal/transcriber"
)

const testRate = 16000

func testConfig() *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{
			DeviceRate:    testRate,
			Channels:      1,
			ChunkSize:     4096,
			TargetRate:    testRate,
			MeterInterval: 10 * time.Millisecond,
			MaxDuration:   5 * time.Minute,
		},
		VAD: config.VADConfig{
			Threshold:           0.015,
			WindowMS:            20,
			HangoverMS:          300,
			MinRetainedFraction: 0.2,
		},
		Transcription: config.TranscriptionConfig{
			Model:        "base.en",
			Threads:      1,
			PollInterval: 10 * time.Millisecond,
		},
	}
}

// newTestController wires a controller to a mock source and a mock
// inferencer so no audio backend or model file is needed.
func newTestController(t *testing.T, inf transcriber.Inferencer) (*Controller, *testutil.MockSource) {
	t.Helper()

	c, err := New(testConfig(), notify.Nop{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	src := testutil.NewMockSource()
	c.engine = audio.NewEngineWithSource(audio.EngineConfig{
		DeviceRate:    testRate,
		Channels:      1,
		ChunkSize:     4096,
		TargetRate:    testRate,
		MeterInterval: 10 * time.Millisecond,
		MaxDuration:   c.cfg.Audio.MaxDuration,
	}, func(audio.SourceConfig) audio.Source { return src })
	c.acquire = func(context.Context) (transcriber.Inferencer, string, error) {
		return inf, "mock", nil
	}
	return c, src
}

func TestControllerEndToEnd(t *testing.T) {
	inf := &testutil.MockInferencer{T: t, Text: "hello there"}
	c, src := newTestController(t, inf)

	id, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}
	if st := c.Status(); st.State != "capturing" || st.SessionID != id {
		t.Fatalf("status = %+v, expected capturing session %s", st, id)
	}

	// Three seconds of speech, then a second of silence to close the
	// utterance while still recording.
	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 3)))
	src.Push(testutil.EncodeS16LE(testutil.SynthSilence(testRate, 1)))

	testutil.WaitForCondition(t, 3*time.Second, func() bool {
		return c.Status().Consumed > 0
	}, "streaming inference consumed the closed utterance")

	sess, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sess.ID != id {
		t.Errorf("session id = %s, expected %s", sess.ID, id)
	}
	if sess.Transcript == "" {
		t.Error("expected a transcript")
	}
	if len(sess.Utterances) == 0 {
		t.Error("expected utterances")
	}
	if sess.Err != nil {
		t.Errorf("unexpected session error: %v", sess.Err)
	}

	if st := c.Status(); st.State != "idle" {
		t.Errorf("state after stop = %s, expected idle", st.State)
	}
	if got := c.LastResult(); got == nil || got.ID != id {
		t.Error("LastResult should return the finished session")
	}
}

func TestControllerDoubleStart(t *testing.T) {
	c, _ := newTestController(t, &testutil.MockInferencer{T: t})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start = %v, expected ErrAlreadyRecording", err)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestControllerDoubleStop(t *testing.T) {
	c, _ := newTestController(t, &testutil.MockInferencer{T: t})

	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop while idle = %v, expected ErrNotRecording", err)
	}

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop = %v, expected ErrNotRecording", err)
	}
}

func TestControllerStartDuringStopFails(t *testing.T) {
	flushStarted := make(chan struct{})
	release := make(chan struct{})
	inf := &testutil.MockInferencer{T: t, InferFunc: func([]int16, int) (string, error) {
		close(flushStarted)
		<-release
		return "slow", nil
	}}
	c, src := newTestController(t, inf)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Speech with no trailing silence: only the stop-path flush will
	// run inference, and it blocks until we release it.
	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 0.5)))

	stopDone := make(chan error, 1)
	go func() {
		_, err := c.Stop(context.Background())
		stopDone <- err
	}()

	<-flushStarted
	// The previous session is still draining; a new one must be
	// refused, not queued.
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Start during stop = %v, expected ErrAlreadyRecording", err)
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Once fully stopped, a new session is fine.
	if _, err := c.Start(context.Background()); err != nil {
		t.Errorf("Start after stop completed = %v", err)
	}
	_, _ = c.Stop(context.Background())
}

func TestControllerAcquireFailureLeavesIdle(t *testing.T) {
	c, _ := newTestController(t, &testutil.MockInferencer{T: t})
	c.acquire = func(context.Context) (transcriber.Inferencer, string, error) {
		return nil, "", model.ErrModelNotFound
	}

	if _, err := c.Start(context.Background()); !errors.Is(err, model.ErrModelNotFound) {
		t.Fatalf("Start = %v, expected ErrModelNotFound", err)
	}
	if st := c.Status(); st.State != "idle" {
		t.Errorf("state = %s, expected idle after failed start", st.State)
	}
}

func TestControllerStopDuringModelWarmup(t *testing.T) {
	inf := &testutil.MockInferencer{T: t, Text: "warmed up"}
	c, src := newTestController(t, inf)

	warmupStarted := make(chan struct{})
	release := make(chan struct{})
	c.acquire = func(context.Context) (transcriber.Inferencer, string, error) {
		close(warmupStarted)
		<-release
		return inf, "mock", nil
	}

	startDone := make(chan error, 1)
	var id string
	go func() {
		var err error
		id, err = c.Start(context.Background())
		startDone <- err
	}()

	<-warmupStarted
	// The session does not exist yet; a stop must refuse cleanly and
	// leave the start it is racing untouched.
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop during warmup = %v, expected ErrNotRecording", err)
	}

	close(release)
	if err := <-startDone; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := c.Status(); st.State != "capturing" || st.SessionID != id {
		t.Fatalf("status after start = %+v, expected capturing session %s", st, id)
	}

	// The session the stop raced against still works end to end.
	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 0.5)))
	sess, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sess.ID != id {
		t.Errorf("session id = %s, expected %s", sess.ID, id)
	}
	if sess.Transcript != "warmed up" {
		t.Errorf("transcript = %q, expected the inference text", sess.Transcript)
	}
}

func TestControllerReset(t *testing.T) {
	c, _ := newTestController(t, &testutil.MockInferencer{T: t})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Reset()

	if st := c.Status(); st.State != "idle" {
		t.Fatalf("state = %s, expected idle after reset", st.State)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop after reset = %v, expected ErrNotRecording", err)
	}
	if c.LastResult() != nil {
		t.Error("reset must not produce a session result")
	}
}

func TestControllerToggle(t *testing.T) {
	c, src := newTestController(t, &testutil.MockInferencer{T: t, Text: "toggled"})

	sess, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("first Toggle failed: %v", err)
	}
	if sess != nil {
		t.Fatal("first toggle should start, not return a session")
	}
	if c.Status().State != "capturing" {
		t.Fatal("expected capturing after first toggle")
	}

	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 0.5)))

	sess, err = c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("second Toggle failed: %v", err)
	}
	if sess == nil || sess.Transcript != "toggled" {
		t.Errorf("second toggle session = %+v, expected a transcript", sess)
	}
}

type stubConfigSource struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (s *stubConfigSource) GetConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	return &cp
}

func (s *stubConfigSource) set(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func TestControllerConfigReloadAppliesAtStart(t *testing.T) {
	c, src := newTestController(t, &testutil.MockInferencer{T: t, Text: "reloaded"})
	cfgSrc := &stubConfigSource{cfg: testConfig()}
	c.WatchConfig(cfgSrc)

	fresh := testConfig()
	fresh.Transcription.Model = "small"
	fresh.VAD.Threshold = 0.05
	cfgSrc.set(fresh)

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		for i := 0; i < 100; i++ {
			c.Status()
		}
	}()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-statusDone

	if got := c.Status().Model; got != "small" {
		t.Errorf("model after reload = %q, expected small", got)
	}

	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 0.5)))
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestControllerStreamErrorRecorded(t *testing.T) {
	c, src := newTestController(t, &testutil.MockInferencer{T: t})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Fail(audio.ErrStreamError)

	// Give the engine's read loop a moment to pick the error up.
	time.Sleep(50 * time.Millisecond)

	sess, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !errors.Is(sess.Err, audio.ErrStreamError) {
		t.Errorf("session error = %v, expected ErrStreamError", sess.Err)
	}
}

func TestControllerMaxDurationAutoStops(t *testing.T) {
	inf := &testutil.MockInferencer{T: t, Text: "cut off"}
	c, src := newTestController(t, inf)
	c.engine = audio.NewEngineWithSource(audio.EngineConfig{
		DeviceRate:    testRate,
		Channels:      1,
		ChunkSize:     4096,
		TargetRate:    testRate,
		MeterInterval: 10 * time.Millisecond,
		MaxDuration:   time.Millisecond,
	}, func(audio.SourceConfig) audio.Source { return src })

	id, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	src.Push(testutil.EncodeS16LE(testutil.SynthSpeech(testRate, 0.2)))

	testutil.WaitForCondition(t, 3*time.Second, func() bool {
		last := c.LastResult()
		return last != nil && last.ID == id
	}, "auto-stop assembled the session")

	if c.Status().State != "idle" {
		t.Error("expected idle after auto-stop")
	}
}
