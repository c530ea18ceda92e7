package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxcap/voxcap/internal/audio"
	"github.com/voxcap/voxcap/internal/config"
	"github.com/voxcap/voxcap/internal/model"
	"github.com/voxcap/voxcap/internal/notify"
	"github.com/voxcap/voxcap/internal/transcriber"
	"github.com/voxcap/voxcap/internal/vad"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// ConfigSource provides the latest configuration snapshot. The config
// manager implements it for live reload.
type ConfigSource interface {
	GetConfig() *config.Config
}

// Session is the finished result of one recording.
type Session struct {
	ID         string
	StartedAt  time.Time
	Duration   time.Duration
	Transcript string
	Utterances []transcriber.Utterance
	Dropped    uint64
	Err        error // stream error that ended the session, if any
}

// Status is a point-in-time snapshot for the status command.
type Status struct {
	State     string
	SessionID string
	Elapsed   time.Duration
	Level     float64
	Buffered  int
	Consumed  int
	Dropped   uint64
	Model     string
}

type active struct {
	id        string
	startedAt time.Time
	streamer  *transcriber.Streamer
	cancel    context.CancelFunc
}

// Controller drives the recording lifecycle end to end: it claims the
// capture engine, ensures the model is loaded, runs the streaming
// transcriber over the session buffer, and assembles the transcript at
// stop. The engine's state machine is the single authority on whether a
// session may begin, so racing start and stop commands resolve to clean
// errors rather than overlapping sessions.
type Controller struct {
	cfg      *config.Config
	engine   *audio.Engine
	cache    *model.Cache
	detector *vad.Detector
	notifier notify.Notifier

	// acquire is swapped in tests to avoid real model files.
	acquire func(ctx context.Context) (transcriber.Inferencer, string, error)

	// startMu serializes starters, keeping the model cache single-caller
	// and closing the gap between the engine claim and registration.
	startMu sync.Mutex

	mu      sync.Mutex
	source  ConfigSource
	current *active
	last    *Session
}

func New(cfg *config.Config, notifier notify.Notifier) (*Controller, error) {
	det, err := vad.New(vad.Config{
		SampleRate:          cfg.Audio.TargetRate,
		Threshold:           cfg.VAD.Threshold,
		WindowMS:            cfg.VAD.WindowMS,
		HangoverMS:          cfg.VAD.HangoverMS,
		MinRetainedFraction: cfg.VAD.MinRetainedFraction,
	})
	if err != nil {
		return nil, fmt.Errorf("voice detector: %w", err)
	}

	engine := audio.NewEngine(audio.EngineConfig{
		Device:        cfg.Audio.Device,
		DeviceRate:    cfg.Audio.DeviceRate,
		Channels:      cfg.Audio.Channels,
		ChunkSize:     cfg.Audio.ChunkSize,
		TargetRate:    cfg.Audio.TargetRate,
		MeterInterval: cfg.Audio.MeterInterval,
		MaxDuration:   cfg.Audio.MaxDuration,
	})

	cache := model.NewCache(model.Options{
		Language: cfg.Transcription.Language,
		Threads:  cfg.Transcription.Threads,
	}, downloadMissing)

	c := &Controller{
		cfg:      cfg,
		engine:   engine,
		cache:    cache,
		detector: det,
		notifier: notifier,
	}
	c.acquire = func(ctx context.Context) (transcriber.Inferencer, string, error) {
		c.mu.Lock()
		modelID := c.cfg.Transcription.Model
		cache := c.cache
		c.mu.Unlock()
		h, err := cache.Acquire(ctx, modelID)
		if err != nil {
			return nil, "", err
		}
		return h, h.ID(), nil
	}
	return c, nil
}

// downloadMissing fetches a model on first use, logging coarse progress.
func downloadMissing(ctx context.Context, modelID string) error {
	log.Printf("Downloading model %s", modelID)
	var lastPct int64 = -1
	err := model.Download(ctx, modelID, func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		pct := downloaded * 100 / total
		if pct/10 > lastPct/10 {
			lastPct = pct
			log.Printf("Downloading %s: %d%%", modelID, pct)
		}
	})
	if err != nil {
		return err
	}
	log.Printf("Model %s downloaded", modelID)
	return nil
}

// WatchConfig makes the controller pick up configuration changes at
// the start of each new session. Transcription and voice-detection
// settings apply live; audio device settings need a daemon restart.
func (c *Controller) WatchConfig(src ConfigSource) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

// refreshConfig pulls the latest snapshot before a session begins.
func (c *Controller) refreshConfig() {
	c.mu.Lock()
	src := c.source
	cfg := c.cfg
	c.mu.Unlock()
	if src == nil {
		return
	}
	fresh := src.GetConfig()
	if *fresh == *cfg {
		return
	}

	var det *vad.Detector
	if fresh.VAD != cfg.VAD {
		var err error
		det, err = vad.New(vad.Config{
			SampleRate:          fresh.Audio.TargetRate,
			Threshold:           fresh.VAD.Threshold,
			WindowMS:            fresh.VAD.WindowMS,
			HangoverMS:          fresh.VAD.HangoverMS,
			MinRetainedFraction: fresh.VAD.MinRetainedFraction,
		})
		if err != nil {
			log.Printf("Config reload: keeping previous voice detector: %v", err)
			det = nil
		}
	}

	c.mu.Lock()
	if det != nil {
		c.detector = det
	}
	if fresh.Transcription != cfg.Transcription {
		c.cache = model.NewCache(model.Options{
			Language: fresh.Transcription.Language,
			Threads:  fresh.Transcription.Threads,
		}, downloadMissing)
	}
	c.cfg = fresh
	c.mu.Unlock()
	log.Printf("Config reload applied")
}

// Start begins a new recording session and returns its ID.
func (c *Controller) Start(ctx context.Context) (string, error) {
	// A second starter fails fast rather than queuing behind a model
	// download.
	if !c.startMu.TryLock() {
		return "", ErrAlreadyRecording
	}
	defer c.startMu.Unlock()

	c.refreshConfig()

	// Pre-warm the model before claiming the engine: acquisition can run
	// a full download, and the device must not sit claimed for that long.
	inf, modelID, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}

	// The engine CAS is the gate: whatever else is in flight, only one
	// caller can move Idle -> Capturing.
	if err := c.engine.Start(ctx); err != nil {
		if errors.Is(err, audio.ErrDeviceBusy) {
			return "", ErrAlreadyRecording
		}
		return "", err
	}

	buf := c.engine.Buffer()
	if buf == nil {
		// A reset landed between the engine claim and registration; do
		// not wire a streamer to a dead session.
		c.engine.ForceIdle()
		return "", ErrNotRecording
	}

	c.mu.Lock()
	det := c.detector
	sampleRate := c.cfg.Audio.TargetRate
	poll := c.cfg.Transcription.PollInterval
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	streamer := transcriber.New(transcriber.Config{
		SampleRate:   sampleRate,
		PollInterval: poll,
	}, inf, det, buf)

	sess := &active{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		streamer:  streamer,
		cancel:    cancel,
	}

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	go streamer.Run(runCtx)
	go c.watchStream(c.engine.Done(), sess.id)

	log.Printf("Session %s started (model %s)", sess.id, modelID)
	c.notifier.RecordingChanged(true)
	return sess.id, nil
}

// watchStream ends the session from the daemon side when the capture
// stream dies on its own: max duration reached or a backend error.
func (c *Controller) watchStream(done <-chan struct{}, id string) {
	if done == nil {
		return
	}
	<-done
	// A user-initiated stop moves the engine out of Capturing before the
	// stream ends, so this Stop is a no-op in that case.
	sess, err := c.Stop(context.Background())
	if errors.Is(err, ErrNotRecording) {
		return
	}
	if err != nil {
		log.Printf("Session %s: auto-stop failed: %v", id, err)
		return
	}
	if sess != nil && sess.Err != nil {
		c.notifier.Error(fmt.Sprintf("Recording ended: %v", sess.Err))
	}
}

// Stop ends the current session, flushes the buffer tail through
// inference, and returns the assembled result.
func (c *Controller) Stop(ctx context.Context) (*Session, error) {
	// No registered session means there is nothing to stop: the
	// controller is idle, or a start is still warming the model. The
	// engine must not be touched here, or a stop racing a start would
	// release the session out from under it.
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return nil, ErrNotRecording
	}

	// Any error besides ErrNotCapturing is the stream error that ended
	// the capture; the session still gets assembled around it. The CAS
	// inside the engine arbitrates concurrent stops.
	streamErr := c.engine.Stop()
	if errors.Is(streamErr, audio.ErrNotCapturing) {
		return nil, ErrNotRecording
	}

	sess.streamer.Stop()
	sess.streamer.Flush(ctx)
	sess.cancel()

	buf := c.engine.Buffer()
	result := &Session{
		ID:         sess.id,
		StartedAt:  sess.startedAt,
		Duration:   time.Since(sess.startedAt),
		Transcript: sess.streamer.Transcript(),
		Utterances: sess.streamer.Utterances(),
		Err:        streamErr,
	}
	if buf != nil {
		result.Dropped = buf.Dropped()
	}

	c.engine.Release()

	c.mu.Lock()
	c.current = nil
	c.last = result
	c.mu.Unlock()

	log.Printf("Session %s stopped after %v: %d utterances, %d chars",
		result.ID, result.Duration.Round(time.Millisecond),
		len(result.Utterances), len(result.Transcript))
	c.notifier.RecordingChanged(false)
	if result.Transcript != "" {
		c.notifier.Transcribed(result.Transcript)
	}
	return result, nil
}

// Toggle starts when idle and stops when recording.
func (c *Controller) Toggle(ctx context.Context) (*Session, error) {
	if _, err := c.Start(ctx); err == nil {
		return nil, nil
	} else if !errors.Is(err, ErrAlreadyRecording) {
		return nil, err
	}
	return c.Stop(ctx)
}

// Reset aborts whatever is in flight and returns to idle without
// producing a transcript. Recovery hatch for a wedged session.
func (c *Controller) Reset() {
	c.mu.Lock()
	sess := c.current
	c.current = nil
	cache := c.cache
	c.mu.Unlock()

	if sess != nil {
		sess.cancel()
		sess.streamer.Stop()
	}
	c.engine.ForceIdle()
	cache.Evict()
	log.Printf("Controller reset to idle")
}

// Status reports the controller's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	sess := c.current
	modelID := c.cfg.Transcription.Model
	c.mu.Unlock()

	st := Status{
		State: c.engine.State().String(),
		Level: c.engine.Level(),
		Model: modelID,
	}
	if sess != nil {
		st.SessionID = sess.id
		st.Elapsed = time.Since(sess.startedAt)
	}
	if buf := c.engine.Buffer(); buf != nil {
		st.Buffered = buf.Len()
		st.Consumed = buf.Consumed()
		st.Dropped = buf.Dropped()
	}
	return st
}

// Level returns the live input meter reading.
func (c *Controller) Level() float64 {
	return c.engine.Level()
}

// LastResult returns the most recently completed session, or nil.
func (c *Controller) LastResult() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
