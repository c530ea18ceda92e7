package audio

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureState is the engine lifecycle state. Transitions are strictly
// Idle -> Capturing -> Stopping -> Idle; a new session cannot begin
// until the previous one has been fully released.
type CaptureState int32

const (
	StateIdle CaptureState = iota
	StateCapturing
	StateStopping
)

func (s CaptureState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EngineConfig describes one engine instance. DeviceRate is the rate
// requested from the backend; TargetRate is what the buffer stores.
type EngineConfig struct {
	Device        string
	DeviceRate    int
	Channels      int
	ChunkSize     int // bytes per backend read
	TargetRate    int
	MeterInterval time.Duration
	MaxDuration   time.Duration
	FrameDepth    int
}

// Engine owns the capture lifecycle: it opens a Source, decodes and
// resamples its frames into a CaptureBuffer, and exposes the buffer to
// the streaming transcriber. One session at a time, enforced by CAS on
// the state word.
type Engine struct {
	cfg   EngineConfig
	state atomic.Int32
	level atomic.Uint64 // float64 bits of the last meter reading

	// newSource is swapped in tests.
	newSource func(SourceConfig) Source

	mu      sync.Mutex // guards the per-session fields below
	buffer  *CaptureBuffer
	source  Source
	done    chan struct{}
	lastErr error

	wg sync.WaitGroup
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg, newSource: NewPipeWireSource}
}

// NewEngineWithSource builds an engine on a custom source factory.
// Lets tests and alternative backends bypass pw-record.
func NewEngineWithSource(cfg EngineConfig, newSource func(SourceConfig) Source) *Engine {
	return &Engine{cfg: cfg, newSource: newSource}
}

func (e *Engine) State() CaptureState {
	return CaptureState(e.state.Load())
}

// Level returns the most recent normalized [0,1] RMS meter reading.
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Buffer returns the current session's buffer, or nil when idle.
func (e *Engine) Buffer() *CaptureBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer
}

// Done is closed when the capture stream has ended, whether by Stop, a
// stream error, or the max-duration guard. Nil when idle.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Err reports the stream error that ended the session, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Start opens a capture stream and begins filling a fresh buffer.
// Returns ErrDeviceBusy unless the engine is fully idle; a session that
// is still draining counts as busy.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateCapturing)) {
		return ErrDeviceBusy
	}

	src := e.newSource(SourceConfig{
		SampleRate: e.cfg.DeviceRate,
		Channels:   e.cfg.Channels,
		ChunkSize:  e.cfg.ChunkSize,
		Device:     e.cfg.Device,
		FrameDepth: e.cfg.FrameDepth,
	})

	frames, errs, err := src.Start(ctx)
	if err != nil {
		e.state.Store(int32(StateIdle))
		return err
	}

	capSamples := e.cfg.TargetRate * 60 // one minute of headroom up front
	done := make(chan struct{})

	e.mu.Lock()
	e.buffer = NewCaptureBuffer(capSamples)
	e.source = src
	e.done = done
	e.lastErr = nil
	e.mu.Unlock()

	e.level.Store(0)

	e.wg.Add(2)
	go e.readLoop(src, frames, errs, done)
	go e.meterLoop(done)

	return nil
}

// Stop ends the capture stream, drains every remaining frame into the
// buffer, and returns once the buffer is final. The engine stays in
// Stopping until Release is called, so an immediate Start still fails
// with ErrDeviceBusy.
func (e *Engine) Stop() error {
	if !e.state.CompareAndSwap(int32(StateCapturing), int32(StateStopping)) {
		return ErrNotCapturing
	}

	e.mu.Lock()
	src := e.source
	e.mu.Unlock()

	if src != nil {
		_ = src.Stop()
	}
	e.wg.Wait()

	return e.Err()
}

// Release returns the engine to Idle after the caller has finished with
// the session's buffer. Only legal from Stopping.
func (e *Engine) Release() {
	if !e.state.CompareAndSwap(int32(StateStopping), int32(StateIdle)) {
		return
	}
	e.mu.Lock()
	e.buffer = nil
	e.source = nil
	e.done = nil
	e.mu.Unlock()
}

// ForceIdle aborts whatever is in flight and resets to Idle. Used by the
// reset command to recover from a stuck session.
func (e *Engine) ForceIdle() {
	e.mu.Lock()
	src := e.source
	e.mu.Unlock()
	if src != nil {
		_ = src.Stop()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.buffer = nil
	e.source = nil
	e.done = nil
	e.lastErr = nil
	e.mu.Unlock()
	e.state.Store(int32(StateIdle))
}

// readLoop is the only writer of the session buffer's append side. Each
// frame is decoded, downmixed, and resampled to the target rate. If the
// resampler cannot keep up with real time the loop degrades to storing
// native samples and bulk-resamples the tail during drain, preserving
// the resampler phase across the seam.
func (e *Engine) readLoop(src Source, frames <-chan Frame, errs <-chan error, done chan struct{}) {
	defer func() {
		close(done)
		e.wg.Done()
	}()

	resampler := NewResampler(e.cfg.DeviceRate, e.cfg.TargetRate)

	var (
		raw        []int16 // native tail accumulated after degrading
		degraded   bool
		slowChunks int
		pending    []int16 // resampled samples rejected by a contended TryAppend
		started    = time.Now()
	)

	chunkSamples := e.cfg.ChunkSize / 2 / e.cfg.Channels
	chunkBudget := time.Duration(chunkSamples) * time.Second / time.Duration(e.cfg.DeviceRate)

	buf := e.Buffer()

	appendChunk := func(samples []int16) {
		if len(pending) > 0 {
			pending = append(pending, samples...)
			if buf.TryAppend(pending) {
				pending = pending[:0]
			}
			return
		}
		if !buf.TryAppend(samples) {
			pending = append(pending, samples...)
		}
	}

	handleFrame := func(f Frame) {
		mono := Downmix(DecodeS16LE(f.Data), e.cfg.Channels)
		if degraded {
			raw = append(raw, mono...)
			return
		}
		t0 := time.Now()
		out := resampler.Process(mono)
		if time.Since(t0) > chunkBudget {
			slowChunks++
			if slowChunks >= 3 {
				degraded = true
				log.Printf("Capture: resampler falling behind, deferring conversion to stop")
			}
		} else {
			slowChunks = 0
		}
		appendChunk(out)
	}

	for frames != nil || errs != nil {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			handleFrame(f)
			if e.cfg.MaxDuration > 0 && time.Since(started) > e.cfg.MaxDuration {
				log.Printf("Capture: max duration %v reached, stopping stream", e.cfg.MaxDuration)
				_ = src.Stop()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				e.mu.Lock()
				if e.lastErr == nil {
					e.lastErr = err
				}
				e.mu.Unlock()
			}
		}
	}
	src.Wait()

	// Drain: everything still held locally goes in with blocking appends.
	if len(pending) > 0 {
		buf.AppendFinal(pending)
	}
	if len(raw) > 0 {
		buf.AppendFinal(resampler.Process(raw))
	}
}

// meterLoop periodically samples the tail of the buffer and publishes a
// normalized RMS level for the status and level commands.
func (e *Engine) meterLoop(done <-chan struct{}) {
	defer e.wg.Done()

	interval := e.cfg.MeterInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	window := int(float64(e.cfg.TargetRate) * interval.Seconds())
	if window < 1 {
		window = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := e.Buffer()
	for {
		select {
		case <-done:
			e.level.Store(0)
			return
		case <-ticker.C:
			e.level.Store(math.Float64bits(RMS(buf.Tail(window))))
		}
	}
}

// Validate checks an engine config before a daemon starts serving.
func (c EngineConfig) Validate() error {
	if c.DeviceRate <= 0 {
		return fmt.Errorf("invalid device rate %d", c.DeviceRate)
	}
	if c.TargetRate <= 0 || c.TargetRate > c.DeviceRate {
		return fmt.Errorf("invalid target rate %d (device rate %d)", c.TargetRate, c.DeviceRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if c.ChunkSize <= 0 || c.ChunkSize%2 != 0 {
		return fmt.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	return nil
}
