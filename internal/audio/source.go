package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Frame is one chunk of raw capture bytes as delivered by the backend.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Source is a raw PCM capture stream. Start opens the stream and returns
// a frame channel plus an error channel; both are closed when the stream
// ends. Stop requests termination; Wait blocks until the stream goroutine
// has fully exited and the child process is reaped.
type Source interface {
	Start(ctx context.Context) (<-chan Frame, <-chan error, error)
	Stop() error
	Wait()
}

// SourceConfig describes the stream requested from the capture backend.
type SourceConfig struct {
	SampleRate int
	Channels   int
	ChunkSize  int // bytes per read
	Device     string
	FrameDepth int // frame channel capacity
}

// pwSource captures via a pw-record subprocess writing s16le to stdout.
type pwSource struct {
	config SourceConfig

	mu     sync.Mutex // guards cmd and cancel
	cmd    *exec.Cmd
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// NewPipeWireSource returns a Source backed by pw-record.
func NewPipeWireSource(config SourceConfig) Source {
	if config.FrameDepth <= 0 {
		config.FrameDepth = 20
	}
	return &pwSource{config: config}
}

// CheckBackendAvailable verifies pw-record exists and PipeWire answers.
func CheckBackendAvailable(ctx context.Context) error {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return fmt.Errorf("%w: pw-record not found (install pipewire-tools)", ErrNoInputDevice)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := exec.CommandContext(checkCtx, "pw-cli", "info").Run(); err != nil {
		return fmt.Errorf("%w: PipeWire not running or accessible", ErrNoInputDevice)
	}
	return nil
}

func (s *pwSource) Start(ctx context.Context) (<-chan Frame, <-chan error, error) {
	if s.config.SampleRate <= 0 || s.config.Channels <= 0 || s.config.ChunkSize <= 0 {
		return nil, nil, fmt.Errorf("invalid source config: rate=%d channels=%d chunk=%d",
			s.config.SampleRate, s.config.Channels, s.config.ChunkSize)
	}

	if err := CheckBackendAvailable(ctx); err != nil {
		return nil, nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	frameCh := make(chan Frame, s.config.FrameDepth)
	errCh := make(chan error, 1)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.captureLoop(streamCtx, frameCh, errCh)

	return frameCh, errCh, nil
}

func (s *pwSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *pwSource) Wait() {
	s.wg.Wait()
}

func (s *pwSource) captureLoop(ctx context.Context, frameCh chan<- Frame, errCh chan<- error) {
	defer func() {
		close(frameCh)
		close(errCh)

		// Ensure any child process is reaped.
		s.mu.Lock()
		if s.cmd != nil {
			_ = s.cmd.Wait()
			s.cmd = nil
		}
		s.cancel = nil
		s.mu.Unlock()

		s.wg.Done()
	}()

	cmd := exec.CommandContext(ctx, "pw-record", s.buildArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.emitErr(errCh, fmt.Errorf("%w: create stdout pipe: %v", ErrStreamError, err))
		s.requestCancel()
		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.emitErr(errCh, fmt.Errorf("%w: create stderr pipe: %v", ErrStreamError, err))
		s.requestCancel()
		return
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.emitErr(errCh, fmt.Errorf("%w: start pw-record: %v", ErrStreamError, err))
		s.requestCancel()
		return
	}

	// Log stderr lines to aid diagnostics.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("Capture stderr: %s", scanner.Text())
		}
	}()

	buffer := make([]byte, s.config.ChunkSize)
	var droppedCount int
	lastDropLog := time.Now()

	for {
		n, readErr := stdout.Read(buffer)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])

			select {
			case frameCh <- Frame{Data: data, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			default:
				droppedCount++
				if time.Since(lastDropLog) > time.Second {
					log.Printf("Capture: dropped %d frames due to backpressure", droppedCount)
					lastDropLog = time.Now()
					droppedCount = 0
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return
			}
			s.emitErr(errCh, fmt.Errorf("%w: read audio: %v", ErrStreamError, readErr))
			s.requestCancel()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *pwSource) requestCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *pwSource) emitErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
		// Best-effort; avoid blocking
	}
	log.Printf("Capture error: %v", err)
}

func (s *pwSource) buildArgs() []string {
	args := []string{
		"--format", "s16le",
		"--rate", strconv.Itoa(s.config.SampleRate),
		"--channels", strconv.Itoa(s.config.Channels),
		"-", // stdout
	}
	if s.config.Device != "" {
		args = append(args, "--target", s.config.Device)
	}
	return args
}
