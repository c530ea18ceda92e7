package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
)

var (
	// ErrModelNotFound means the requested model is not installed and
	// could not be acquired.
	ErrModelNotFound = errors.New("model not found")
	// ErrLoadFailed means the model cannot be used at all: the file is
	// gone or unreadable, or the inference binary is missing.
	ErrLoadFailed = errors.New("model load failed")
	// ErrInferenceFailed wraps a subprocess failure on one span; later
	// spans may still succeed.
	ErrInferenceFailed = errors.New("inference failed")
)

// Options configures how inference runs for every handle the cache
// hands out.
type Options struct {
	Language string // whisper language code, "" for auto
	Threads  int    // CPU threads, 0 for whisper's default
}

// AcquireFunc is invoked when a requested model is not installed. It is
// expected to make the model available (typically by downloading it);
// the cache re-checks installation afterwards.
type AcquireFunc func(ctx context.Context, modelID string) error

// Cache holds at most one loaded model handle. Requesting a different
// model evicts the current one; requesting the same model returns the
// existing handle with its warm scratch buffer.
type Cache struct {
	opts      Options
	onMissing AcquireFunc

	// swapped in tests
	lookPath func(string) (string, error)
	runCmd   func(ctx context.Context, bin string, args []string) (stdout, stderr string, err error)

	current *Handle
}

func NewCache(opts Options, onMissing AcquireFunc) *Cache {
	return &Cache{
		opts:      opts,
		onMissing: onMissing,
		lookPath:  exec.LookPath,
		runCmd:    runCommand,
	}
}

// Acquire returns a handle for the model, loading it into the slot
// first if needed. Not safe for concurrent use; the single controller
// owns the cache.
func (c *Cache) Acquire(ctx context.Context, modelID string) (*Handle, error) {
	if c.current != nil && c.current.id == modelID {
		return c.current, nil
	}

	if Get(modelID) == nil {
		return nil, fmt.Errorf("%w: unknown model %q", ErrModelNotFound, modelID)
	}

	if !IsInstalled(modelID) {
		if c.onMissing == nil {
			return nil, fmt.Errorf("%w: %s is not installed", ErrModelNotFound, modelID)
		}
		log.Printf("Model %s not installed, acquiring", modelID)
		if err := c.onMissing(ctx, modelID); err != nil {
			return nil, fmt.Errorf("%w: acquiring %s: %v", ErrModelNotFound, modelID, err)
		}
		if !IsInstalled(modelID) {
			return nil, fmt.Errorf("%w: %s still missing after acquisition", ErrModelNotFound, modelID)
		}
	}

	if c.current != nil {
		log.Printf("Evicting model %s for %s", c.current.id, modelID)
	}
	h := &Handle{
		id:      modelID,
		path:    GetModelPath(modelID),
		cache:   c,
		scratch: make(chan []int, 1),
	}
	go h.provision()
	c.current = h
	return h, nil
}

// CurrentID reports the model occupying the slot, or "".
func (c *Cache) CurrentID() string {
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// Evict empties the slot.
func (c *Cache) Evict() {
	c.current = nil
}

func runCommand(ctx context.Context, bin string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
