package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxcap/voxcap/internal/bus"
	"github.com/voxcap/voxcap/internal/session"
)

// stubPipeline records calls and replies with canned results.
type stubPipeline struct {
	mu        sync.Mutex
	recording bool
	startErr  error
	stopSess  *session.Session
	stopErr   error
	resets    int
}

func (p *stubPipeline) Start(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return "", p.startErr
	}
	if p.recording {
		return "", session.ErrAlreadyRecording
	}
	p.recording = true
	return "sess-1", nil
}

func (p *stubPipeline) Stop(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopErr != nil {
		return nil, p.stopErr
	}
	if !p.recording {
		return nil, session.ErrNotRecording
	}
	p.recording = false
	if p.stopSess != nil {
		return p.stopSess, nil
	}
	return &session.Session{ID: "sess-1", Transcript: "stub text"}, nil
}

func (p *stubPipeline) Toggle(ctx context.Context) (*session.Session, error) {
	if _, err := p.Start(ctx); err == nil {
		return nil, nil
	}
	return p.Stop(ctx)
}

func (p *stubPipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = false
	p.resets++
}

func (p *stubPipeline) Status() session.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "idle"
	if p.recording {
		state = "capturing"
	}
	return session.Status{State: state, Model: "base.en"}
}

func (p *stubPipeline) Level() float64 { return 0.1234 }

// startDaemon runs a daemon against a private socket dir and waits for
// it to accept connections.
func startDaemon(t *testing.T, p Pipeline) *Daemon {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	d := New(p)
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := bus.Dial(); err == nil {
			c.Close()
			t.Cleanup(func() {
				d.cancel()
				select {
				case <-errCh:
				case <-time.After(2 * time.Second):
					t.Error("daemon did not shut down")
				}
			})
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon never came up")
	return nil
}

func send(t *testing.T, cmd byte) string {
	t.Helper()
	resp, err := bus.SendCommand(cmd)
	if err != nil {
		t.Fatalf("SendCommand(%c) failed: %v", cmd, err)
	}
	return strings.TrimSpace(resp)
}

func TestDaemonStartStop(t *testing.T) {
	p := &stubPipeline{}
	startDaemon(t, p)

	if resp := send(t, bus.CmdStart); resp != "OK started session=sess-1" {
		t.Errorf("start reply = %q", resp)
	}
	if resp := send(t, bus.CmdStart); !strings.HasPrefix(resp, "ERR") {
		t.Errorf("double start reply = %q, expected ERR", resp)
	}
	resp := send(t, bus.CmdStop)
	if !strings.Contains(resp, "transcript=stub text") {
		t.Errorf("stop reply = %q, expected transcript", resp)
	}
	if resp := send(t, bus.CmdStop); !strings.HasPrefix(resp, "ERR") {
		t.Errorf("stop while idle reply = %q, expected ERR", resp)
	}
}

func TestDaemonToggle(t *testing.T) {
	p := &stubPipeline{}
	startDaemon(t, p)

	if resp := send(t, bus.CmdToggle); resp != "OK recording" {
		t.Errorf("first toggle reply = %q", resp)
	}
	if resp := send(t, bus.CmdToggle); !strings.Contains(resp, "transcript=") {
		t.Errorf("second toggle reply = %q", resp)
	}
}

func TestDaemonStatusAndLevel(t *testing.T) {
	p := &stubPipeline{}
	startDaemon(t, p)

	resp := send(t, bus.CmdStatus)
	if !strings.Contains(resp, "state=idle") || !strings.Contains(resp, "model=base.en") {
		t.Errorf("status reply = %q", resp)
	}

	if resp := send(t, bus.CmdLevel); resp != "LEVEL 0.1234" {
		t.Errorf("level reply = %q", resp)
	}
}

func TestDaemonReset(t *testing.T) {
	p := &stubPipeline{}
	startDaemon(t, p)

	send(t, bus.CmdStart)
	if resp := send(t, bus.CmdReset); resp != "OK reset" {
		t.Errorf("reset reply = %q", resp)
	}
	if p.resets != 1 {
		t.Errorf("resets = %d, expected 1", p.resets)
	}
	if resp := send(t, bus.CmdStatus); !strings.Contains(resp, "state=idle") {
		t.Errorf("status after reset = %q", resp)
	}
}

func TestDaemonVersionAndUnknown(t *testing.T) {
	startDaemon(t, &stubPipeline{})

	if resp := send(t, bus.CmdVer); resp != "STATUS proto="+bus.ProtoVer {
		t.Errorf("version reply = %q", resp)
	}
	if resp := send(t, '?'); !strings.HasPrefix(resp, "ERR unknown") {
		t.Errorf("unknown command reply = %q", resp)
	}
}

func TestDaemonStopErrorSurfaced(t *testing.T) {
	p := &stubPipeline{stopErr: errors.New("flush broke")}
	startDaemon(t, p)

	send(t, bus.CmdStart)
	if resp := send(t, bus.CmdStop); !strings.Contains(resp, "flush broke") {
		t.Errorf("stop reply = %q, expected the pipeline error", resp)
	}
}

func TestDaemonSessionErrorInReply(t *testing.T) {
	p := &stubPipeline{stopSess: &session.Session{
		ID:         "sess-9",
		Transcript: "partial",
		Err:        errors.New("stream died"),
	}}
	startDaemon(t, p)

	send(t, bus.CmdStart)
	resp := send(t, bus.CmdStop)
	if !strings.Contains(resp, `error="stream died"`) || !strings.Contains(resp, "transcript=partial") {
		t.Errorf("stop reply = %q", resp)
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	startDaemon(t, &stubPipeline{})

	d2 := New(&stubPipeline{})
	if err := d2.Run(); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("second daemon Run = %v, expected already-running error", err)
	}
}
