package bus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPathFunctions(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	t.Run("SockPath", func(t *testing.T) {
		path, err := SockPath()
		if err != nil {
			t.Fatalf("SockPath failed: %v", err)
		}
		if !filepath.IsAbs(path) {
			t.Error("SockPath should return absolute path")
		}
		if filepath.Base(path) != SockName {
			t.Errorf("SockPath should end with %s, got %s", SockName, filepath.Base(path))
		}
	})

	t.Run("PidPath", func(t *testing.T) {
		path, err := PidPath()
		if err != nil {
			t.Fatalf("PidPath failed: %v", err)
		}
		if !filepath.IsAbs(path) {
			t.Error("PidPath should return absolute path")
		}
		if filepath.Base(path) != PidName {
			t.Errorf("PidPath should end with %s, got %s", PidName, filepath.Base(path))
		}
	})
}

func TestPidFileLifecycle(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	t.Run("no daemon", func(t *testing.T) {
		if err := CheckExistingDaemon(); err != nil {
			t.Errorf("CheckExistingDaemon should succeed with no pid file: %v", err)
		}
	})

	t.Run("create and remove", func(t *testing.T) {
		if err := CreatePidFile(); err != nil {
			t.Fatalf("CreatePidFile failed: %v", err)
		}

		pidPath, _ := PidPath()
		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatalf("failed to read pid file: %v", err)
		}
		if string(data) != fmt.Sprintf("%d", os.Getpid()) {
			t.Errorf("pid file contains %q, expected current pid", string(data))
		}

		// Current process is alive, so a second daemon must be refused.
		if err := CheckExistingDaemon(); err == nil {
			t.Error("CheckExistingDaemon should fail while pid file points at a live process")
		}

		if err := RemovePidFile(); err != nil {
			t.Fatalf("RemovePidFile failed: %v", err)
		}
		if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
			t.Error("pid file should not exist after removal")
		}
	})

	t.Run("invalid pid file", func(t *testing.T) {
		pidPath, _ := PidPath()
		if err := os.WriteFile(pidPath, []byte("garbage"), 0o600); err != nil {
			t.Fatalf("failed to write pid file: %v", err)
		}
		defer os.Remove(pidPath)

		if err := CheckExistingDaemon(); err != nil {
			t.Errorf("CheckExistingDaemon should treat invalid pid file as stale: %v", err)
		}
	})
}

func TestSendCommand(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	ln, err := Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 2)
				if n, err := c.Read(buf); err != nil || n != 2 {
					return
				}
				switch buf[0] {
				case CmdStatus:
					fmt.Fprint(c, "STATUS status=idle\n")
				case CmdVer:
					fmt.Fprintf(c, "STATUS proto=%s\n", ProtoVer)
				default:
					fmt.Fprintf(c, "ERR unknown=%q\n", buf[0])
				}
			}(conn)
		}
	}()

	// Give the listener time to start.
	time.Sleep(10 * time.Millisecond)

	tests := []struct {
		cmd      byte
		expected string
	}{
		{CmdStatus, "STATUS status=idle\n"},
		{CmdVer, fmt.Sprintf("STATUS proto=%s\n", ProtoVer)},
		{'z', "ERR unknown='z'\n"},
	}

	for _, tt := range tests {
		resp, err := SendCommand(tt.cmd)
		if err != nil {
			t.Errorf("SendCommand(%c) failed: %v", tt.cmd, err)
			continue
		}
		if resp != tt.expected {
			t.Errorf("SendCommand(%c): got %q, expected %q", tt.cmd, resp, tt.expected)
		}
	}

	t.Run("dial without listener", func(t *testing.T) {
		ln.Close()
		sp, _ := SockPath()
		os.Remove(sp)
		if _, err := SendCommand(CmdStatus); err == nil {
			t.Error("SendCommand should fail when no daemon is listening")
		}
	})
}
