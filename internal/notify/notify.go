package notify

import (
	"fmt"
	"log"
	"os/exec"
)

type Notifier interface {
	RecordingChanged(on bool)
	Transcribed(text string)
	Error(msg string)
}

// New returns the notifier matching the configured type.
func New(enabled bool, kind string) Notifier {
	if !enabled {
		return Nop{}
	}
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		return Log{}
	default:
		return Nop{}
	}
}

type Desktop struct{}

func (Desktop) RecordingChanged(on bool) {
	state := "Stopped"
	if on {
		state = "Started"
	}
	cmd := exec.Command("notify-send", "-a", "Voxcap",
		fmt.Sprintf("Voxcap: %s Recording", state))
	if err := cmd.Run(); err != nil {
		log.Printf("Failed to send notification: %v", err)
	}
}

func (Desktop) Transcribed(text string) {
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	cmd := exec.Command("notify-send", "-a", "Voxcap", "Transcription ready", text)
	if err := cmd.Run(); err != nil {
		log.Printf("Failed to send notification: %v", err)
	}
}

func (Desktop) Error(msg string) {
	cmd := exec.Command("notify-send", "-a", "Voxcap", "-u", "critical", msg)
	if err := cmd.Run(); err != nil {
		log.Printf("Failed to send error notification: %v", err)
	}
}

// Log writes notifications to the daemon log instead of the desktop.
type Log struct{}

func (Log) RecordingChanged(on bool) { log.Printf("Notify: recording=%v", on) }
func (Log) Transcribed(text string)  { log.Printf("Notify: transcribed %d chars", len(text)) }
func (Log) Error(msg string)         { log.Printf("Notify: error: %s", msg) }

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) RecordingChanged(on bool) {}
func (Nop) Transcribed(text string)  {}
func (Nop) Error(msg string)         {}
