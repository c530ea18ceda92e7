package config

import "time"

type Config struct {
	Audio         AudioConfig         `toml:"audio"`
	VAD           VADConfig           `toml:"vad"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// AudioConfig describes the capture device and the resampling target.
type AudioConfig struct {
	Device        string        `toml:"device"`          // PipeWire target, empty for default input
	DeviceRate    int           `toml:"device_rate"`     // native capture rate negotiated with the device
	Channels      int           `toml:"channels"`        // native channel count, downmixed to mono
	ChunkSize     int           `toml:"chunk_size"`      // bytes per read from the capture stream
	TargetRate    int           `toml:"target_rate"`     // model rate the buffer is resampled to
	MeterInterval time.Duration `toml:"meter_interval"`  // cadence of the audio-level signal
	MaxDuration   time.Duration `toml:"max_duration"`    // hard cap on a recording session
}

// VADConfig tunes speech/silence classification. Threshold and the minimum
// retained fraction are deliberately configuration inputs, not constants.
type VADConfig struct {
	Threshold           float64 `toml:"threshold"`             // normalized RMS above which a window counts as speech
	WindowMS            int     `toml:"window_ms"`             // classification window length
	HangoverMS          int     `toml:"hangover_ms"`           // silence run that closes an utterance
	MinRetainedFraction float64 `toml:"min_retained_fraction"` // below this, trimming is skipped entirely
}

type TranscriptionConfig struct {
	Model        string        `toml:"model"`         // whisper model id (e.g. "base.en")
	Language     string        `toml:"language"`      // ISO-639-1 code, empty for auto-detect
	Threads      int           `toml:"threads"`       // CPU threads for inference (0 = auto: NumCPU-1)
	PollInterval time.Duration `toml:"poll_interval"` // streaming transcriber tick
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}
