package config

import "time"

// DefaultConfig returns the initial configuration used for onboarding.
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			Device:        "",
			DeviceRate:    48000,
			Channels:      1,
			ChunkSize:     4096,
			TargetRate:    16000,
			MeterInterval: 50 * time.Millisecond,
			MaxDuration:   5 * time.Minute,
		},
		VAD: VADConfig{
			Threshold:           0.015,
			WindowMS:            20,
			HangoverMS:          300,
			MinRetainedFraction: 0.2,
		},
		Transcription: TranscriptionConfig{
			Model:        "base.en",
			Language:     "",
			Threads:      0,
			PollInterval: 250 * time.Millisecond,
		},
		Notifications: NotificationsConfig{
			Enabled: false,
			Type:    "none",
		},
	}
}
