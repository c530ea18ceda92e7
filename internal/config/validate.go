package config

import "fmt"

func (c *Config) Validate() error {
	if c.Audio.DeviceRate <= 0 {
		return fmt.Errorf("invalid audio.device_rate: %d", c.Audio.DeviceRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio.channels: %d", c.Audio.Channels)
	}
	if c.Audio.ChunkSize <= 0 {
		return fmt.Errorf("invalid audio.chunk_size: %d", c.Audio.ChunkSize)
	}
	if c.Audio.ChunkSize%2 != 0 {
		return fmt.Errorf("invalid audio.chunk_size: %d (must be even for s16le frames)", c.Audio.ChunkSize)
	}
	if c.Audio.TargetRate <= 0 {
		return fmt.Errorf("invalid audio.target_rate: %d", c.Audio.TargetRate)
	}
	if c.Audio.TargetRate > c.Audio.DeviceRate {
		return fmt.Errorf("invalid audio.target_rate: %d (must not exceed device_rate %d)", c.Audio.TargetRate, c.Audio.DeviceRate)
	}
	if c.Audio.MeterInterval <= 0 {
		return fmt.Errorf("invalid audio.meter_interval: %v", c.Audio.MeterInterval)
	}
	if c.Audio.MaxDuration <= 0 {
		return fmt.Errorf("invalid audio.max_duration: %v", c.Audio.MaxDuration)
	}

	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		return fmt.Errorf("invalid vad.threshold: %g (must be in (0, 1))", c.VAD.Threshold)
	}
	if c.VAD.WindowMS < 10 || c.VAD.WindowMS > 100 {
		return fmt.Errorf("invalid vad.window_ms: %d (must be 10-100)", c.VAD.WindowMS)
	}
	if c.VAD.HangoverMS < c.VAD.WindowMS {
		return fmt.Errorf("invalid vad.hangover_ms: %d (must be at least window_ms)", c.VAD.HangoverMS)
	}
	if c.VAD.MinRetainedFraction <= 0 || c.VAD.MinRetainedFraction >= 1 {
		return fmt.Errorf("invalid vad.min_retained_fraction: %g (must be in (0, 1))", c.VAD.MinRetainedFraction)
	}

	if c.Transcription.Model == "" {
		return fmt.Errorf("invalid transcription.model: empty")
	}
	validWhisperModels := map[string]bool{
		"tiny.en": true, "base.en": true, "small.en": true, "medium.en": true,
		"tiny": true, "base": true, "small": true, "medium": true, "large-v3": true,
	}
	if !validWhisperModels[c.Transcription.Model] {
		return fmt.Errorf("invalid transcription.model: %s (must be tiny.en, base.en, small.en, medium.en, tiny, base, small, medium, or large-v3)", c.Transcription.Model)
	}
	if c.Transcription.Language != "" && !isValidLanguageCode(c.Transcription.Language) {
		return fmt.Errorf("invalid transcription.language: %s (use empty string for auto-detect or ISO-639-1 codes like 'en', 'es', 'fr')", c.Transcription.Language)
	}
	if c.Transcription.Threads < 0 {
		return fmt.Errorf("invalid transcription.threads: %d", c.Transcription.Threads)
	}
	if c.Transcription.PollInterval <= 0 {
		return fmt.Errorf("invalid transcription.poll_interval: %v", c.Transcription.PollInterval)
	}

	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	return nil
}

func isValidLanguageCode(code string) bool {
	validCodes := map[string]bool{
		"en": true, "es": true, "fr": true, "de": true, "it": true, "pt": true,
		"ru": true, "ja": true, "ko": true, "zh": true, "ar": true, "hi": true,
		"nl": true, "sv": true, "da": true, "no": true, "fi": true, "pl": true,
		"tr": true, "he": true, "th": true, "vi": true, "id": true, "ms": true,
		"uk": true, "cs": true, "hu": true, "ro": true, "bg": true, "hr": true,
		"sk": true, "sl": true, "et": true, "lv": true, "lt": true, "ca": true,
	}
	return validCodes[code]
}
