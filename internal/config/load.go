package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

var ErrConfigNotFound = errors.New("config not found")

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	voxcapDir := filepath.Join(configDir, "voxcap")
	if err := os.MkdirAll(voxcapDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(voxcapDir, "config.toml"), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: run voxcap configure", ErrConfigNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	log.Printf("Config: loading configuration from %s", configPath)
	var config Config
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()

	log.Printf("Config: configuration loaded successfully")
	return &config, nil
}

// Save writes the configuration to the user config path.
func Save(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left out of the config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Audio.DeviceRate == 0 {
		c.Audio.DeviceRate = def.Audio.DeviceRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = def.Audio.Channels
	}
	if c.Audio.ChunkSize == 0 {
		c.Audio.ChunkSize = def.Audio.ChunkSize
	}
	if c.Audio.TargetRate == 0 {
		c.Audio.TargetRate = def.Audio.TargetRate
	}
	if c.Audio.MeterInterval == 0 {
		c.Audio.MeterInterval = def.Audio.MeterInterval
	}
	if c.Audio.MaxDuration == 0 {
		c.Audio.MaxDuration = def.Audio.MaxDuration
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = def.VAD.Threshold
	}
	if c.VAD.WindowMS == 0 {
		c.VAD.WindowMS = def.VAD.WindowMS
	}
	if c.VAD.HangoverMS == 0 {
		c.VAD.HangoverMS = def.VAD.HangoverMS
	}
	if c.VAD.MinRetainedFraction == 0 {
		c.VAD.MinRetainedFraction = def.VAD.MinRetainedFraction
	}
	if c.Transcription.PollInterval == 0 {
		c.Transcription.PollInterval = def.Transcription.PollInterval
	}
	if c.Transcription.Threads == 0 {
		threads := runtime.NumCPU() - 1
		if threads < 1 {
			threads = 1
		}
		c.Transcription.Threads = threads
	}
	if c.Notifications.Type == "" {
		c.Notifications.Type = "none"
	}
}
