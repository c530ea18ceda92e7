package tui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/voxcap/voxcap/internal/config"
	"github.com/voxcap/voxcap/internal/model"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

// ConfigSection represents a configuration section
type ConfigSection string

const (
	SectionTranscription ConfigSection = "transcription"
	SectionAudio         ConfigSection = "audio"
	SectionVAD           ConfigSection = "vad"
	SectionNotifications ConfigSection = "notifications"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// Run starts the TUI configuration wizard over the given config (the
// loaded file, or defaults for a fresh install).
func Run(cfg *config.Config) (*ConfigureResult, error) {
	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := cfg.Validate(); err != nil {
				fmt.Println(StyleError.Render(fmt.Sprintf("Invalid configuration: %v", err)))
				waitForEnter()
				continue
			}
			return &ConfigureResult{Config: cfg, Cancelled: false}, nil

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionTranscription:
			if err := editTranscription(cfg); err != nil {
				continue
			}

		case SectionAudio:
			if err := editAudio(cfg); err != nil {
				continue
			}

		case SectionVAD:
			if err := editVAD(cfg); err != nil {
				continue
			}

		case SectionNotifications:
			if err := editNotifications(cfg); err != nil {
				continue
			}
		}
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	options := []huh.Option[ConfigSection]{
		huh.NewOption(fmt.Sprintf("Transcription (%s)", cfg.Transcription.Model), SectionTranscription),
		huh.NewOption(formatAudioLabel(cfg), SectionAudio),
		huh.NewOption(fmt.Sprintf("Voice Detection (threshold %.3f)", cfg.VAD.Threshold), SectionVAD),
		huh.NewOption(formatNotificationsLabel(cfg), SectionNotifications),
		huh.NewOption("Save & Exit", SectionSaveExit),
		huh.NewOption("Discard & Exit", SectionDiscardExit),
	}

	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(options...).
				Value(&selected),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func formatAudioLabel(cfg *config.Config) string {
	device := cfg.Audio.Device
	if device == "" {
		device = "default input"
	}
	return fmt.Sprintf("Audio (%s @ %dHz)", device, cfg.Audio.DeviceRate)
}

func formatNotificationsLabel(cfg *config.Config) string {
	if !cfg.Notifications.Enabled {
		return "Notifications (off)"
	}
	return fmt.Sprintf("Notifications (%s)", cfg.Notifications.Type)
}

func editTranscription(cfg *config.Config) error {
	options := make([]huh.Option[string], 0, len(model.List()))
	for _, m := range model.List() {
		label := fmt.Sprintf("%s - %s", m.ID, m.Size)
		if model.IsInstalled(m.ID) {
			label += " - installed"
		} else {
			label += " - downloads on first use"
		}
		options = append(options, huh.NewOption(label, m.ID))
	}

	selectedModel := cfg.Transcription.Model
	language := cfg.Transcription.Language

	langDesc := "ISO-639-1 code (e.g., 'en', 'es', 'fr') or empty for auto-detect"
	if cfg.Transcription.Language != "" {
		langDesc = fmt.Sprintf("Currently: %s. %s", cfg.Transcription.Language, langDesc)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Whisper Model").
				Description(fmt.Sprintf("Currently: %s", cfg.Transcription.Model)).
				Options(options...).
				Value(&selectedModel),
			huh.NewInput().
				Title("Language").
				Description(langDesc).
				Placeholder("auto-detect").
				Value(&language),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Transcription.Model = selectedModel
	cfg.Transcription.Language = language
	return nil
}

func editAudio(cfg *config.Config) error {
	device := cfg.Audio.Device
	rate := strconv.Itoa(cfg.Audio.DeviceRate)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Capture Device").
				Description("PipeWire target node, empty for the default input").
				Placeholder("default").
				Value(&device),
			huh.NewSelect[string]().
				Title("Device Sample Rate").
				Options(
					huh.NewOption("48000 Hz (typical)", "48000"),
					huh.NewOption("44100 Hz", "44100"),
					huh.NewOption("16000 Hz (no resampling)", "16000"),
				).
				Value(&rate),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Audio.Device = device
	cfg.Audio.DeviceRate, _ = strconv.Atoi(rate)
	return nil
}

func editVAD(cfg *config.Config) error {
	threshold := strconv.FormatFloat(cfg.VAD.Threshold, 'f', -1, 64)
	hangover := strconv.Itoa(cfg.VAD.HangoverMS)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Speech Threshold").
				Description("Normalized RMS in (0,1); lower picks up quieter speech").
				Value(&threshold).
				Validate(func(s string) error {
					v, err := strconv.ParseFloat(s, 64)
					if err != nil || v <= 0 || v >= 1 {
						return fmt.Errorf("must be a number in (0,1)")
					}
					return nil
				}),
			huh.NewInput().
				Title("Hangover (ms)").
				Description("Silence that closes an utterance; larger merges pauses").
				Value(&hangover).
				Validate(func(s string) error {
					v, err := strconv.Atoi(s)
					if err != nil || v < cfg.VAD.WindowMS {
						return fmt.Errorf("must be an integer >= %dms", cfg.VAD.WindowMS)
					}
					return nil
				}),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.VAD.Threshold, _ = strconv.ParseFloat(threshold, 64)
	cfg.VAD.HangoverMS, _ = strconv.Atoi(hangover)
	return nil
}

func editNotifications(cfg *config.Config) error {
	enabled := cfg.Notifications.Enabled
	kind := cfg.Notifications.Type
	if kind == "" {
		kind = "desktop"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Notifications").
				Value(&enabled),
			huh.NewSelect[string]().
				Title("Notification Type").
				Options(
					huh.NewOption("Desktop (notify-send)", "desktop"),
					huh.NewOption("Daemon log only", "log"),
					huh.NewOption("None", "none"),
				).
				Value(&kind),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Notifications.Enabled = enabled
	cfg.Notifications.Type = kind
	return nil
}

func waitForEnter() {
	fmt.Print(StyleMuted.Render("Press enter to continue"))
	fmt.Scanln()
}

// clearScreen clears the terminal screen
func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}

func getTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.Base = lipgloss.NewStyle().BorderForeground(ColorPrimary)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSecondary)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(ColorText)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorSubtle)

	return t
}
