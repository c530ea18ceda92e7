package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxcap/voxcap/internal/bus"
	"github.com/voxcap/voxcap/internal/config"
	"github.com/voxcap/voxcap/internal/daemon"
	"github.com/voxcap/voxcap/internal/model"
	"github.com/voxcap/voxcap/internal/notify"
	"github.com/voxcap/voxcap/internal/session"
	"github.com/voxcap/voxcap/internal/tui"
)

func main() {
	_ = rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "voxcap",
	Short: "Push-to-talk dictation with local whisper transcription",
}

func init() {
	rootCmd.AddCommand(
		serveCmd(),
		startCmd(),
		stopCmd(),
		toggleCmd(),
		statusCmd(),
		levelCmd(),
		resetCmd(),
		versionCmd(),
		quitCmd(),
		configureCmd(),
		modelCmd(),
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager()
			if err != nil {
				if errors.Is(err, config.ErrConfigNotFound) {
					return fmt.Errorf("no configuration found, run 'voxcap configure' first")
				}
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := mgr.GetConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			notifier := notify.New(cfg.Notifications.Enabled, cfg.Notifications.Type)
			ctrl, err := session.New(cfg, notifier)
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}
			ctrl.WatchConfig(mgr)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := mgr.StartWatching(ctx); err != nil {
				return fmt.Errorf("failed to watch config: %w", err)
			}
			defer mgr.Stop()

			return daemon.New(ctrl).Run()
		},
	}
}

func sendCmd(use, short string, c byte, errVerb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand(c)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", errVerb, err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	return sendCmd("start", "Start a recording session", bus.CmdStart, "start recording")
}

func stopCmd() *cobra.Command {
	return sendCmd("stop", "Stop recording and print the transcript", bus.CmdStop, "stop recording")
}

func toggleCmd() *cobra.Command {
	return sendCmd("toggle", "Toggle recording on/off", bus.CmdToggle, "toggle recording")
}

func statusCmd() *cobra.Command {
	return sendCmd("status", "Get current recording status", bus.CmdStatus, "get status")
}

func levelCmd() *cobra.Command {
	return sendCmd("level", "Print the current input level", bus.CmdLevel, "read level")
}

func resetCmd() *cobra.Command {
	return sendCmd("reset", "Force the daemon back to idle", bus.CmdReset, "reset")
}

func versionCmd() *cobra.Command {
	return sendCmd("version", "Get protocol version", bus.CmdVer, "get version")
}

func quitCmd() *cobra.Command {
	return sendCmd("quit", "Stop the daemon", bus.CmdQuit, "stop daemon")
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration wizard for voxcap.
This will guide you through setting up:
- Whisper model and language
- Audio capture device
- Voice detection tuning
- Notification preferences`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure()
		},
	}
}

func runConfigure() error {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrConfigNotFound) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result, err := tui.Run(cfg)
	if err != nil {
		return fmt.Errorf("configuration wizard error: %w", err)
	}

	if result.Cancelled {
		fmt.Println("Configuration cancelled.")
		return nil
	}

	if err := config.Save(result.Config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("Configuration saved successfully!")
	fmt.Println()
	showNextSteps(result.Config)
	return nil
}

func showNextSteps(cfg *config.Config) {
	fmt.Println("Next Steps:")
	step := 1
	if !model.IsInstalled(cfg.Transcription.Model) {
		fmt.Printf("%d. Download the model: voxcap model download %s (or let the daemon fetch it on first use)\n",
			step, cfg.Transcription.Model)
		step++
	}
	fmt.Printf("%d. Start the daemon: voxcap serve\n", step)
	step++
	fmt.Printf("%d. Bind a key to: voxcap toggle\n", step)
	fmt.Println()

	configPath, _ := config.GetConfigPath()
	fmt.Printf("Config file location: %s\n", configPath)
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage whisper models",
	}

	cmd.AddCommand(modelListCmd())
	cmd.AddCommand(modelDownloadCmd())
	cmd.AddCommand(modelRemoveCmd())

	return cmd
}

func modelListCmd() *cobra.Command {
	var multilingualOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available whisper models",
		RunE: func(cmd *cobra.Command, args []string) error {
			models := model.List()
			if multilingualOnly {
				models = model.ListMultilingual()
			}
			for _, m := range models {
				prefix := "[ ]"
				if model.IsInstalled(m.ID) {
					prefix = "[x]"
				}
				lang := "english-only"
				if m.Multilingual {
					lang = "multilingual"
				}
				fmt.Printf("%s %-10s %-16s %s, %s\n", prefix, m.ID, m.Name, m.Size, lang)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&multilingualOnly, "multilingual", false, "only show multilingual models")

	return cmd
}

func modelDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a whisper model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelDownload(cmd.Context(), args[0])
		},
	}
}

func runModelDownload(ctx context.Context, modelID string) error {
	info := model.Get(modelID)
	if info == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}

	if model.IsInstalled(modelID) {
		fmt.Printf("model '%s' is already installed at %s\n", modelID, model.GetModelPath(modelID))
		return nil
	}

	fmt.Printf("downloading %s (%s)...\n", modelID, info.Size)

	var lastPercent int
	err := model.Download(ctx, modelID, func(downloaded, total int64) {
		if total > 0 {
			percent := int(downloaded * 100 / total)
			if percent >= lastPercent+10 {
				fmt.Printf("%d%% ", percent)
				lastPercent = percent
			}
		}
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Printf("\ndownload complete: %s\n", model.GetModelPath(modelID))
	return nil
}

func modelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model-id>",
		Short: "Remove a downloaded model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model.Get(args[0]) == nil {
				return fmt.Errorf("unknown model: %s", args[0])
			}
			if err := model.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("model '%s' removed successfully\n", args[0])
			return nil
		},
	}
}
