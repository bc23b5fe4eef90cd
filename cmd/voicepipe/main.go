// Command voicepipe is the thin CLI surface: toggle/status/cancel/stop
// plus processing-mode get/set, talking to the recorder/transcriber
// daemons (falling back to a spawned subprocess or in-process
// execution when neither daemon is reachable) via the toggle
// orchestrator. Kept deliberately thin, mirroring the teacher's
// cmd/hyprvoice/main.go cobra-command-per-verb layout, since the
// original spec places anything beyond this surface out of scope.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/envstore"
	"github.com/sigreer/voicepipe/internal/focus"
	"github.com/sigreer/voicepipe/internal/hotkey"
	"github.com/sigreer/voicepipe/internal/llmclient"
	"github.com/sigreer/voicepipe/internal/paths"
	"github.com/sigreer/voicepipe/internal/recbackend"
	"github.com/sigreer/voicepipe/internal/replay"
	"github.com/sigreer/voicepipe/internal/session"
	"github.com/sigreer/voicepipe/internal/stt"
	"github.com/sigreer/voicepipe/internal/toggle"
	"github.com/sigreer/voicepipe/internal/triggers"
	"github.com/sigreer/voicepipe/internal/typing"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voicepipe",
	Short: "Push-to-talk dictation and voice commands",
}

func init() {
	rootCmd.AddCommand(
		toggleCmd(),
		statusCmd(),
		cancelCmd(),
		stopCmd(),
		modeCmd(),
		versionCmd(),
	)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print application version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voicepipe %s\n", version)
		},
	}
}

func toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Start recording, or stop+transcribe+deliver if already recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			toggler, guard, err := newToggler()
			if err != nil {
				return err
			}

			var result toggle.Result
			var execErr error
			runner := hotkey.NewRunner(guard, func(windowID focus.WindowID) {
				result, execErr = toggler.Execute(context.Background(), windowID)
			}, nil)
			runner.HandlePress()

			if execErr != nil {
				return execErr
			}
			if result.Error != "" {
				fmt.Fprintln(os.Stderr, result.Error)
			}
			if result.Action == "stop" && result.Text != "" {
				fmt.Println(result.Text)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current recording status",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newChooser()
			if err != nil {
				return err
			}
			status, err := backend.StatusOf(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(status.Status)
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the recording in progress, discarding its audio",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newChooser()
			if err != nil {
				return err
			}
			status, err := backend.Cancel(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(status.Status)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop recording, transcribe, and deliver (without toggling start)",
		RunE: func(cmd *cobra.Command, args []string) error {
			chooser, err := newChooser()
			if err != nil {
				return err
			}
			status, err := chooser.StatusOf(context.Background())
			if err != nil {
				return err
			}
			if status.Status != "recording" {
				return fmt.Errorf("no recording in progress")
			}
			toggler, _, err := newToggler()
			if err != nil {
				return err
			}
			result, err := toggler.Execute(context.Background(), "")
			if err != nil {
				return err
			}
			if result.Text != "" {
				fmt.Println(result.Text)
			}
			return nil
		},
	}
}

func modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [raw|llm]",
		Short: "Get the dictation post-processing mode, or persist a new default",
		Long: `Get or set the dictation post-processing mode.

With no arguments: prints the effective mode (runtime override, or the
configured default). With an argument: since the CLI is stateless per
invocation, no in-memory override is set; the mode is persisted as the
new default by writing VOICEPIPE_PROCESSING_MODE into the env file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			toggler, _, err := newToggler()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println(toggler.EffectiveMode())
				return nil
			}
			mode := args[0]
			if mode != "raw" && mode != "llm" {
				return fmt.Errorf("invalid mode: %s (must be 'raw' or 'llm')", mode)
			}
			envPath, err := paths.EnvFilePath()
			if err != nil {
				return err
			}
			return envstore.UpsertEnvVar(envPath, "VOICEPIPE_PROCESSING_MODE", mode)
		},
	}
}

func newChooser() (*recbackend.Chooser, error) {
	socketPath, err := paths.RecorderSocketPath()
	if err != nil {
		return nil, err
	}
	stateDir, err := paths.SessionStateDir()
	if err != nil {
		return nil, err
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return nil, err
	}
	sessions := session.NewRegistry(stateDir, runtimeDir)

	exe, err := os.Executable()
	if err != nil {
		exe = "voicepipe-recorderd"
	} else {
		exe = filepath.Join(filepath.Dir(exe), "voicepipe-recorderd")
	}

	return &recbackend.Chooser{
		Daemon:     &recbackend.DaemonBackend{SocketPath: socketPath},
		Subprocess: &recbackend.SubprocessBackend{Command: []string{exe, "--oneshot"}, Sessions: sessions},
	}, nil
}

func newToggler() (*toggle.Toggler, *hotkey.Guard, error) {
	chooser, err := newChooser()
	if err != nil {
		return nil, nil, err
	}

	envPath, _ := paths.EnvFilePath()
	triggersPath, _ := paths.TriggersFilePath()
	cfg, err := cfgstore.Load(envPath, triggersPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	transcriberSocket, err := paths.TranscriberSocketPath()
	if err != nil {
		return nil, nil, err
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return nil, nil, err
	}
	stateDir, err := paths.SessionStateDir()
	if err != nil {
		return nil, nil, err
	}
	preservedAudioDir, err := paths.PreservedAudioDir()
	if err != nil {
		return nil, nil, err
	}
	configDir, err := paths.ConfigDir()
	if err != nil {
		return nil, nil, err
	}

	typer, err := typing.New(cfg.TypeBackend)
	if err != nil {
		log.Printf("voicepipe: %v, falling back to no-op typing backend", err)
		typer, _ = typing.New("none")
	}

	llm := llmclient.New(cfg.ZwingliBackend, cfg.ZwingliAPIKey, cfg.ZwingliBaseURL)

	toggler := toggle.New(toggle.Dependencies{
		Backend:               chooser,
		Sessions:              session.NewRegistry(stateDir, runtimeDir),
		Config:                func() *cfgstore.Config { return cfg },
		TranscriberSocketPath: transcriberSocket,
		SpeechClient:          speechClientFactory(cfg),
		LLM:                   llm,
		Plugins:               triggers.PluginRegistry{},
		ConfigDir:             configDir,
		Replay:                replay.New(runtimeDir),
		Typer:                 typer,
		PreservedAudioDir:     preservedAudioDir,
	})

	guard := hotkey.NewGuard(runtimeDir)
	return toggler, guard, nil
}

func speechClientFactory(cfg *cfgstore.Config) func(backend string) (stt.Client, error) {
	return func(backend string) (stt.Client, error) {
		backend = cfgstore.NormalizeBackendAlias(backend)
		apiKey := cfg.ResolveSTTAPIKey(backend)
		if apiKey == "" {
			return nil, fmt.Errorf("no API key configured for backend %q", backend)
		}
		switch backend {
		case "elevenlabs":
			return stt.NewElevenLabsClient(apiKey), nil
		default:
			return stt.NewOpenAIClient(apiKey), nil
		}
	}
}

