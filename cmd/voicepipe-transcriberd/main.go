// Command voicepipe-transcriberd is the transcriber daemon binary: a
// thin wrapper that resolves configuration and an stt.Client factory,
// then serves the transcriber protocol on its canonical socket.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/paths"
	"github.com/sigreer/voicepipe/internal/stt"
	"github.com/sigreer/voicepipe/internal/transcriberd"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voicepipe-transcriberd",
	Short: "Speech-to-text daemon for voicepipe",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the transcriber daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voicepipe-transcriberd %s\n", version)
		},
	})
}

func run() error {
	socketPath, err := paths.TranscriberSocketPath()
	if err != nil {
		return fmt.Errorf("resolve transcriber socket path: %w", err)
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return fmt.Errorf("resolve runtime dir: %w", err)
	}
	envPath, _ := paths.EnvFilePath()
	triggersPath, _ := paths.TriggersFilePath()
	manager, err := cfgstore.NewManager(envPath, triggersPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	newClient := func(backend string) (stt.Client, error) {
		backend = cfgstore.NormalizeBackendAlias(backend)
		apiKey := manager.Current().ResolveSTTAPIKey(backend)
		if apiKey == "" {
			return nil, fmt.Errorf("voicepipe-transcriberd: no API key configured for backend %q", backend)
		}
		switch backend {
		case "elevenlabs":
			return stt.NewElevenLabsClient(apiKey), nil
		default:
			return stt.NewOpenAIClient(apiKey), nil
		}
	}

	cfg := manager.Current()
	srv := transcriberd.NewServer(socketPath, runtimeDir, newClient, cfg.TranscribeBackend, cfg.TranscribeModel)
	manager.SetOnConfigReload(func(cfg *cfgstore.Config) {
		log.Printf("voicepipe-transcriberd: config reloaded")
		srv.SetDefaults(cfg.TranscribeBackend, cfg.TranscribeModel)
	})

	done := make(chan struct{})
	defer close(done)
	go manager.StartWatching(done, 5*time.Second)

	log.Printf("voicepipe-transcriberd: listening on %s", socketPath)
	return srv.Serve(context.Background())
}
