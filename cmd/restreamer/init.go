package main

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/restreamer-go/restreamer/internal/bootstrap"
)

// runInit collects startup configuration through an interactive form and
// writes it to path as YAML, the same huh-based wizard idiom the teacher
// uses for its device setup flow, retargeted at this server's own config
// fields instead of USB device selection.
func runInit(path string) error {
	cfg := bootstrap.DefaultConfig()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("ffmpeg binary path").
				Value(&cfg.FFmpegPath),
			huh.NewInput().
				Title("State file path").
				Description("Where declared restream state is persisted between restarts").
				Value(&cfg.StateFile),
			huh.NewInput().
				Title("Recordings directory").
				Value(&cfg.RecordingsDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("GraphQL/HTTP listen address").
				Value(&cfg.HTTPAddr),
			huh.NewInput().
				Title("Media-server callback listen address").
				Value(&cfg.CallbackAddr),
			huh.NewInput().
				Title("Internal RTMP URL").
				Description("Where the embedded media server accepts pushed restream inputs").
				Value(&cfg.RTMPInternalURL),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable verbose logging?").
				Value(&cfg.Verbose),
		),
	)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return fmt.Errorf("configuration wizard aborted")
		}
		return fmt.Errorf("run configuration wizard: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("collected configuration is invalid: %w", err)
	}
	if err := bootstrap.WriteYAML(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote configuration to %s\n", path)
	return nil
}
