// Command loon runs the compositor.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"lagoon.dev/loon"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/config"
)

var (
	flagConfig   string
	flagBackend  string
	flagSocket   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "loon",
	Short:        "A small damage-driven Wayland compositor",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to loon.toml")
	rootCmd.Flags().StringVarP(&flagBackend, "backend", "b", "", "backend to use (headless, fbdev, nested)")
	rootCmd.Flags().StringVar(&flagSocket, "socket", "", "listening socket name, e.g. wayland-1")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagSocket != "" {
		cfg.Socket = flagSocket
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}

	comp, err := loon.New(cfg, be)
	if err != nil {
		be.Close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "WAYLAND_DISPLAY=%v\n", comp.Socket())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = comp.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openBackend(cfg *config.Config) (backend.Backend, error) {
	name := cfg.Backend
	if name == "" || name == "auto" {
		name = detectBackend()
	}

	switch name {
	case "headless":
		return backend.NewHeadless(true, configuredOutputs(cfg)...), nil
	case "fbdev":
		return backend.OpenFBDev("")
	case "nested":
		out := cfg.Outputs[0]
		return backend.OpenNested(image.Pt(out.Width, out.Height))
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// detectBackend picks nested inside a host session, fbdev on a bare
// console, headless otherwise.
func detectBackend() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("WAYLAND_SOCKET") != "" {
		return "nested"
	}
	if _, err := os.Stat("/dev/fb0"); err == nil {
		return "fbdev"
	}
	return "headless"
}

func configuredOutputs(cfg *config.Config) []backend.OutputInfo {
	infos := make([]backend.OutputInfo, 0, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		infos = append(infos, backend.OutputInfo{
			Name:       o.Name,
			Rect:       image.Rect(o.X, o.Y, o.X+o.Width, o.Y+o.Height),
			Scale:      o.Scale,
			RefreshMHz: int32(o.Refresh),
		})
	}
	return infos
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
