package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petems/loopcap/internal/capture"
	"github.com/petems/loopcap/internal/config"
	"github.com/petems/loopcap/internal/logging"
	"github.com/petems/loopcap/internal/wavefile"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile     string
	backendName string
	deviceName  string
	logLevel    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loopcap",
		Short:         "Capture the audio currently playing on an output device",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: loopcap.yaml)")
	root.PersistentFlags().StringVar(&backendName, "backend", "", "audio backend: miniaudio or portaudio")
	root.PersistentFlags().StringVar(&deviceName, "device", "", "playback device to capture from (default: system default)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newDevicesCmd())
	root.AddCommand(newCaptureCmd())
	return root
}

// loadConfig merges the config file with any flags set on the command
// line; flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = backendName
	}
	if cmd.Flags().Changed("device") {
		cfg.Device = deviceName
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newBackend(name string, log zerolog.Logger) (capture.Backend, error) {
	switch name {
	case "", "miniaudio":
		return capture.NewMalgoBackend(log)
	case "portaudio":
		return capture.NewPortAudioBackend(log)
	default:
		return nil, fmt.Errorf("unknown backend %q (want miniaudio or portaudio)", name)
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capturable playback devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel)

			backend, err := newBackend(cfg.Backend, log)
			if err != nil {
				return err
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, d.Name)
			}
			return nil
		},
	}
}

func newCaptureCmd() *cobra.Command {
	var (
		duration float64
		frames   int
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture playback audio for a duration and write it to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel)

			backend, err := newBackend(cfg.Backend, log)
			if err != nil {
				return err
			}
			defer backend.Close()

			session, err := capture.NewSession(backend, capture.Config{
				DeviceName: cfg.Device,
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
				BlockSize:  cfg.BlockSize,
				Exclusive:  cfg.Exclusive,
			}, log)
			if err != nil {
				return err
			}

			if err := session.Open(); err != nil {
				return err
			}
			defer session.Close()

			if frames <= 0 {
				frames = cfg.BlockSize
			}
			block, err := session.Capture(duration, frames)
			if err != nil {
				return err
			}
			if err := wavefile.Write(outPath, block, cfg.SampleRate); err != nil {
				return err
			}

			info := session.Info()
			log.Info().
				Str("device", info.DeviceName).
				Str("file", outPath).
				Int("frames", block.Frames()).
				Int("blocks_read", info.BlocksRead).
				Int("reconnects", info.Reconnects).
				Msg("Capture complete")
			return nil
		},
	}

	cmd.Flags().Float64VarP(&duration, "duration", "d", 5.0, "capture duration in seconds")
	cmd.Flags().IntVar(&frames, "frames", 0, "frames per read (default: block size)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "capture.wav", "output WAV file")
	return cmd
}
