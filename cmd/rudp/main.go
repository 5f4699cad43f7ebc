// Rudp is a command-line front end for the reliable UDP protocol.
//
// It can listen as an echo server, connect as an interactive client, send
// a one-shot broadcast, or run the same echo exchange over a WebRTC
// DataChannel found through WebSocket signaling (host / join). Without a
// subcommand it asks what to do interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/util"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath    string
	debug         bool
	trace         bool
	metricsAddr   string
	statsInterval time.Duration
	chunkSize     int
	maxTries      int
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:   "rudp",
		Short: "Reliable messaging over UDP",
		Long: `Rudp runs a small reliable, connection-oriented messaging protocol
on top of plain UDP datagrams or a WebRTC DataChannel.

Run without a subcommand for the interactive mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &gf)
			if err != nil {
				return err
			}
			if err := askConfig(&cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "", "TOML config file")
	pf.BoolVar(&gf.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&gf.trace, "trace", false, "Log every frame (implies --debug)")
	pf.StringVar(&gf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	pf.DurationVar(&gf.statsInterval, "stats-interval", 10*time.Second, "Traffic report interval, 0 disables")
	pf.IntVar(&gf.chunkSize, "chunk-size", 0, "Payload bytes per frame")
	pf.IntVar(&gf.maxTries, "max-tries", 0, "Transmissions per frame before giving up")

	rootCmd.AddCommand(
		listenCmd(&gf),
		connectCmd(&gf),
		broadcastCmd(&gf),
		hostCmd(&gf),
		joinCmd(&gf),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration: defaults, then the config file,
// then any flag the user actually set.
func loadConfig(cmd *cobra.Command, gf *globalFlags) (config.Config, error) {
	cfg := config.Default()
	if gf.configPath != "" {
		loaded, err := config.Load(gf.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = gf.debug
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = gf.metricsAddr
	}
	if flags.Changed("stats-interval") {
		cfg.StatsInterval = config.Duration{Duration: gf.statsInterval}
	}
	if flags.Changed("chunk-size") {
		cfg.Protocol.ChunkSize = gf.chunkSize
	}
	if flags.Changed("max-tries") {
		cfg.Protocol.MaxTries = gf.maxTries
	}

	switch {
	case gf.trace:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Rudp v%s", version))
	pterm.Println()
	return cfg, nil
}
