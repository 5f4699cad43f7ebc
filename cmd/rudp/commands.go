package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/1ureka/rudp/internal/config"
)

func listenCmd(gf *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run an echo server on a UDP port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			cfg.Role = config.RoleListen
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "UDP port to listen on")
	return cmd
}

func connectCmd(gf *globalFlags) *cobra.Command {
	var (
		port  int
		token string
	)

	cmd := &cobra.Command{
		Use:   "connect <host:port>",
		Short: "Connect to a listener and send lines from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			cfg.Role = config.RoleConnect
			cfg.Peer = args[0]
			// A client binds any free port unless asked otherwise.
			cfg.Port = port
			if cmd.Flags().Changed("token") {
				cfg.Token = token
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Local UDP port, 0 picks a free one")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Handshake token")
	return cmd
}

func broadcastCmd(gf *globalFlags) *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Broadcast one message on the LAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			cfg.Role = config.RoleBroadcast
			cfg.Message = args[0]
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.BroadcastHost = host
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "UDP port; listeners on the same port receive the broadcast")
	cmd.Flags().StringVar(&host, "host", "", "Destination address (default 255.255.255.255)")
	return cmd
}

func hostCmd(gf *globalFlags) *cobra.Command {
	var (
		wsPort   int
		wsListen bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the echo server over a WebRTC DataChannel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			cfg.Role = config.RoleHost
			switch {
			case wsListen:
				cfg.WSAddr = fmt.Sprintf(":%d", wsPort)
			case wsPort > 0:
				cfg.WSAddr = fmt.Sprintf("127.0.0.1:%d", wsPort)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&wsPort, "ws-port", 0, "WebSocket signaling port, 0 picks a free one")
	cmd.Flags().BoolVar(&wsListen, "ws-listen", false, "Listen for signaling on all interfaces")
	return cmd
}

func joinCmd(gf *globalFlags) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "join <ws-url>",
		Short: "Join a host over WebRTC and send lines from stdin",
		Long: `Join a host started with "rudp host". The URL is the one the host
prints, including the PIN, e.g. ws://203.0.113.7:40123/ws?pin=123456.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			wsURL, err := normalizeWSURL(args[0])
			if err != nil {
				return err
			}
			cfg.Role = config.RoleJoin
			cfg.WSURL = wsURL
			if cmd.Flags().Changed("token") {
				cfg.Token = token
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&token, "token", "t", "", "Handshake token")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rudp %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
