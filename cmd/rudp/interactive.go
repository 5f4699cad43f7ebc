package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// askConfig fills in the role and its parameters from interactive prompts.
func askConfig(cfg *config.Config) error {
	options := []string{
		"Listen    — Echo server on a UDP port",
		"Connect   — Client of a UDP listener",
		"Broadcast — One message to the LAN",
		"Host      — Echo server over WebRTC",
		"Join      — Client of a WebRTC host",
	}
	choice, err := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select what to run").
		Show()
	if err != nil {
		return err
	}
	pterm.Println()

	switch strings.ToLower(strings.Fields(choice)[0]) {
	case "listen":
		cfg.Role = config.RoleListen
		cfg.Port = askPort("UDP port to listen on (1 ~ 65535)")
	case "connect":
		cfg.Role = config.RoleConnect
		cfg.Port = 0
		cfg.Peer = askPeer()
		cfg.Token = askText("Handshake token (optional)")
	case "broadcast":
		cfg.Role = config.RoleBroadcast
		cfg.Port = askPort("UDP port to broadcast to (1 ~ 65535)")
		cfg.Message = askText("Message")
	case "host":
		cfg.Role = config.RoleHost
	case "join":
		cfg.Role = config.RoleJoin
		cfg.WSURL = askURL()
		cfg.Token = askText("Handshake token (optional)")
	}
	return nil
}

// normalizeWSURL validates a WebSocket URL, defaulting the scheme to wss
// and the path to /ws. The query, which carries the PIN, is kept.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.Fragment = ""
	return u.String(), nil
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askPeer prompts for a listener address until a valid host:port is entered.
func askPeer() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Listener address (e.g. 192.168.1.20:41234)").
			Show()

		raw = strings.TrimSpace(raw)
		if _, err := transport.ParseAddr(raw); err == nil {
			pterm.Println()
			return raw
		}

		util.LogWarning("invalid address: expected host:port")
		pterm.Println()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling URL (e.g. ws://203.0.113.7:40123/ws?pin=123456)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

func askText(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
