// Package config holds the CLI configuration types, their defaults, and
// loading from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
)

// Role represents what the CLI process does.
type Role string

const (
	RoleListen    Role = "listen"    // echo server on a UDP port
	RoleConnect   Role = "connect"   // client of a listening peer
	RoleBroadcast Role = "broadcast" // one-shot broadcast sender
	RoleHost      Role = "host"      // listen over a WebRTC DataChannel
	RoleJoin      Role = "join"      // connect over a WebRTC DataChannel
)

// Duration is a time.Duration written as a string ("300ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Protocol holds the tunables of the reliable delivery engine.
type Protocol struct {
	ChunkSize     int      `toml:"chunk_size"`
	RetryDelay    Duration `toml:"retry_delay"`
	RetryJitter   Duration `toml:"retry_jitter"`
	MaxTries      int      `toml:"max_tries"`
	ChildMaxTries int      `toml:"child_max_tries"`
	Version       uint8    `toml:"version"`
}

// Options converts the tunables into socket options.
func (p Protocol) Options() []socket.Option {
	return []socket.Option{
		socket.WithChunkSize(p.ChunkSize),
		socket.WithRetry(p.RetryDelay.Duration, p.RetryJitter.Duration),
		socket.WithMaxTries(p.MaxTries),
		socket.WithChildMaxTries(p.ChildMaxTries),
		socket.WithVersion(p.Version),
	}
}

// Config stores all parameters gathered from flags, prompts, or a file.
type Config struct {
	Role          Role     `toml:"role"`
	Port          int      `toml:"port"`           // UDP port to bind, 0 = any
	Peer          string   `toml:"peer"`           // connect: listener address host:port
	Token         string   `toml:"token"`          // connect/join: handshake token
	Message       string   `toml:"message"`        // broadcast: payload text
	BroadcastHost string   `toml:"broadcast_host"` // broadcast: destination host
	WSAddr        string   `toml:"ws_addr"`        // host: signaling listen address
	WSURL         string   `toml:"ws_url"`         // join: signaling URL with PIN
	MetricsAddr   string   `toml:"metrics_addr"`   // serve /metrics here when set
	StatsInterval Duration `toml:"stats_interval"`
	Debug         bool     `toml:"debug"`
	Protocol      Protocol `toml:"protocol"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Role:          RoleListen,
		Port:          41234,
		BroadcastHost: transport.BroadcastHost,
		WSAddr:        ":0",
		StatsInterval: Duration{10 * time.Second},
		Protocol: Protocol{
			ChunkSize:     socket.DefaultChunkSize,
			RetryDelay:    Duration{socket.DefaultRetryDelay},
			RetryJitter:   Duration{socket.DefaultRetryJitter},
			MaxTries:      socket.DefaultMaxTries,
			ChildMaxTries: socket.DefaultChildMaxTries,
			Version:       socket.DefaultVersion,
		},
	}
}

// Load reads a TOML file over the defaults. Keys the file sets override the
// default; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	switch c.Role {
	case RoleListen, RoleBroadcast, RoleHost:
	case RoleConnect:
		if _, err := transport.ParseAddr(c.Peer); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("peer: %w", err))
		}
	case RoleJoin:
		if c.WSURL == "" {
			errs = multierror.Append(errs, errors.New("ws_url is required to join"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown role %q", c.Role))
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.StatsInterval.Duration < 0 {
		errs = multierror.Append(errs, errors.New("stats_interval must not be negative"))
	}

	p := c.Protocol
	if p.ChunkSize < 1 || p.ChunkSize > 65000 {
		errs = multierror.Append(errs, fmt.Errorf("protocol.chunk_size %d out of range 1..65000", p.ChunkSize))
	}
	if p.RetryDelay.Duration <= 0 {
		errs = multierror.Append(errs, errors.New("protocol.retry_delay must be positive"))
	}
	if p.RetryJitter.Duration < 0 {
		errs = multierror.Append(errs, errors.New("protocol.retry_jitter must not be negative"))
	}
	if p.MaxTries < 1 {
		errs = multierror.Append(errs, errors.New("protocol.max_tries must be at least 1"))
	}
	if p.ChildMaxTries < 1 {
		errs = multierror.Append(errs, errors.New("protocol.child_max_tries must be at least 1"))
	}
	if p.Version == 0 {
		errs = multierror.Append(errs, errors.New("protocol.version must be at least 1"))
	}

	return errs.ErrorOrNil()
}
