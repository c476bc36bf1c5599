// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/gamemaster/internal/logger"
	"github.com/woozymasta/gamemaster/internal/notify"
	"github.com/woozymasta/gamemaster/internal/registry"
	"github.com/woozymasta/gamemaster/internal/remote"
	"github.com/woozymasta/gamemaster/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server             `group:"Server Options" env-namespace:"GAMEMASTER"`
	Storage   Storage            `group:"Storage Options" namespace:"db" env-namespace:"GAMEMASTER_DB"`
	GeoIP     GeoIP              `group:"GeoIP Options" namespace:"geoip" env-namespace:"GAMEMASTER_GEOIP"`
	RateLimit RateLimit          `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"GAMEMASTER_RATE_LIMIT"`
	Health    Health             `group:"Health Options" namespace:"health" env-namespace:"GAMEMASTER_HEALTH"`
	A2S       A2S                `group:"A2S Options" namespace:"a2s" env-namespace:"GAMEMASTER_A2S"`
	Redis     notify.RedisConfig `group:"Redis Options" namespace:"redis" env-namespace:"GAMEMASTER_REDIS"`
	Remote    remote.Config      `group:"Platform Services Options" namespace:"remote" env-namespace:"GAMEMASTER_REMOTE"`
	Logger    logger.Config      `group:"Logger Options" namespace:"log" env-namespace:"GAMEMASTER_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address     string   `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken   string   `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Token for heartbeat and admin endpoints"`
	AllowedApps []string `short:"a" long:"allowed-app" env:"ALLOWED_APPS" description:"Application names rooms may be created for, any when empty" env-delim:","`
	MaxBodySize int64    `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"65536"`
	TrustProxy  bool     `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	Broadcast   int      `long:"broadcast-limit" env:"BROADCAST_LIMIT" description:"Concurrent deliveries per notification broadcast" default:"8"`
}

// Storage holds database configuration and one-shot maintenance tasks.
type Storage struct {
	// betteralign:ignore

	Path         string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"gamemaster.db"`
	ProbeServers bool          `long:"probe-servers" description:"Probe every enabled server over A2S once, mark unreachable ones failed and exit"`
	PruneRooms   time.Duration `long:"prune-rooms" description:"Terminate rooms left empty for longer than the given age and exit" optional:"true" optional-value:"1h"`
	SeedCount    int           `long:"seed-fake-data" hidden:"true"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB city database" default:"gamemaster.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-City.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// A2S holds Source Query protocol configuration used to probe servers.
type A2S struct {
	// betteralign:ignore

	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	Interval   time.Duration `long:"interval" env:"INTERVAL" description:"Background probe interval, disabled when zero" default:"0s"`
	Workers    int           `long:"workers" env:"WORKERS" description:"Concurrent probes" default:"10"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"120"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
}

// Health holds the load thresholds at which a server stops receiving placements.
type Health struct {
	CPU float64 `long:"cpu-threshold" env:"CPU_THRESHOLD" description:"CPU load fraction marking a server overloaded" default:"0.9"`
	RAM float64 `long:"ram-threshold" env:"RAM_THRESHOLD" description:"RAM usage fraction marking a server overloaded" default:"0.9"`
}

// Thresholds converts the options into registry thresholds.
func (h Health) Thresholds() registry.Thresholds {
	return registry.Thresholds{CPU: h.CPU, RAM: h.RAM}
}

// Validate checks values that flags cannot constrain.
func (c *Config) Validate() error {
	if c.Server.AuthToken == "" {
		return fmt.Errorf("required flag `-t, --auth-token' or environment variable `GAMEMASTER_AUTH_TOKEN` was not specified")
	}

	for name, v := range map[string]float64{"cpu": c.Health.CPU, "ram": c.Health.RAM} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s threshold %v out of range (0, 1]", name, v)
		}
	}

	if c.RateLimit.HardLimitCount <= 0 || c.RateLimit.HardLimitWin <= 0 {
		return fmt.Errorf("rate limit count and window must be positive")
	}

	return nil
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return &cfg
}
