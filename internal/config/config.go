// Package config holds the command-line and environment configuration shared by
// the texcompile binaries. Every flag can also be set through an environment
// variable; a .env file in the current directory is loaded first and never
// overrides variables already present in the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Exit policies.
const (
	PolicyLenient = "lenient"
	PolicyStrict  = "strict"
)

// Runner kinds.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Engine configures how the typesetting engine is invoked.
type Engine struct {
	Binary     string        `name:"engine" env:"ENGINE" default:"xelatex" help:"Typesetting engine binary."`
	Timeout    time.Duration `name:"timeout" env:"ENGINE_TIMEOUT" default:"2m" help:"Maximum run time of one engine invocation (0 disables)."`
	ExitPolicy string        `name:"exit-policy" env:"EXIT_POLICY" default:"lenient" enum:"lenient,strict" help:"lenient: output decides success; strict: non-zero exit fails."`
	Runner     string        `name:"runner" env:"RUNNER" default:"local" enum:"local,docker" help:"Where the engine runs."`

	DockerImage string `name:"docker-image" env:"DOCKER_IMAGE" default:"texlive/texlive:latest" help:"Image used by the docker runner."`
	DockerPull  string `name:"docker-pull" env:"DOCKER_PULL" default:"missing" enum:"missing,always,never" help:"Image pull policy of the docker runner."`
}

// Redis configures the compile event stream.
type Redis struct {
	Addr          string        `name:"redis-addr" env:"REDIS_ADDR" help:"Redis address; empty disables the shared event stream."`
	Prefix        string        `name:"redis-prefix" env:"REDIS_PREFIX" default:"texcompile" help:"Key prefix for the event channel and history stream."`
	HistoryMaxAge time.Duration `name:"history-max-age" env:"HISTORY_MAX_AGE" default:"168h" help:"Age after which history entries are trimmed."`
}

// Logging configures the process-wide slog logger.
type Logging struct {
	Level  string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Minimum log level."`
	Format string `name:"log-format" env:"LOG_FORMAT" default:"text" enum:"text,json" help:"Log output format."`
}

// Server is the configuration of cmd/server.
type Server struct {
	WorkDir    string  `name:"work-dir" env:"WORK_DIR" default:"/data" help:"Shared directory holding sources and generated PDFs."`
	Addr       string  `name:"addr" env:"ADDR" default:":5000" help:"HTTP listen address."`
	Rate       float64 `name:"rate" env:"RATE_LIMIT" default:"0.5" help:"Compile requests per second per client (0 disables limiting)."`
	Burst      float64 `name:"burst" env:"RATE_BURST" default:"5" help:"Burst size of the rate limiter (at least 1 when limiting)."`
	TrustProxy bool    `name:"trust-proxy" env:"TRUST_PROXY" help:"Rate limit by the first X-Forwarded-For hop. Only behind a proxy that sets the header."`
	Metrics    bool    `name:"metrics" env:"METRICS_ENABLED" default:"true" negatable:"" help:"Serve Prometheus metrics on /metrics."`

	Engine  Engine  `embed:""`
	Redis   Redis   `embed:""`
	Logging Logging `embed:""`
}

// Parse loads .env and fills target (a kong CLI struct) from args and the environment.
func Parse(target any, name, description string, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	parser, err := kong.New(target,
		kong.Name(name),
		kong.Description(description),
		kong.UsageOnError(),
	)
	if err != nil {
		return fmt.Errorf("failed to build parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return err
	}
	return nil
}

// LoadServer parses the server configuration.
func LoadServer(args []string) (*Server, error) {
	var cfg Server
	if err := Parse(&cfg, "texcompile", "Compiles uploaded LaTeX sources into PDFs over HTTP.", args); err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("work-dir must not be empty")
	}
	if cfg.Rate < 0 || cfg.Burst < 0 {
		return nil, errors.New("rate and burst must not be negative")
	}
	if cfg.Rate > 0 && cfg.Burst < 1 {
		return nil, errors.New("burst must be at least 1 when rate limiting is enabled")
	}
	return &cfg, nil
}
