package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// HTTPOff disables the admin/websocket endpoint. An empty env value would
// fall back to the default, so "off" is spelled out.
const HTTPOff = "off"

// Server configures the relay.
type Server struct {
	ListenAddr   string        `env:"WHITEBOARD_LISTEN_ADDR"   envDefault:":5000"  validate:"required,hostname_port"`
	HTTPAddr     string        `env:"WHITEBOARD_HTTP_ADDR"     envDefault:":8080"  validate:"omitempty,eq=off|hostname_port"`
	SendBuffer   int           `env:"WHITEBOARD_SEND_BUFFER"   envDefault:"256"    validate:"min=1"`
	MaxLineBytes int           `env:"WHITEBOARD_MAX_LINE_BYTES" envDefault:"65536" validate:"min=64"`
	WriteTimeout time.Duration `env:"WHITEBOARD_WRITE_TIMEOUT" envDefault:"10s"    validate:"gt=0"`
	Advertise    bool          `env:"WHITEBOARD_ADVERTISE"     envDefault:"false"`
	LogFormat    string        `env:"WHITEBOARD_LOG_FORMAT"    envDefault:"text"   validate:"oneof=text json"`
	LogLevel     string        `env:"WHITEBOARD_LOG_LEVEL"     envDefault:"info"   validate:"oneof=trace debug info warn warning error"`
}

// Client configures a participant.
type Client struct {
	Server    string `env:"WHITEBOARD_SERVER"    envDefault:"localhost:5000" validate:"omitempty,hostname_port"`
	Username  string `env:"WHITEBOARD_USERNAME"  validate:"omitempty,excludes=:"`
	Websocket bool   `env:"WHITEBOARD_WEBSOCKET" envDefault:"false"`
	Discover  bool   `env:"WHITEBOARD_DISCOVER"  envDefault:"false"`
	LogDir    string `env:"WHITEBOARD_LOG_DIR"   envDefault:"."`
}

var validate = validator.New()

// LoadDotEnv reads .env files into the process environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadServer parses relay settings from the environment.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadClient parses participant settings from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// HTTPListenAddr is the admin/websocket address, or "" when it is switched off.
func (cfg Server) HTTPListenAddr() string {
	if cfg.HTTPAddr == HTTPOff {
		return ""
	}
	return cfg.HTTPAddr
}

// Validate checks cfg once flags have been applied on top of the environment.
func (cfg Server) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

func (cfg Client) Validate() error {
	if cfg.Server == "" && !cfg.Discover {
		return errors.New("invalid client config: a server address is required unless discovery is enabled")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}
