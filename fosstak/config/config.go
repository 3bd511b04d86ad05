// Package config loads fosstak node settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/TheusHen/fosstak/fosstak"
	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/logging"
	"github.com/TheusHen/fosstak/fosstak/transport"
	"github.com/TheusHen/fosstak/fosstak/transport/quic"
)

var ErrInvalid = errors.New("config: invalid configuration")

const DefaultListen = "127.0.0.1:7420"

// Duration reads YAML values such as "250ms" or "1s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// QUIC tunes the quic transport; zero values keep its defaults.
type QUIC struct {
	KeepAlive   Duration `yaml:"keep_alive"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	Linger      Duration `yaml:"linger"`
}

type Config struct {
	Listen           string   `yaml:"listen"`
	Peers            []string `yaml:"peers,omitempty"`
	KeySize          int      `yaml:"key_size"`
	Transport        string   `yaml:"transport"`
	Compress         bool     `yaml:"compress"`
	LogLevel         string   `yaml:"log_level"`
	AcceptBackoffMin Duration `yaml:"accept_backoff_min"`
	AcceptBackoffMax Duration `yaml:"accept_backoff_max"`
	QUIC             QUIC     `yaml:"quic"`
}

func Default() Config {
	return Config{
		Listen:           DefaultListen,
		KeySize:          crypto.DefaultKeySize,
		Transport:        "tcp",
		LogLevel:         "info",
		AcceptBackoffMin: Duration(fosstak.DefaultAcceptBackoffMin),
		AcceptBackoffMax: Duration(fosstak.DefaultAcceptBackoffMax),
	}
}

// Load reads and validates the file at path. Keys missing from the file
// keep their Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML strictly: unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if c.KeySize != 0 && c.KeySize < crypto.MinKeySize {
		return fmt.Errorf("%w: key_size %d below %d", ErrInvalid, c.KeySize, crypto.MinKeySize)
	}
	switch c.Transport {
	case "tcp", "quic":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	if c.AcceptBackoffMin < 0 || c.AcceptBackoffMax < c.AcceptBackoffMin {
		return fmt.Errorf("%w: accept backoff must satisfy 0 <= min <= max", ErrInvalid)
	}
	return nil
}

// Logger builds the logger described by LogLevel.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return logging.New(level, w), nil
}

// NewTransport returns the transport named by Transport.
func (c Config) NewTransport() (transport.Transport, error) {
	switch c.Transport {
	case "", "tcp":
		return transport.TCP(), nil
	case "quic":
		return quic.New(quic.Options{
			KeepAlive:   time.Duration(c.QUIC.KeepAlive),
			IdleTimeout: time.Duration(c.QUIC.IdleTimeout),
			Linger:      time.Duration(c.QUIC.Linger),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
}

// ManagerOptions turns c into options for fosstak.Bind.
func (c Config) ManagerOptions(logger *slog.Logger) ([]fosstak.Option, error) {
	tr, err := c.NewTransport()
	if err != nil {
		return nil, err
	}
	return []fosstak.Option{
		fosstak.WithLogger(logger),
		fosstak.WithTransport(tr),
		fosstak.WithCompression(c.Compress),
		fosstak.WithAcceptBackoff(time.Duration(c.AcceptBackoffMin), time.Duration(c.AcceptBackoffMax)),
	}, nil
}
