// Package config loads agent configuration from a TOML file. A missing file
// is not an error: Load writes one populated with defaults so a fresh install
// boots and leaves the operator something to edit.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Transport selects the channel implementation the agent dials.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
	TransportQUIC   = "quic"
)

// ReaderConfig selects and parameterizes the physical channel.
type ReaderConfig struct {
	// Transport is one of "serial", "tcp" or "quic".
	Transport string `toml:"transport"`

	// Port pins a serial device path, e.g. /dev/ttyUSB0. Empty means discover
	// by USB vendor/product identity.
	Port      string `toml:"port"`
	VendorID  string `toml:"vendor_id"`
	ProductID string `toml:"product_id"`

	// Address is the host:port of a tcp or quic bridge.
	Address string `toml:"address"`

	// VerifyChecksum rejects inbound frames with mismatched checksums.
	VerifyChecksum bool `toml:"verify_checksum"`
}

// HTTPConfig binds the agent's REST and websocket listener.
type HTTPConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
}

// LogConfig controls agent logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Pretty switches from JSON to human-readable console output.
	Pretty bool `toml:"pretty"`
}

// DatabaseConfig locates the read journal.
type DatabaseConfig struct {
	// Path to the sqlite file. Empty disables journaling.
	Path string `toml:"path"`
}

// Config is the root of the agent configuration file.
type Config struct {
	Reader   ReaderConfig   `toml:"reader"`
	HTTP     HTTPConfig     `toml:"http"`
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
}

// Default returns the configuration a fresh install starts with: serial
// transport with USB identity discovery, a local API listener and a journal
// in the working directory.
func Default() *Config {
	return &Config{
		Reader: ReaderConfig{
			Transport: TransportSerial,
			VendorID:  "10C4",
			ProductID: "800A",
		},
		HTTP: HTTPConfig{
			ListenAddress: "127.0.0.1",
			ListenPort:    8337,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Database: DatabaseConfig{
			Path: "card_reads.db",
		},
	}
}

// Load reads the TOML file at path. If the file does not exist it is created
// with defaults and the defaults are returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeDefault(path, cfg); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Reader.Transport {
	case TransportSerial:
	case TransportTCP, TransportQUIC:
		if c.Reader.Address == "" {
			return fmt.Errorf("reader.address is required for transport %q", c.Reader.Transport)
		}
	default:
		return fmt.Errorf("unknown reader.transport %q", c.Reader.Transport)
	}
	if c.HTTP.ListenPort < 0 || c.HTTP.ListenPort > 65535 {
		return fmt.Errorf("http.listen_port %d out of range", c.HTTP.ListenPort)
	}
	return nil
}
