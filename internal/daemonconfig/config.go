// Package daemonconfig loads boltd's on-disk configuration file.
package daemonconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is boltd's top-level configuration, loaded from a YAML file. No
// command-line flag overrides its fields; boltd's only flag here is the
// path of the file itself.
type Config struct {
	// StoreDir holds the sqlite database of enrolled devices.
	StoreDir string `yaml:"store_dir"`

	// DebugListen is the address the introspection HTTP/websocket server
	// listens on, e.g. "127.0.0.1:8991". Empty disables it.
	DebugListen string `yaml:"debug_listen"`

	// LogLevel is one of logrus's level names: "debug", "info", "warn",
	// "error".
	LogLevel string `yaml:"log_level"`

	// LogFile is where logs go; empty means stderr.
	LogFile string `yaml:"log_file"`

	// UdevBufferBytes overrides the netlink monitor receive buffer size.
	// Zero means use the built-in default.
	UdevBufferBytes int `yaml:"udev_buffer_bytes"`

	// Workers is the authorization worker pool size.
	Workers int `yaml:"workers"`
}

// Default returns the configuration boltd starts from before a file is
// applied.
func Default() Config {
	return Config{
		StoreDir:    "/var/lib/boltd",
		DebugListen: "",
		LogLevel:    "info",
		LogFile:     "",
		Workers:     4,
	}
}

// Load reads and merges a YAML config file over Default(). A missing file
// is not an error: boltd runs on defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("daemonconfig: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("daemonconfig: parsing %s: %w", path, err)
	}

	return cfg, nil
}
