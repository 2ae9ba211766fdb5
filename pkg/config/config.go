// Package config loads the daemon configuration file and guards it with a
// lock file so two daemons never share one store.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/define"
)

// Config is the daemon configuration, read from a JSON file.
type Config struct {
	// Listen is "host:port" for TCP or "unix:///path/to.sock".
	Listen string `json:"listen"`

	// StorePath points at the host/credential store file.
	StorePath string `json:"store_path"`

	// EncryptionKey is the passphrase credential blobs are sealed with.
	EncryptionKey string `json:"encryption_key"`

	// APIToken is the caller token accepted by the HTTP surface.
	APIToken string `json:"api_token"`

	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty"`
	IdleTimeoutSeconds    int `json:"idle_timeout_seconds,omitempty"`

	path string
	lock *flock.Flock
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}

	cfg := &Config{path: path}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}

	if cfg.Listen == "" {
		cfg.Listen = define.DefaultListenAddr
	}
	if cfg.EncryptionKey == "" {
		return nil, errors.New("config: encryption_key must be set")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("config: api_token must be set")
	}

	return cfg, nil
}

// ConnectTimeout returns the configured connect window, or the default.
func (c *Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds > 0 {
		return time.Duration(c.ConnectTimeoutSeconds) * time.Second
	}
	return define.DefaultConnectTimeout
}

// IdleTimeout returns the configured terminal idle window, or the default.
func (c *Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutSeconds > 0 {
		return time.Duration(c.IdleTimeoutSeconds) * time.Second
	}
	return define.DefaultIdleTimeout
}

// Lock takes an exclusive lock next to the config file. It fails immediately
// when another daemon already holds it.
func (c *Config) Lock() error {
	c.lock = flock.New(c.path + define.LockSuffix)

	locked, err := c.lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock %q", c.lock.Path())
	}
	if !locked {
		return errors.Errorf("another instance holds %q", c.lock.Path())
	}

	logrus.Debugf("acquired config lock %q", c.lock.Path())
	return nil
}

// Unlock releases the config lock, if held.
func (c *Config) Unlock() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Unlock(); err != nil {
		logrus.Warnf("failed to release config lock: %v", err)
	}
}
