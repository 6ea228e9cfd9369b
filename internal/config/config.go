package config

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/x-stp/substream/internal/certlib"
	"github.com/x-stp/substream/internal/export"
	"github.com/x-stp/substream/internal/ledger"
	"github.com/x-stp/substream/internal/logging"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, badger, memory
	Path   string `yaml:"path"`
}

// ExportConfig controls dump mode.
type ExportConfig struct {
	Path     string `yaml:"path"`
	Format   string `yaml:"format"` // txt, csv
	Compress bool   `yaml:"compress"`
	LF       bool   `yaml:"lf"` // "\n" line endings instead of "\r\n"
}

// FeedConfig holds the certstream subscription settings.
type FeedConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	UserAgent    string        `yaml:"user_agent,omitempty"`
}

// NoiseConfig extends the built-in ignore table. The defaults always apply.
type NoiseConfig struct {
	Literals []string `yaml:"literals,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`
}

// Config is the complete runtime configuration.
type Config struct {
	Store   StoreConfig    `yaml:"store"`
	Export  ExportConfig   `yaml:"export"`
	Feed    FeedConfig     `yaml:"feed"`
	Noise   NoiseConfig    `yaml:"noise"`
	Filter  []string       `yaml:"filter,omitempty"`
	Logging logging.Config `yaml:"logging"`

	// Workers is the scheduler size. 0 observes inline on the feed goroutine.
	Workers int  `yaml:"workers"`
	PinCPUs bool `yaml:"pin_cpus"`
	// DropWhenBusy sheds observations when a worker queue is full instead of pausing the feed.
	DropWhenBusy bool `yaml:"drop_when_busy"`

	MetricsAddr   string        `yaml:"metrics_addr,omitempty"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	NoBanner      bool          `yaml:"no_banner"`
}

// Default returns the configuration used when no file and no flags are given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: ledger.DriverSQLite,
			Path:   "subdomains.db",
		},
		Export: ExportConfig{
			Path:   export.DefaultPath,
			Format: export.FormatTxt,
		},
		Feed: FeedConfig{
			URL:          certlib.DefaultFeedURL,
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
			ReconnectMin: 1 * time.Second,
			ReconnectMax: 60 * time.Second,
		},
		Logging: logging.Config{
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Workers:       runtime.NumCPU(),
		StatsInterval: 0,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
// The result is not validated: callers apply flag overrides first, then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that would otherwise fail later, after ingestion started.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case ledger.DriverSQLite, ledger.DriverBadger, ledger.DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Export.Format {
	case export.FormatTxt, export.FormatCSV:
	default:
		return fmt.Errorf("%w: unknown export format %q", ErrInvalidConfig, c.Export.Format)
	}
	if c.Export.Path == "" {
		return fmt.Errorf("%w: export path is empty", ErrInvalidConfig)
	}

	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}

	u, err := url.Parse(c.Feed.URL)
	if err != nil {
		return fmt.Errorf("%w: feed url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: feed url must be ws:// or wss://, got %q", ErrInvalidConfig, c.Feed.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: feed url %q has no host", ErrInvalidConfig, c.Feed.URL)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"feed.ping_interval", c.Feed.PingInterval},
		{"feed.read_timeout", c.Feed.ReadTimeout},
		{"feed.reconnect_min", c.Feed.ReconnectMin},
		{"feed.reconnect_max", c.Feed.ReconnectMax},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, d.name, d.d)
		}
	}
	if c.Feed.ReconnectMax < c.Feed.ReconnectMin {
		return fmt.Errorf("%w: feed.reconnect_max (%s) is below feed.reconnect_min (%s)",
			ErrInvalidConfig, c.Feed.ReconnectMax, c.Feed.ReconnectMin)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("%w: stats_interval must be >= 0", ErrInvalidConfig)
	}
	return nil
}
