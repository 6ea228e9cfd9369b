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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Export.Path != "names.txt" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "substream.yaml")
	data := `
store:
  driver: badger
  path: /var/lib/substream
feed:
  reconnect_max: 2m
noise:
  literals: [staging]
  patterns: ['^k8s-']
filter:
  - example.com
workers: 4
logging:
  file: /tmp/substream.log
  debug: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "badger" || cfg.Store.Path != "/var/lib/substream" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Feed.ReconnectMax != 2*time.Minute {
		t.Errorf("reconnect_max = %s; want 2m", cfg.Feed.ReconnectMax)
	}
	if cfg.Feed.PingInterval != 30*time.Second {
		t.Errorf("ping_interval default lost: %s", cfg.Feed.PingInterval)
	}
	if cfg.Export.Format != "txt" {
		t.Errorf("export format default lost: %q", cfg.Export.Format)
	}
	if cfg.Workers != 4 || len(cfg.Filter) != 1 || len(cfg.Noise.Literals) != 1 || len(cfg.Noise.Patterns) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Logging.Debug || cfg.Logging.File != "/tmp/substream.log" || cfg.Logging.MaxBackups != 3 {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("Load(missing) should fail")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("store: [unterminated"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Errorf("Load(bad yaml) should fail")
	}

}

func TestLoadDefersValidation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("store:\n  driver: redis\n"), 0o644)
	cfg, err := Load(invalid)
	if err != nil {
		t.Fatalf("Load(invalid driver): %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate(invalid driver) = %v; want ErrInvalidConfig", err)
	}

	negative := filepath.Join(dir, "workers.yaml")
	os.WriteFile(negative, []byte("workers: -1\n"), 0o644)
	cfg, err = Load(negative)
	if err != nil {
		t.Fatalf("Load(workers: -1): %v", err)
	}
	// A flag override lands after Load and repairs the file's value.
	cfg.Workers = 2
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after override: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"Unknown format", func(c *Config) { c.Export.Format = "json" }},
		{"Empty export path", func(c *Config) { c.Export.Path = "" }},
		{"Negative workers", func(c *Config) { c.Workers = -1 }},
		{"Http feed", func(c *Config) { c.Feed.URL = "https://certstream.calidog.io/" }},
		{"Feed without host", func(c *Config) { c.Feed.URL = "wss://" }},
		{"Zero ping", func(c *Config) { c.Feed.PingInterval = 0 }},
		{"Negative reconnect", func(c *Config) { c.Feed.ReconnectMin = -time.Second }},
		{"Max below min", func(c *Config) { c.Feed.ReconnectMax = 10 * time.Millisecond }},
		{"Negative stats", func(c *Config) { c.StatsInterval = -time.Second }},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tc.mutate(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v; want ErrInvalidConfig", err)
			}
		})
	}

	c := Default()
	c.Workers = 0
	c.Feed.URL = "ws://localhost:4000/"
	if err := c.Validate(); err != nil {
		t.Fatalf("inline workers with local feed should validate: %v", err)
	}
}
