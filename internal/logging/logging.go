/*
Package logging configures the process-wide standard logger: stderr, plus an
optional size-rotated file through lumberjack, plus a debug switch.

Notices about labels go to stdout through the core notifier and never pass
through here, so stdout stays a clean wordlist stream.
*/
package logging

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
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration
type Config struct {
	File       string `yaml:"file"`        // log file path (optional)
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of old log files to keep
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // gzip rotated files
	Debug      bool   `yaml:"debug"`
	// Quiet drops the stderr copy; only meaningful together with File.
	Quiet bool `yaml:"quiet"`
}

var (
	mu      sync.Mutex
	file    io.WriteCloser
	debugOn atomic.Bool
)

// Initialize points the standard logger at stderr and, if configured, a rotating file.
// It may be called again to reconfigure; the previous file is closed.
func Initialize(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}

	var writers []io.Writer
	if !cfg.Quiet || cfg.File == "" {
		writers = append(writers, os.Stderr)
	}
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize == 0 {
			maxSize = 100
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		file = rotator
		writers = append(writers, rotator)
	}

	if len(writers) == 1 {
		log.SetOutput(writers[0])
	} else {
		log.SetOutput(io.MultiWriter(writers...))
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	debugOn.Store(cfg.Debug)
	return nil
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) {
	debugOn.Store(on)
}

// DebugEnabled reports whether Debugf writes anything. Callers use it to skip building expensive arguments.
func DebugEnabled() bool {
	return debugOn.Load()
}

// Debugf logs through the standard logger when debug is on.
func Debugf(format string, args ...interface{}) {
	if !debugOn.Load() {
		return
	}
	log.Printf("DEBUG "+format, args...)
}

// Close flushes and closes the log file, if any, and restores stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(os.Stderr)
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
