/*
Package main is the entry point for the substream command-line application.

substream subscribes to the certstream Certificate Transparency firehose and
counts the subdomain labels that appear in newly issued certificates. Over time
the counts become a popularity-ranked wordlist of real-world hostnames.

Modes:
  - no flags: ingest forever, printing "[+] label" for every new label and
    "[#] label (seen N times)" every 50 sightings of a known one.
  - -d/--dump: write the ledger, most frequent first, to names.txt and exit.
  - -f/--filter: only count names under the given root domains, storing the
    full name instead of the first label.

Configuration comes from built-in defaults, an optional YAML file (--config)
and finally command-line flags; only flags that were actually set override
the file. Graceful shutdown is handled via context cancellation triggered by
OS signals (SIGINT, SIGTERM).
*/
package main

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
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/x-stp/substream/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Flag values. They are copied onto the loaded config in applyFlags, and only when set.
var (
	configPath  string
	dump        bool
	filterRoots []string
	dbPath      string
	storeDriver string
	outputPath  string
	format      string
	compress    bool
	lf          bool
	workers     int
	pinCPUs     bool
	dropBusy    bool
	feedURL     string
	metricsAddr string
	statsEvery  time.Duration
	logFile     string
	debug       bool
	noBanner    bool
)

var rootCmd = &cobra.Command{
	Use:   "substream",
	Short: "substream - mine subdomain labels from the Certificate Transparency stream",
	Long: `substream listens to the certstream firehose and keeps a persistent count of
every subdomain label seen in newly issued certificates, skipping machine-generated
noise. Use --dump to write the collected labels, most frequent first.`,
	Example: `  substream
  substream -d
  substream -f tesco.co.uk -f tesco.com
  substream -f tesco.co.uk tesco.com harrods.com`,
	// Extra positional arguments are accepted only as further filter roots.
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 && !cmd.Flags().Changed("filter") {
			return fmt.Errorf("unexpected arguments %q (did you mean --filter?)", args)
		}
		return nil
	},
	SilenceErrors: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		filterRoots = append(filterRoots, args...)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		// Arguments are valid from here on; runtime failures should not print usage.
		cmd.SilenceUsage = true
		if dump {
			return runDump(cmd.Context(), cfg)
		}
		return runIngest(cmd.Context(), cfg, p)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("substream %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.BoolVarP(&dump, "dump", "d", false, "Dump the collected labels, most frequent first, and exit")
	flags.StringSliceVarP(&filterRoots, "filter", "f", nil, "Root domain(s) to filter for, e.g. 'tesco.co.uk' (repeatable or comma separated)")
	flags.StringVar(&dbPath, "db", "subdomains.db", "Ledger location (sqlite file or badger directory)")
	flags.StringVar(&storeDriver, "store", "sqlite", "Ledger backend: sqlite, badger or memory")
	flags.StringVarP(&outputPath, "output", "o", "names.txt", "Dump output file")
	flags.StringVar(&format, "format", "txt", "Dump format: txt or csv")
	flags.BoolVar(&compress, "compress", false, "Gzip the dump output")
	flags.BoolVar(&lf, "lf", false, "End dump lines with \\n instead of \\r\\n")
	flags.IntVar(&workers, "workers", runtime.NumCPU(), "Ledger worker goroutines (0 observes inline, in feed order)")
	flags.BoolVar(&pinCPUs, "pin-cpus", false, "Pin each worker to a CPU (Linux only)")
	flags.BoolVar(&dropBusy, "drop-when-busy", false, "Drop observations when a worker queue is full instead of pausing the feed")
	flags.StringVar(&feedURL, "feed-url", "wss://certstream.calidog.io/", "certstream websocket URL")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. ':9090' (disabled when empty)")
	flags.DurationVar(&statsEvery, "stats", 0, "Log pipeline statistics at this interval (0 disables)")
	flags.StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&noBanner, "no-banner", false, "Do not print the startup banner")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig layers the YAML file over the defaults and the explicitly set flags over both.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("filter") || len(filterRoots) > 0 {
		cfg.Filter = filterRoots
	}
	if set("db") {
		cfg.Store.Path = dbPath
	}
	if set("store") {
		cfg.Store.Driver = storeDriver
	}
	if set("output") {
		cfg.Export.Path = outputPath
	}
	if set("format") {
		cfg.Export.Format = format
	}
	if set("compress") {
		cfg.Export.Compress = compress
	}
	if set("lf") {
		cfg.Export.LF = lf
	}
	if set("workers") {
		cfg.Workers = workers
	}
	if set("pin-cpus") {
		cfg.PinCPUs = pinCPUs
	}
	if set("drop-when-busy") {
		cfg.DropWhenBusy = dropBusy
	}
	if set("feed-url") {
		cfg.Feed.URL = feedURL
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if set("stats") {
		cfg.StatsInterval = statsEvery
	}
	if set("log-file") {
		cfg.Logging.File = logFile
	}
	if set("debug") {
		cfg.Logging.Debug = debug
	}
	if set("no-banner") {
		cfg.NoBanner = noBanner
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
