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
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/x-stp/substream/internal/certstream"
	"github.com/x-stp/substream/internal/client"
	"github.com/x-stp/substream/internal/config"
	"github.com/x-stp/substream/internal/core"
	"github.com/x-stp/substream/internal/export"
	"github.com/x-stp/substream/internal/ledger"
	"github.com/x-stp/substream/internal/logging"
	"github.com/x-stp/substream/internal/metrics"
	"github.com/x-stp/substream/internal/noise"
	"github.com/x-stp/substream/internal/subdomain"
)

const drainTimeout = 10 * time.Second

// pipeline holds the stateless, startup-validated parts of ingestion.
type pipeline struct {
	decomposer *subdomain.Decomposer
	classifier *noise.Classifier
}

// newPipeline builds the filter and the noise table. Errors here are invocation errors.
func newPipeline(cfg *config.Config) (*pipeline, error) {
	filter, err := subdomain.NewFilter(cfg.Filter...)
	if err != nil {
		return nil, err
	}
	classifier, err := noise.New(noise.WithExtra(noise.DefaultRules(), cfg.Noise.Literals, cfg.Noise.Patterns))
	if err != nil {
		return nil, err
	}
	return &pipeline{
		decomposer: subdomain.NewDecomposer(nil, filter),
		classifier: classifier,
	}, nil
}

// runDump writes the ledger and returns. An empty ledger is not an error.
func runDump(ctx context.Context, cfg *config.Config) error {
	if err := logging.Initialize(&cfg.Logging); err != nil {
		return err
	}
	defer logging.Close()

	l, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	defer l.Close()

	res, err := export.Write(ctx, l, export.Options{
		Path:     cfg.Export.Path,
		Format:   cfg.Export.Format,
		Compress: cfg.Export.Compress,
		LF:       cfg.Export.LF,
	})
	if errors.Is(err, export.ErrEmptyLedger) {
		log.Printf("Nothing to dump: %s has no labels yet", cfg.Store.Path)
		return nil
	}
	if err != nil {
		return err
	}
	logging.Debugf("dumped %d labels (%d bytes)", res.Written, res.Bytes)
	fmt.Printf("%s has been written\n", res.Path)
	return nil
}

// runIngest subscribes to the feed and counts labels until SIGINT/SIGTERM.
func runIngest(parent context.Context, cfg *config.Config, p *pipeline) error {
	if err := logging.Initialize(&cfg.Logging); err != nil {
		return err
	}
	defer logging.Close()

	if !cfg.NoBanner {
		printBanner(cfg, p)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, initiating shutdown...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.MetricsAddr != "" {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(cfg.MetricsAddr); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			metrics.ShutdownMetricsServer(shutdownCtx)
		}()
	}

	l, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Printf("Error closing ledger: %v", err)
		}
	}()

	var scheduler *core.Scheduler
	if cfg.Workers > 0 {
		scheduler, err = core.NewScheduler(ctx, core.SchedulerConfig{Workers: cfg.Workers, PinCPUs: cfg.PinCPUs})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	dispatcher, err := core.NewDispatcher(core.DispatcherConfig{
		Decomposer:   p.decomposer,
		Classifier:   p.classifier,
		Ledger:       l,
		Scheduler:    scheduler,
		StoreName:    cfg.Store.Driver,
		DropWhenBusy: cfg.DropWhenBusy,
	})
	if err != nil {
		if scheduler != nil {
			scheduler.Shutdown()
		}
		return err
	}

	var wg sync.WaitGroup
	if cfg.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			core.ReportStats(ctx, dispatcher.Stats(), scheduler, cfg.StatsInterval)
		}()
	}

	dialer := client.DefaultDialerConfig()
	if cfg.Feed.UserAgent != "" {
		dialer.UserAgent = cfg.Feed.UserAgent
	}
	stream := certstream.New(certstream.Config{
		URL:          cfg.Feed.URL,
		PingInterval: cfg.Feed.PingInterval,
		ReadTimeout:  cfg.Feed.ReadTimeout,
		ReconnectMin: cfg.Feed.ReconnectMin,
		ReconnectMax: cfg.Feed.ReconnectMax,
		Dialer:       dialer,
	}, dispatcher)

	runErr := stream.Run(ctx)
	cancel()

	// The feed is stopped; let queued observations reach the ledger before it closes.
	if scheduler != nil {
		drainCtx, stop := context.WithTimeout(context.Background(), drainTimeout)
		if err := scheduler.Drain(drainCtx); err != nil {
			log.Printf("Some queued observations were dropped: %v", err)
		}
		stop()
	}
	wg.Wait()

	st := stream.Stats()
	log.Printf("Final stats: %s messages=%d malformed=%d reconnects=%d",
		dispatcher.Stats().Snapshot(), st.Messages, st.Malformed, st.Reconnects)
	if scheduler != nil {
		log.Printf("Final worker stats: %s", core.SummarizeWorkers(scheduler.Stats()))
	}
	if n, err := l.Len(context.Background()); err == nil {
		log.Printf("Ledger holds %d distinct labels", n)
	}
	return runErr
}

func printBanner(cfg *config.Config, p *pipeline) {
	fmt.Fprintf(os.Stderr, `
  substream %s
  certificate transparency subdomain miner

`, version)
	mode := "all domains"
	if f := p.decomposer.Filter(); f.Active() {
		mode = fmt.Sprintf("filtered to %v", f.Roots())
	}
	fmt.Fprintf(os.Stderr, "  feed:   %s\n  ledger: %s (%s)\n  mode:   %s\n\n",
		cfg.Feed.URL, cfg.Store.Path, cfg.Store.Driver, mode)
}
