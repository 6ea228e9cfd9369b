package core

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
	"fmt"
	"log"
	"time"

	"github.com/x-stp/substream/internal/certlib"
	"github.com/x-stp/substream/internal/ledger"
	"github.com/x-stp/substream/internal/logging"
	"github.com/x-stp/substream/internal/metrics"
	"github.com/x-stp/substream/internal/noise"
	"github.com/x-stp/substream/internal/subdomain"

	"github.com/prometheus/client_golang/prometheus"
)

// Name outcomes, used for the substream_names_total metric.
const (
	outcomeExcluded   = "excluded"
	outcomeSplitError = "split_error"
	outcomeNoise      = "noise"
	outcomeObserved   = "observed"
	outcomeLedgerErr  = "ledger_error"
	outcomeDropped    = "dropped"
	outcomeBusy       = "busy"
)

// DispatcherConfig wires the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Decomposer *subdomain.Decomposer
	Classifier *noise.Classifier
	Ledger     ledger.Ledger
	// Notifier defaults to a ConsoleNotifier on stdout.
	Notifier Notifier
	// Scheduler is optional. Without one, names are observed inline, in feed order.
	Scheduler *Scheduler
	// StoreName labels ledger metrics ("sqlite", "badger", ...).
	StoreName string
	// DropWhenBusy makes a full worker queue drop the observation instead of
	// blocking the feed until the queue has room.
	DropWhenBusy bool
}

// Dispatcher consumes feed messages and drives each certificate name through
// decomposition, noise classification and the ledger.
//
// A failure on one name never stops the remaining names of the same certificate,
// and never propagates to the feed.
type Dispatcher struct {
	decomposer *subdomain.Decomposer
	classifier *noise.Classifier
	ledger     ledger.Ledger
	notifier   Notifier
	scheduler  *Scheduler
	storeName  string
	dropBusy   bool
	stats      *DispatcherStats
	metrics    *metrics.Metrics
}

// NewDispatcher validates cfg and returns a ready Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	switch {
	case cfg.Decomposer == nil:
		return nil, fmt.Errorf("decomposer: %w", ErrNilCollaborator)
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("classifier: %w", ErrNilCollaborator)
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger: %w", ErrNilCollaborator)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewConsoleNotifier(nil)
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "unknown"
	}
	return &Dispatcher{
		decomposer: cfg.Decomposer,
		classifier: cfg.Classifier,
		ledger:     cfg.Ledger,
		notifier:   cfg.Notifier,
		scheduler:  cfg.Scheduler,
		storeName:  cfg.StoreName,
		dropBusy:   cfg.DropWhenBusy,
		stats:      &DispatcherStats{StartTime: time.Now()},
		metrics:    metrics.GetMetrics(),
	}, nil
}

// Stats returns the live counters.
func (d *Dispatcher) Stats() *DispatcherStats {
	return d.stats
}

// Handle processes one feed message. Heartbeats and unknown message types are
// counted and otherwise ignored.
func (d *Dispatcher) Handle(ctx context.Context, msg *certlib.Message) {
	if msg == nil {
		return
	}
	d.stats.Events.Add(1)

	switch {
	case msg.IsHeartbeat():
		d.stats.Heartbeats.Add(1)
		d.metrics.IncEvent(certlib.MessageHeartbeat)
		return
	case msg.IsCertificateUpdate():
		d.stats.Updates.Add(1)
		d.metrics.IncEvent(certlib.MessageCertificateUpdate)
	default:
		d.stats.Other.Add(1)
		d.metrics.IncEvent("other")
		return
	}

	if logging.DebugEnabled() {
		logging.Debugf("certificate %s from %s: %d names", msg.Data.Chain(), msg.Data.Source.Name, len(msg.Data.LeafCert.AllDomains))
	}
	for _, name := range msg.Domains() {
		d.handleName(ctx, name)
	}
}

func (d *Dispatcher) handleName(ctx context.Context, name string) {
	d.stats.Names.Add(1)

	res, err := d.decomposer.Decompose(name)
	if err != nil {
		d.stats.SplitErrors.Add(1)
		d.metrics.IncName(outcomeSplitError)
		logging.Debugf("skip %q: %v", name, err)
		return
	}
	if !res.Include {
		d.stats.Excluded.Add(1)
		d.metrics.IncName(outcomeExcluded)
		return
	}
	if rule, noisy := d.classifier.Match(res.Label); noisy {
		d.stats.Noise.Add(1)
		d.metrics.IncName(outcomeNoise)
		d.metrics.IncNoise(rule.String())
		return
	}

	if d.scheduler == nil {
		d.observe(ctx, res.Label)
		return
	}

	label := res.Label
	cb := func(item *WorkItem) error {
		d.observe(item.Ctx, label)
		return nil
	}
	if d.dropBusy {
		err = d.scheduler.TrySubmit(ctx, label, cb)
	} else {
		err = d.scheduler.SubmitWork(ctx, label, cb)
	}
	if err == nil {
		return
	}
	d.stats.Dropped.Add(1)
	if IsRetryable(err) {
		// Queue full: the scheduler is alive, this observation is simply shed.
		d.stats.Busy.Add(1)
		d.metrics.IncName(outcomeBusy)
	} else {
		d.metrics.IncName(outcomeDropped)
	}
	logging.Debugf("dropped %q: %v", label, err)
}

// observe counts label and emits notices. Once started, an observation is not
// cancelled by ctx so that shutdown lets it complete.
func (d *Dispatcher) observe(ctx context.Context, label string) {
	done := metrics.MeasureDuration(d.metrics.LedgerObserveLatency, prometheus.Labels{"store": d.storeName})
	obs, err := d.ledger.Observe(context.WithoutCancel(ctx), label)
	done()
	if err != nil {
		d.stats.LedgerErrors.Add(1)
		d.metrics.IncName(outcomeLedgerErr)
		d.metrics.IncLedgerError(d.storeName)
		log.Printf("Failed to record label %q: %v", label, err)
		return
	}

	d.stats.Observed.Add(1)
	d.metrics.IncName(outcomeObserved)

	if obs.IsNew {
		d.stats.NewLabels.Add(1)
		d.metrics.IncNewLabel()
		d.notifier.NewLabel(label)
		return
	}
	if obs.Count%MilestoneInterval == 0 {
		d.stats.Milestones.Add(1)
		d.metrics.IncMilestone()
		d.notifier.Milestone(label, obs.Count)
	}
}
