// Package scheduler provides worker management for the feed daemon.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/prometheus/client_golang/prometheus"
)

// Pool is a struct that holds the feed worker management logic.
//
// One worker per enabled feed type drives that feed's regeneration on its
// configured interval. Workers are started and stopped as the feed
// definitions file changes.
type Pool struct {
	cm  dConfigManager
	reg dRegistry
	pub dPublisher

	mu       sync.Mutex
	workers  map[feed.Type]context.CancelFunc
	workerWG sync.WaitGroup

	metricsMu     sync.Mutex
	activeWorkers prometheus.Gauge
	feedRuns      *prometheus.CounterVec
	feedRows      *prometheus.CounterVec
}

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	EnabledTypes() []feed.Type
	IsEnabled(feed.Type) bool
}

type dRegistry interface {
	Feed(feed.Type) (*feed.Orchestrator, error)
}

// dPublisher delivers a published feed file to the commerce platform.
type dPublisher interface {
	UploadFeed(ctx context.Context, streamName, path string) error
}

type options struct {
	publisher dPublisher
}

// Options represents an optional function to override Pool default values.
type Options func(*options)

// WithPublisher makes the pool upload each feed after a completed run.
func WithPublisher(p dPublisher) Options {
	return func(o *options) {
		o.publisher = p
	}
}

// New creates a new worker pool instance with the provided config manager, feed registry, and Prometheus registerer.
func New(cm dConfigManager, reg dRegistry, promReg prometheus.Registerer, args ...Options) (*Pool, error) {
	var opts options
	for _, opt := range args {
		opt(&opts)
	}

	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedbridge_active_workers",
		Help: "Number of active feed workers in the daemon.",
	})
	if err := promReg.Register(activeWorkers); err != nil {
		return nil, fmt.Errorf("failed to register active workers gauge: %v", err)
	}

	feedRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbridge_feed_runs_total",
		Help: "Number of feed generation runs, by feed type and outcome.",
	}, []string{"feed", "outcome"})
	if err := promReg.Register(feedRuns); err != nil {
		return nil, fmt.Errorf("failed to register feed runs counter: %v", err)
	}

	feedRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbridge_feed_rows_total",
		Help: "Number of rows written to completed feeds, by feed type.",
	}, []string{"feed"})
	if err := promReg.Register(feedRows); err != nil {
		return nil, fmt.Errorf("failed to register feed rows counter: %v", err)
	}

	return &Pool{
		cm:            cm,
		reg:           reg,
		pub:           opts.publisher,
		workers:       make(map[feed.Type]context.CancelFunc),
		activeWorkers: activeWorkers,
		feedRuns:      feedRuns,
		feedRows:      feedRows,
	}, nil
}

// Run orchestrates and manages the pool of feed workers.
//
// It watches the feed definitions file and keeps one worker per enabled feed
// type, each regenerating its feed on the configured interval.
//
// This is blocking until an error occurs or the context is canceled and all workers are done.
//
// Always returns a non-nil error, which is either a context error or a watcher error.
func (m *Pool) Run(ctx context.Context) error {
	slog.Info("Feed daemon started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := m.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	// Initial sync
	m.syncWorkers(ctx)

	// Debounce timer for handling bursts of events
	debounceDuration := 5 * time.Second
	debounceTimer := time.NewTimer(debounceDuration)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping feed worker pool")
			m.workerWG.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				// The watcher closes its channels on cancellation too.
				if ctx.Err() != nil {
					m.workerWG.Wait()
					return ctx.Err()
				}
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDuration)

		case <-debounceTimer.C:
			// Timer expired, perform the resync
			slog.Info("Resyncing feed workers after definitions change")
			m.syncWorkers(ctx)
			slog.Debug("Completed resyncing feed workers")

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				if ctx.Err() != nil {
					m.workerWG.Wait()
					return ctx.Err()
				}
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Feed definitions watcher error", "err", err)
			}
		}
	}
}

// syncWorkers diffs the enabled feed types and starts/stops goroutines.
func (m *Pool) syncWorkers(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// stop removed
	for t, cancel := range m.workers {
		if !m.cm.IsEnabled(t) {
			cancel()
			delete(m.workers, t)
		}
	}
	// start added
	for _, t := range m.cm.EnabledTypes() {
		if _, ok := m.workers[t]; ok {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping feed worker sync")
			return // normal shutdown
		default:
		}

		o, err := m.reg.Feed(t)
		if err != nil {
			slog.Error("Failed to resolve feed, skipping worker", "feed", t, "err", err)
			continue
		}

		feedCtx, cancel := context.WithCancel(ctx)
		m.workers[t] = cancel
		slog.Info("Starting feed worker", "feed", t, "interval", o.Interval())
		m.workerWG.Add(1)
		go m.feedWorker(feedCtx, o)
	}
}

// feedWorker regenerates a single feed on its interval until ctx is canceled.
func (m *Pool) feedWorker(ctx context.Context, o *feed.Orchestrator) {
	defer m.workerWG.Done()

	m.metricsMu.Lock()
	m.activeWorkers.Inc()
	m.metricsMu.Unlock()

	defer func() {
		m.metricsMu.Lock()
		m.activeWorkers.Dec()
		m.metricsMu.Unlock()
	}()

	baseBackoff := 5 * time.Second
	maxBackoff := 30 * time.Second
	backoff := baseBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		o.RegenerateFeed()
		err := o.Run(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			slog.Debug("Feed worker context canceled", "feed", o.Type())
			return // normal shutdown
		}
		if err != nil {
			m.feedRuns.WithLabelValues(string(o.Type()), "failed").Inc()

			// #nosec:G404 We don't need cryptographic randomness.
			sleep := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				slog.Debug("Feed worker context canceled", "feed", o.Type())
				return // normal shutdown
			}

			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = baseBackoff
		m.feedRuns.WithLabelValues(string(o.Type()), "complete").Inc()
		m.feedRows.WithLabelValues(string(o.Type())).Add(float64(o.Progress().RowsWritten))
		m.publish(ctx, o)

		select {
		case <-time.After(o.Interval()):
		case <-ctx.Done():
			slog.Debug("Feed worker context canceled", "feed", o.Type())
			return // normal shutdown
		}
	}
}

// publish uploads the freshly published feed file, when a publisher is configured.
func (m *Pool) publish(ctx context.Context, o *feed.Orchestrator) {
	if m.pub == nil {
		return
	}

	stream := o.Descriptor().StreamName()
	if err := m.pub.UploadFeed(ctx, stream, o.PublishedPath()); err != nil {
		slog.Warn("Failed to upload feed", "feed", o.Type(), "stream", stream, "err", err)
		return
	}
	slog.Info("Feed uploaded", "feed", o.Type(), "stream", stream)
}
