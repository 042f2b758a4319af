package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/feedbridge/feedbridge/internal/fileutils"
	"github.com/google/uuid"
)

// Status is the state of a feed's generation job.
type Status string

// Generation job states. A failed run never permanently blocks future
// attempts: the next trigger starts a fresh run from batch 1.
const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Job is the resumable state of one feed's in-progress build. The batch
// number only increases; it is reset to 1 when a new run starts.
type Job struct {
	FeedType    Type      `json:"feed_type"`
	RunID       string    `json:"run_id"`
	BatchNumber int       `json:"batch_number"`
	RowsWritten int       `json:"rows_written"`
	RowsSkipped int       `json:"rows_skipped"`
	Status      Status    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Source yields the records of one feed type, queried by batch number.
// Calling it twice with the same batch number before any state change must
// return the same records. Sources without native pagination return
// everything on batch 1 and nothing thereafter.
type Source interface {
	ItemsForBatch(ctx context.Context, batch int, size BatchSize) ([]Record, error)
}

type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time {
	return time.Now()
}

// Generator produces the full feed for one feed type across one or more
// bounded invocations. Each invocation processes at most one batch so that it
// completes within a single scheduler tick.
type Generator struct {
	desc      Descriptor
	source    Source
	mapper    RowMapper
	batchSize BatchSize

	newWriter     func() *Writer
	publishedPath string
	progressPath  string
	timeProvider  timeProvider

	mu       sync.Mutex
	job      Job
	writer   *Writer
	inFlight bool
}

type generatorOptions struct {
	timeProvider timeProvider
}

// GeneratorOptions represents an optional function to override Generator default values.
type GeneratorOptions func(*generatorOptions)

// NewGenerator returns a generator for the feed described by desc, pulling
// records from source and publishing into outputDir.
func NewGenerator(desc Descriptor, source Source, mapper RowMapper, batchSize BatchSize, outputDir string, args ...GeneratorOptions) (*Generator, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if mapper == nil {
		return nil, errors.New("row mapper cannot be nil")
	}

	opts := generatorOptions{
		timeProvider: realTimeProvider{},
	}
	for _, opt := range args {
		opt(&opts)
	}

	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create feed output directory: %v", err)
	}

	g := &Generator{
		desc:         desc,
		source:       source,
		mapper:       mapper,
		batchSize:    batchSize,
		newWriter:     func() *Writer { return NewWriter(desc, outputDir) },
		publishedPath: desc.PublishedPath(outputDir),
		progressPath:  desc.ProgressPath(outputDir),
		timeProvider:  opts.timeProvider,
		job: Job{
			FeedType: desc.Type(),
			Status:   StatusIdle,
		},
	}
	return g, nil
}

// Start begins a new generation run at batch 1.
//
// It reports whether a run was started: a feed already running keeps its
// in-progress job untouched and Start is a no-op, so concurrent triggers
// cannot corrupt the working file.
func (g *Generator) Start() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.job.Status == StatusRunning {
		slog.Info("Feed generation already running, ignoring trigger", "feed", g.desc.Type())
		return false
	}

	if g.writer != nil {
		g.writer.Discard()
		g.writer = nil
	}

	g.job = Job{
		FeedType:    g.desc.Type(),
		RunID:       uuid.NewString(),
		BatchNumber: 1,
		Status:      StatusRunning,
	}
	g.persistProgressLocked()
	slog.Info("Feed generation started", "feed", g.desc.Type(), "run", g.job.RunID)
	return true
}

// RunBatch processes at most one batch and returns.
//
// It pulls up to one batch of records from the source, maps them to rows,
// appends them to the working file and advances the batch number. An empty
// batch finalizes the feed and marks the job complete. RunBatch is a no-op
// when no run is in progress or another invocation is still in flight.
func (g *Generator) RunBatch(ctx context.Context) error {
	g.mu.Lock()
	if g.job.Status != StatusRunning {
		slog.Debug("No feed generation in progress, skipping batch", "feed", g.desc.Type(), "status", g.job.Status)
		g.mu.Unlock()
		return nil
	}
	if g.inFlight {
		slog.Warn("Feed batch already in flight, skipping invocation", "feed", g.desc.Type(), "batch", g.job.BatchNumber)
		g.mu.Unlock()
		return nil
	}
	g.inFlight = true
	runID := g.job.RunID
	batch := g.job.BatchNumber

	if g.writer == nil {
		w := g.newWriter()
		if err := w.Open(); err != nil {
			g.failLocked(fmt.Errorf("failed to open working file: %w", err))
			g.inFlight = false
			g.mu.Unlock()
			return err
		}
		g.writer = w
	}
	g.mu.Unlock()

	// The source pull happens without the lock so that Reset stays responsive.
	records, err := g.source.ItemsForBatch(ctx, batch, g.batchSize)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false

	if g.job.RunID != runID || g.job.Status != StatusRunning {
		// The run was reset or superseded while the batch was in flight.
		slog.Info("Stale feed batch discarded", "feed", g.desc.Type(), "run", runID, "batch", batch)
		return nil
	}

	if err != nil {
		err = fmt.Errorf("failed to pull batch %d: %w", batch, err)
		g.failLocked(err)
		return err
	}

	if len(records) == 0 {
		return g.completeLocked()
	}

	rows := make([]Row, 0, len(records))
	skipped := 0
	for _, record := range records {
		row, err := g.mapper(record)
		if err != nil {
			// Soft failure: skip this record, the batch continues.
			slog.Warn("Skipping record that failed row mapping", "feed", g.desc.Type(), "batch", batch, "error", err)
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if err := g.writer.AppendRows(rows); err != nil {
		err = fmt.Errorf("failed to write batch %d: %w", batch, err)
		g.failLocked(err)
		return err
	}

	g.job.BatchNumber++
	g.job.RowsWritten += len(rows)
	g.job.RowsSkipped += skipped
	g.persistProgressLocked()

	slog.Debug("Feed batch written", "feed", g.desc.Type(), "batch", batch, "rows", len(rows), "skipped", skipped)
	return nil
}

// Run drives batches until the job leaves the running state.
func (g *Generator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := g.RunBatch(ctx); err != nil {
			return err
		}
		if job := g.Progress(); job.Status != StatusRunning {
			return nil
		}
	}
}

// Reset cancels any in-progress run and returns the job to idle. An in-flight
// batch detects the reset and discards its results instead of writing.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.writer != nil {
		g.writer.Discard()
		g.writer = nil
	}
	g.job = Job{
		FeedType: g.desc.Type(),
		Status:   StatusIdle,
	}
	g.persistProgressLocked()
	slog.Info("Feed generation reset", "feed", g.desc.Type())
}

// PublishedPath returns the path the feed file is published at once a run
// completes. The file only exists after the first successful run.
func (g *Generator) PublishedPath() string {
	return g.publishedPath
}

// Progress returns a snapshot of the current generation job.
func (g *Generator) Progress() Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.job
}

// completeLocked finalizes the working file and marks the job complete.
// g.mu must be held.
func (g *Generator) completeLocked() error {
	published, err := g.writer.Finalize()
	g.writer = nil
	if err != nil {
		// Finalize failures are terminal for this run: the working file's
		// validity is unknown, the next trigger starts over from batch 1.
		err = fmt.Errorf("failed to finalize feed: %w", err)
		g.failLocked(err)
		return err
	}

	g.job.Status = StatusComplete
	g.job.LastError = ""
	g.persistProgressLocked()
	slog.Info("Feed generation complete", "feed", g.desc.Type(), "file", published, "rows", g.job.RowsWritten, "skipped", g.job.RowsSkipped)
	return nil
}

// failLocked marks the job failed and discards the working file, leaving the
// previously published feed untouched. g.mu must be held.
func (g *Generator) failLocked(err error) {
	if g.writer != nil {
		g.writer.Discard()
		g.writer = nil
	}
	g.job.Status = StatusFailed
	g.job.LastError = err.Error()
	g.persistProgressLocked()
	slog.Error("Feed generation failed", "feed", g.desc.Type(), "batch", g.job.BatchNumber, "error", err)
}

// persistProgressLocked writes the job snapshot for the status command.
// Snapshot write failures are logged, never fatal. g.mu must be held.
func (g *Generator) persistProgressLocked() {
	g.job.UpdatedAt = g.timeProvider.Now()
	if err := fileutils.WriteJSON(g.progressPath, g.job); err != nil {
		slog.Warn("Failed to persist feed progress", "feed", g.desc.Type(), "error", err)
	}
}
