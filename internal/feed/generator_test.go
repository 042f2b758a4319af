package feed_test

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/feedbridge/feedbridge/internal/fileutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchedSource serves predefined batches keyed by batch number and records
// every pull it receives.
type batchedSource struct {
	mu      sync.Mutex
	batches map[int][]feed.Record
	pulls   []int
	err     error

	// entered, when set, is signaled once a pull is in flight.
	entered chan struct{}
	// block, when set, is received from before every pull returns.
	block chan struct{}
}

func (s *batchedSource) ItemsForBatch(ctx context.Context, batch int, size feed.BatchSize) ([]feed.Record, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls = append(s.pulls, batch)
	if s.err != nil {
		return nil, s.err
	}
	return s.batches[batch], nil
}

func (s *batchedSource) pulledBatches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pulls...)
}

func identityMapper(r feed.Record) (feed.Row, error) {
	row := make(feed.Row, len(r))
	for k, v := range r {
		row[k] = fmt.Sprint(v)
	}
	return row, nil
}

func newTestGenerator(t *testing.T, src feed.Source, mapper feed.RowMapper) (*feed.Generator, feed.Descriptor, string) {
	t.Helper()

	dir := t.TempDir()
	desc := productsDescriptor(t, ',')
	size, err := feed.FixedSize(10)
	require.NoError(t, err, "Setup: FixedSize should not return an error")

	g, err := feed.NewGenerator(desc, src, mapper, size, dir, feed.WithTimeProvider(feed.MockTimeProvider{CurrentTime: 10}))
	require.NoError(t, err, "Setup: NewGenerator should not return an error")
	return g, desc, dir
}

func readPublished(t *testing.T, desc feed.Descriptor, dir string) [][]string {
	t.Helper()

	f, err := os.Open(desc.PublishedPath(dir))
	require.NoError(t, err, "Open published file should not return an error")
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = desc.Delimiter()
	lines, err := r.ReadAll()
	require.NoError(t, err, "Published file should parse as delimited text")
	return lines
}

func TestGeneratorCompletesOnEmptyBatch(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{
		1: {{"id": 1, "title": "Mug", "price": "9.99"}, {"id": 2, "title": "Shirt", "price": "19.99"}},
	}}
	g, desc, dir := newTestGenerator(t, src, identityMapper)

	require.True(t, g.Start(), "Start should begin a run")
	require.NoError(t, g.Run(context.Background()), "Run should not return an error")

	job := g.Progress()
	assert.Equal(t, feed.StatusComplete, job.Status, "Job should be complete")
	assert.Equal(t, 2, job.RowsWritten, "Exactly two data rows should be written")
	assert.Equal(t, []int{1, 2}, src.pulledBatches(), "Batch 3 should never be requested")

	lines := readPublished(t, desc, dir)
	require.Len(t, lines, 3, "Published file should have a header and two data rows")
	assert.Equal(t, []string{"id", "title", "price"}, lines[0])
}

func TestGeneratorStartIsNoOpWhileRunning(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{
		1: {{"id": 1}},
		2: {{"id": 2}},
	}}
	g, _, _ := newTestGenerator(t, src, identityMapper)

	require.True(t, g.Start(), "First trigger should start a run")
	require.NoError(t, g.RunBatch(context.Background()), "RunBatch should not return an error")
	before := g.Progress()

	require.False(t, g.Start(), "Concurrent trigger should be a no-op while running")

	after := g.Progress()
	assert.Equal(t, before.RunID, after.RunID, "The in-progress run should be untouched")
	assert.Equal(t, before.BatchNumber, after.BatchNumber, "Batch number should not reset")
	assert.Equal(t, feed.StatusRunning, after.Status)
}

func TestGeneratorReentrancyGuard(t *testing.T) {
	t.Parallel()

	src := &batchedSource{
		batches: map[int][]feed.Record{1: {{"id": 1}}},
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	g, _, _ := newTestGenerator(t, src, identityMapper)
	require.True(t, g.Start(), "Start should begin a run")

	done := make(chan error, 1)
	go func() {
		done <- g.RunBatch(context.Background())
	}()

	// Wait for the first invocation to be in flight inside the source pull.
	select {
	case <-src.entered:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the first invocation to reach the source")
	}

	// A second invocation while one is in flight must not write nor advance.
	require.NoError(t, g.RunBatch(context.Background()), "Concurrent RunBatch should be a silent no-op")
	assert.Equal(t, 1, g.Progress().BatchNumber, "Concurrent RunBatch should not advance the batch number")

	close(src.block)
	require.NoError(t, <-done, "In-flight RunBatch should not return an error")
	assert.Equal(t, 2, g.Progress().BatchNumber, "Only the in-flight invocation should advance the batch number")
	assert.Equal(t, []int{1}, src.pulledBatches(), "Only one batch should have been pulled")
}

func TestGeneratorResetDiscardsInFlightBatch(t *testing.T) {
	t.Parallel()

	src := &batchedSource{
		batches: map[int][]feed.Record{1: {{"id": 1}}},
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	g, desc, dir := newTestGenerator(t, src, identityMapper)
	require.True(t, g.Start(), "Start should begin a run")

	done := make(chan error, 1)
	go func() {
		done <- g.RunBatch(context.Background())
	}()

	// Reset while the batch is blocked inside the source pull.
	select {
	case <-src.entered:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the invocation to reach the source")
	}
	g.Reset()
	close(src.block)

	require.NoError(t, <-done, "Stale RunBatch should return without error")
	job := g.Progress()
	assert.Equal(t, feed.StatusIdle, job.Status, "Job should stay idle after reset")
	assert.Zero(t, job.RowsWritten, "Stale batch should not write rows")
	assert.NoFileExists(t, desc.PublishedPath(dir), "Nothing should have been published")
}

func TestGeneratorSkipsRecordsFailingMapping(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{
		1: {{"id": 1}, {"id": "broken"}, {"id": 3}},
	}}
	mapper := func(r feed.Record) (feed.Row, error) {
		if r["id"] == "broken" {
			return nil, errors.New("unmappable record")
		}
		return identityMapper(r)
	}
	g, desc, dir := newTestGenerator(t, src, mapper)

	require.True(t, g.Start(), "Start should begin a run")
	require.NoError(t, g.Run(context.Background()), "A mapper error should not fail the run")

	job := g.Progress()
	assert.Equal(t, feed.StatusComplete, job.Status, "Job should complete despite skipped records")
	assert.Equal(t, 2, job.RowsWritten)
	assert.Equal(t, 1, job.RowsSkipped)

	lines := readPublished(t, desc, dir)
	assert.Len(t, lines, 3, "Only the mappable records should be written")
}

func TestGeneratorSourceErrorFailsRun(t *testing.T) {
	t.Parallel()

	src := &batchedSource{err: errors.New("source unavailable")}
	g, desc, dir := newTestGenerator(t, src, identityMapper)

	require.True(t, g.Start(), "Start should begin a run")
	require.Error(t, g.RunBatch(context.Background()), "A source error should surface")

	job := g.Progress()
	assert.Equal(t, feed.StatusFailed, job.Status, "Job should be failed")
	assert.Contains(t, job.LastError, "source unavailable")
	assert.NoFileExists(t, desc.PublishedPath(dir), "A failed run should not publish")

	// A failed run does not block the next trigger, which starts over from batch 1.
	src.mu.Lock()
	src.err = nil
	src.batches = map[int][]feed.Record{1: {{"id": 1}}}
	src.mu.Unlock()

	require.True(t, g.Start(), "Start after failure should begin a fresh run")
	require.NoError(t, g.Run(context.Background()), "Run should not return an error")
	assert.Equal(t, feed.StatusComplete, g.Progress().Status)
	assert.Equal(t, []int{1, 1, 2}, src.pulledBatches(), "The fresh run should restart at batch 1")
}

func TestGeneratorFailedRunKeepsPublishedFile(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{1: {{"id": 1, "title": "Mug"}}}}
	g, desc, dir := newTestGenerator(t, src, identityMapper)

	require.True(t, g.Start(), "Setup: Start should begin a run")
	require.NoError(t, g.Run(context.Background()), "Setup: Run should not return an error")
	want, err := os.ReadFile(desc.PublishedPath(dir))
	require.NoError(t, err, "Setup: ReadFile should not return an error")

	src.mu.Lock()
	src.err = errors.New("source unavailable")
	src.mu.Unlock()

	require.True(t, g.Start(), "Start should begin a second run")
	require.Error(t, g.RunBatch(context.Background()), "The second run should fail")

	got, err := os.ReadFile(desc.PublishedPath(dir))
	require.NoError(t, err, "ReadFile should not return an error")
	assert.Equal(t, want, got, "The previously published feed should be byte-identical after a failed run")
}

func TestGeneratorPersistsProgressSnapshot(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{1: {{"id": 1}}}}
	g, desc, dir := newTestGenerator(t, src, identityMapper)

	require.True(t, g.Start(), "Start should begin a run")
	require.NoError(t, g.Run(context.Background()), "Run should not return an error")

	f, err := os.Open(desc.ProgressPath(dir))
	require.NoError(t, err, "Progress snapshot should exist")
	defer f.Close()

	var job feed.Job
	require.NoError(t, fileutils.ParseJSON(f, &job), "Progress snapshot should parse")
	assert.Equal(t, feed.Products, job.FeedType)
	assert.Equal(t, feed.StatusComplete, job.Status)
	assert.Equal(t, 1, job.RowsWritten)
	assert.Equal(t, time.Unix(10, 0).UTC(), job.UpdatedAt.UTC(), "Snapshot should use the injected clock")
}

func TestGeneratorRunBatchWithoutStartIsNoOp(t *testing.T) {
	t.Parallel()

	src := &batchedSource{batches: map[int][]feed.Record{1: {{"id": 1}}}}
	g, _, _ := newTestGenerator(t, src, identityMapper)

	require.NoError(t, g.RunBatch(context.Background()), "RunBatch without a run should be a no-op")
	assert.Empty(t, src.pulledBatches(), "No batch should be pulled without a run")
	assert.Equal(t, feed.StatusIdle, g.Progress().Status)
}
