package source_test

import (
	"testing"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/feedbridge/feedbridge/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticReturnsEverythingOnFirstBatch(t *testing.T) {
	t.Parallel()

	records := []feed.Record{
		{"id": "sku-1"},
		{"id": "sku-2"},
	}
	s := source.NewStatic(records)

	got, err := s.ItemsForBatch(t.Context(), 1, feed.Unbounded())
	require.NoError(t, err, "ItemsForBatch should not error")
	assert.Equal(t, records, got, "first batch should hold all records")

	got, err = s.ItemsForBatch(t.Context(), 2, feed.Unbounded())
	require.NoError(t, err, "ItemsForBatch should not error")
	assert.Empty(t, got, "batches past the first should be empty")
}

func TestStaticCopiesRecords(t *testing.T) {
	t.Parallel()

	records := []feed.Record{{"id": "sku-1"}}
	s := source.NewStatic(records)
	records[0] = feed.Record{"id": "mutated"}

	got, err := s.ItemsForBatch(t.Context(), 1, feed.Unbounded())
	require.NoError(t, err, "ItemsForBatch should not error")
	assert.Equal(t, []feed.Record{{"id": "sku-1"}}, got, "source should not observe caller mutations")
}
