package source

import (
	"context"

	"github.com/feedbridge/feedbridge/internal/feed"
)

// Static is a source serving a fixed record set with no native pagination:
// everything is returned on batch 1, nothing thereafter.
type Static struct {
	records []feed.Record
}

// NewStatic returns a static source serving the given records.
func NewStatic(records []feed.Record) *Static {
	return &Static{records: append([]feed.Record(nil), records...)}
}

// ItemsForBatch implements feed.Source.
func (s *Static) ItemsForBatch(_ context.Context, batch int, _ feed.BatchSize) ([]feed.Record, error) {
	if batch > 1 {
		return nil, nil
	}
	return append([]feed.Record(nil), s.records...), nil
}
