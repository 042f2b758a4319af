// Package feed implements the feed generation pipeline.
//
// A feed is a complete export of one catalog entity type, materialized as a
// delimited text file. Generation is batch oriented: records are pulled from a
// source one bounded batch at a time, mapped to rows, and streamed through a
// writer into a working file which is atomically published on completion.
package feed

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/feedbridge/feedbridge/internal/constants"
)

// Type identifies one feed type. It determines the header schema, the
// delimiter, the source adapter and the regeneration interval.
type Type string

// Known feed types.
const (
	Products         Type = "products"
	ShippingProfiles Type = "shipping_profiles"
	Promotions       Type = "promotions"
	NavigationMenu   Type = "navigation_menu"
	ProductSets      Type = "product_sets"
)

// AllTypes returns all known feed types.
func AllTypes() []Type {
	return []Type{Products, ShippingProfiles, Promotions, NavigationMenu, ProductSets}
}

// Valid reports whether t is a known feed type.
func (t Type) Valid() bool {
	switch t {
	case Products, ShippingProfiles, Promotions, NavigationMenu, ProductSets:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

var (
	// ErrUnknownFeedType is returned when a descriptor is created for an unknown feed type.
	ErrUnknownFeedType = errors.New("unknown feed type")
	// ErrEmptySchema is returned when a descriptor is created without any fields.
	ErrEmptySchema = errors.New("schema must have at least one field")
	// ErrInvalidDelimiter is returned when a descriptor uses a delimiter other than comma or tab.
	ErrInvalidDelimiter = errors.New("delimiter must be a comma or a tab")
)

// Descriptor describes how one feed type is materialized. It is created once
// from static configuration and never mutated.
type Descriptor struct {
	feedType   Type
	streamName string
	schema     []string
	delimiter  rune
	interval   time.Duration
}

// NewDescriptor validates and creates an immutable feed descriptor.
func NewDescriptor(t Type, streamName string, schema []string, delimiter rune, interval time.Duration) (Descriptor, error) {
	if !t.Valid() {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownFeedType, t)
	}
	if streamName == "" {
		return Descriptor{}, fmt.Errorf("stream name cannot be an empty string for feed %q", t)
	}
	if len(schema) == 0 {
		return Descriptor{}, fmt.Errorf("%w: feed %q", ErrEmptySchema, t)
	}
	seen := make(map[string]struct{}, len(schema))
	for _, f := range schema {
		if f == "" {
			return Descriptor{}, fmt.Errorf("schema for feed %q contains an empty field name", t)
		}
		if _, ok := seen[f]; ok {
			return Descriptor{}, fmt.Errorf("schema for feed %q contains duplicate field %q", t, f)
		}
		seen[f] = struct{}{}
	}
	if delimiter != ',' && delimiter != '\t' {
		return Descriptor{}, fmt.Errorf("%w: feed %q", ErrInvalidDelimiter, t)
	}
	if interval <= 0 {
		return Descriptor{}, fmt.Errorf("regeneration interval must be positive for feed %q", t)
	}

	return Descriptor{
		feedType:   t,
		streamName: streamName,
		schema:     append([]string(nil), schema...),
		delimiter:  delimiter,
		interval:   interval,
	}, nil
}

// Type returns the feed type this descriptor belongs to.
func (d Descriptor) Type() Type {
	return d.feedType
}

// StreamName returns the name of the data stream on the remote platform.
func (d Descriptor) StreamName() string {
	return d.streamName
}

// Schema returns the ordered field names of the feed header.
func (d Descriptor) Schema() []string {
	return append([]string(nil), d.schema...)
}

// Delimiter returns the field delimiter of the feed file.
func (d Descriptor) Delimiter() rune {
	return d.delimiter
}

// Interval returns the regeneration interval of the feed.
func (d Descriptor) Interval() time.Duration {
	return d.interval
}

// PublishedPath returns the path the finalized feed file is published to.
func (d Descriptor) PublishedPath(dir string) string {
	return filepath.Join(dir, d.streamName+constants.FeedExt)
}

// ProgressPath returns the path of the feed's progress snapshot file.
func (d Descriptor) ProgressPath(dir string) string {
	return filepath.Join(dir, d.streamName+constants.ProgressFileSuffix)
}

// Row is one feed file row, keyed by schema field name. Fields missing from a
// row serialize as empty strings.
type Row map[string]string

// Record is one raw source record before row mapping.
type Record map[string]any

// RowMapper transforms one source record into a feed row. A mapper error is a
// per-record soft failure: the record is skipped and the batch continues.
type RowMapper func(Record) (Row, error)

// BatchSize is the batching mode of a source. It is either unbounded, meaning
// the source returns everything on the first batch, or a fixed positive size.
type BatchSize struct {
	size      int
	unbounded bool
}

// Unbounded returns a batch size meaning "no batching, one shot".
func Unbounded() BatchSize {
	return BatchSize{unbounded: true}
}

// FixedSize returns a batch size bounded to n records per batch.
func FixedSize(n int) (BatchSize, error) {
	if n <= 0 {
		return BatchSize{}, fmt.Errorf("fixed batch size must be positive, got %d", n)
	}
	return BatchSize{size: n}, nil
}

// IsUnbounded reports whether batching is disabled.
func (b BatchSize) IsUnbounded() bool {
	return b.unbounded
}

// Size returns the maximum records per batch. It is 0 when unbounded.
func (b BatchSize) Size() int {
	return b.size
}
