// Package source provides the record sources feeds are generated from.
//
// A source yields the raw records of one feed type, queried by batch number.
// The catalog database source pages through its table; sources without
// native pagination return everything on batch 1 and nothing thereafter.
package source

import (
	"fmt"

	"github.com/feedbridge/feedbridge/internal/feed"
)

// MapBySchema returns a row mapper emitting the schema fields of a record.
//
// Values are rendered to strings; missing fields map to empty strings.
// Composite values (nested maps or slices) cannot be rendered into a
// delimited field and fail the record.
func MapBySchema(schema []string) feed.RowMapper {
	fields := append([]string(nil), schema...)
	return func(r feed.Record) (feed.Row, error) {
		row := make(feed.Row, len(fields))
		for _, name := range fields {
			v, ok := r[name]
			if !ok || v == nil {
				continue
			}
			switch v.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("field %q holds a composite value", name)
			}
			row[name] = fmt.Sprint(v)
		}
		return row, nil
	}
}
