package source

import "context"

type DBPool = dbPool

// WithNewPool overrides the database connection pool constructor.
func WithNewPool(f func(ctx context.Context, dsn string) (dbPool, error)) PostgresOptions {
	return func(o *pgOptions) {
		o.newPool = f
	}
}
