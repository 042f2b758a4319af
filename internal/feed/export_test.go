package feed

import "time"

type MockTimeProvider struct {
	CurrentTime int64
}

func (m MockTimeProvider) Now() time.Time {
	return time.Unix(m.CurrentTime, 0)
}

// WithTimeProvider sets the time provider used for progress snapshots.
func WithTimeProvider(tp timeProvider) GeneratorOptions {
	return func(o *generatorOptions) {
		o.timeProvider = tp
	}
}
