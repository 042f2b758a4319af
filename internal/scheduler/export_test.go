package scheduler

import "github.com/feedbridge/feedbridge/internal/feed"

type (
	DConfigManager = dConfigManager
	DRegistry      = dRegistry
	DPublisher     = dPublisher
)

// WorkerTypes returns the feed types of active workers.
func (m *Pool) WorkerTypes() []feed.Type {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]feed.Type, 0, len(m.workers))
	for t := range m.workers {
		types = append(types, t)
	}
	return types
}
