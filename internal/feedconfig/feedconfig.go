// Package feedconfig provides a manager that loads and watches the feed
// definitions file.
//
// Feed definitions are static TOML configuration declaring, per feed type,
// the data stream name, the header schema, the delimiter, the batching mode
// and the regeneration interval.
package feedconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/fsnotify/fsnotify"
	"github.com/ubuntu/decorate"
)

// Setting binds one feed descriptor to its batching mode.
type Setting struct {
	Descriptor feed.Descriptor
	BatchSize  feed.BatchSize
}

// conf mirrors the TOML feed definitions file.
type conf struct {
	Feeds []definition `toml:"feed"`
}

type definition struct {
	Type            string   `toml:"type"`
	StreamName      string   `toml:"stream_name"`
	Delimiter       string   `toml:"delimiter"`
	Fields          []string `toml:"fields"`
	IntervalSeconds int      `toml:"interval_seconds"`
	BatchSize       int      `toml:"batch_size"`
	Unbounded       bool     `toml:"unbounded"`
	Disabled        bool     `toml:"disabled"`
}

// Manager is a struct that manages the feed definitions file.
type Manager struct {
	configPath string

	lock     sync.RWMutex
	settings map[feed.Type]Setting

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.Logger = l
	}
}

// New creates a new feed definitions manager with the specified path.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: path,
		log:        opts.Logger,
	}
}

// Load reads the feed definitions from the configured file and updates the
// internal state. An invalid file leaves the previously loaded definitions
// untouched.
func (cm *Manager) Load() (err error) {
	defer decorate.OnError(&err, "failed to load feed definitions from %s", cm.configPath)

	var newConf conf
	if _, err := toml.DecodeFile(cm.configPath, &newConf); err != nil {
		return err
	}

	settings := make(map[feed.Type]Setting, len(newConf.Feeds))
	for _, def := range newConf.Feeds {
		if def.Disabled {
			continue
		}

		setting, err := def.setting()
		if err != nil {
			return err
		}
		if _, ok := settings[setting.Descriptor.Type()]; ok {
			return fmt.Errorf("duplicate definition for feed type %q", def.Type)
		}
		settings[setting.Descriptor.Type()] = setting
	}

	cm.lock.Lock()
	cm.settings = settings
	cm.lock.Unlock()

	cm.log.Info("Feed definitions loaded", "file", cm.configPath, "feeds", len(settings))
	return nil
}

// setting validates one definition and converts it to a Setting.
func (def definition) setting() (Setting, error) {
	var delimiter rune
	switch def.Delimiter {
	case "", "comma":
		delimiter = ','
	case "tab":
		delimiter = '\t'
	default:
		return Setting{}, fmt.Errorf("unrecognized delimiter %q for feed %q, must be comma or tab", def.Delimiter, def.Type)
	}

	desc, err := feed.NewDescriptor(
		feed.Type(def.Type),
		def.StreamName,
		def.Fields,
		delimiter,
		time.Duration(def.IntervalSeconds)*time.Second,
	)
	if err != nil {
		return Setting{}, err
	}

	var batchSize feed.BatchSize
	switch {
	case def.Unbounded && def.BatchSize != 0:
		return Setting{}, fmt.Errorf("feed %q declares both unbounded and a batch size", def.Type)
	case def.Unbounded:
		batchSize = feed.Unbounded()
	default:
		if batchSize, err = feed.FixedSize(def.BatchSize); err != nil {
			return Setting{}, fmt.Errorf("feed %q: %w", def.Type, err)
		}
	}

	return Setting{Descriptor: desc, BatchSize: batchSize}, nil
}

// Watch starts watching the feed definitions file for changes.
//
// It returns two channels: one for definition changes which result in a
// successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errs <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir, _ := filepath.Split(cm.configPath)
	if configDir == "" {
		configDir = "."
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching feed definitions directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	// Initial load of the definitions
	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial feed definitions", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Feed definitions watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if event.Name != cm.configPath {
					continue
				}

				cm.log.Debug("Feed definitions file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading feed definitions", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Settings returns the loaded feed settings keyed by feed type.
func (cm *Manager) Settings() map[feed.Type]Setting {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	settings := make(map[feed.Type]Setting, len(cm.settings))
	for t, s := range cm.settings {
		settings[t] = s
	}
	return settings
}

// Descriptors returns the loaded feed descriptors.
func (cm *Manager) Descriptors() []feed.Descriptor {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	descs := make([]feed.Descriptor, 0, len(cm.settings))
	for _, s := range cm.settings {
		descs = append(descs, s.Descriptor)
	}
	return descs
}

// EnabledTypes returns the feed types with a loaded definition, in a stable order.
func (cm *Manager) EnabledTypes() []feed.Type {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	types := make([]feed.Type, 0, len(cm.settings))
	for t := range cm.settings {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsEnabled reports whether the given feed type has a loaded definition.
func (cm *Manager) IsEnabled(t feed.Type) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	_, ok := cm.settings[t]
	return ok
}
