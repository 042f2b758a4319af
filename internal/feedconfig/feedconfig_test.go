package feedconfig_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/feedbridge/feedbridge/internal/feedconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinitions = `
[[feed]]
type = "products"
stream_name = "products"
fields = ["id", "title", "price"]
interval_seconds = 3600
batch_size = 100

[[feed]]
type = "navigation_menu"
stream_name = "menu"
delimiter = "tab"
fields = ["id", "label", "url"]
interval_seconds = 86400
unbounded = true

[[feed]]
type = "promotions"
stream_name = "promotions"
fields = ["code"]
interval_seconds = 3600
unbounded = true
disabled = true
`

func writeDefinitions(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feeds.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600), "Setup: WriteFile should not return an error")
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string

		wantErr   bool
		wantFeeds []feed.Type
	}{
		"Valid definitions": {
			content:   validDefinitions,
			wantFeeds: []feed.Type{feed.Products, feed.NavigationMenu},
		},
		"Empty file": {
			content:   "",
			wantFeeds: []feed.Type{},
		},

		"Invalid TOML":      {content: "[[feed]\ntype=", wantErr: true},
		"Unknown feed type": {content: "[[feed]]\ntype = \"reviews\"\nstream_name = \"r\"\nfields = [\"id\"]\ninterval_seconds = 60\nunbounded = true\n", wantErr: true},
		"Bad delimiter":     {content: "[[feed]]\ntype = \"products\"\nstream_name = \"p\"\ndelimiter = \"pipe\"\nfields = [\"id\"]\ninterval_seconds = 60\nunbounded = true\n", wantErr: true},
		"No batching mode":  {content: "[[feed]]\ntype = \"products\"\nstream_name = \"p\"\nfields = [\"id\"]\ninterval_seconds = 60\n", wantErr: true},
		"Both batching modes": {
			content: "[[feed]]\ntype = \"products\"\nstream_name = \"p\"\nfields = [\"id\"]\ninterval_seconds = 60\nbatch_size = 10\nunbounded = true\n",
			wantErr: true,
		},
		"Duplicate feed type": {
			content: "[[feed]]\ntype = \"products\"\nstream_name = \"a\"\nfields = [\"id\"]\ninterval_seconds = 60\nunbounded = true\n" +
				"[[feed]]\ntype = \"products\"\nstream_name = \"b\"\nfields = [\"id\"]\ninterval_seconds = 60\nunbounded = true\n",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cm := feedconfig.New(writeDefinitions(t, tc.content))
			err := cm.Load()
			if tc.wantErr {
				require.Error(t, err, "Load should return an error")
				return
			}
			require.NoError(t, err, "Load should not return an error")

			settings := cm.Settings()
			require.Len(t, settings, len(tc.wantFeeds), "Loaded feed count mismatch")
			for _, ft := range tc.wantFeeds {
				assert.Contains(t, settings, ft)
				assert.True(t, cm.IsEnabled(ft), "%s should be enabled", ft)
			}
		})
	}
}

func TestLoadProducesValidSettings(t *testing.T) {
	t.Parallel()

	cm := feedconfig.New(writeDefinitions(t, validDefinitions))
	require.NoError(t, cm.Load(), "Load should not return an error")

	products := cm.Settings()[feed.Products]
	assert.Equal(t, "products", products.Descriptor.StreamName())
	assert.Equal(t, ',', products.Descriptor.Delimiter(), "Delimiter should default to comma")
	assert.Equal(t, time.Hour, products.Descriptor.Interval())
	assert.False(t, products.BatchSize.IsUnbounded())
	assert.Equal(t, 100, products.BatchSize.Size())

	menu := cm.Settings()[feed.NavigationMenu]
	assert.Equal(t, '\t', menu.Descriptor.Delimiter())
	assert.True(t, menu.BatchSize.IsUnbounded())

	assert.False(t, cm.IsEnabled(feed.Promotions), "Disabled feeds should not be enabled")
	assert.Len(t, cm.Descriptors(), 2)
}

func TestLoadErrorKeepsPreviousDefinitions(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, validDefinitions)
	cm := feedconfig.New(path)
	require.NoError(t, cm.Load(), "Setup: Load should not return an error")

	require.NoError(t, os.WriteFile(path, []byte("not toml ["), 0600), "Setup: WriteFile should not return an error")
	require.Error(t, cm.Load(), "Load should return an error for a broken file")

	assert.True(t, cm.IsEnabled(feed.Products), "The previously loaded definitions should survive a broken reload")
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, validDefinitions)
	cm := feedconfig.New(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, watchErrs, err := cm.Watch(ctx)
	require.NoError(t, err, "Watch should not return an error")
	require.True(t, cm.IsEnabled(feed.Products), "Watch should perform an initial load")

	// Drop the products feed and wait for the reload notification.
	newContent := `
[[feed]]
type = "promotions"
stream_name = "promotions"
fields = ["code"]
interval_seconds = 3600
unbounded = true
`
	require.NoError(t, os.WriteFile(path, []byte(newContent), 0600), "Setup: WriteFile should not return an error")

	select {
	case <-changes:
	case err := <-watchErrs:
		t.Fatalf("Watcher reported an error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a reload notification")
	}

	assert.False(t, cm.IsEnabled(feed.Products), "The dropped feed should no longer be enabled")
	assert.True(t, cm.IsEnabled(feed.Promotions), "The added feed should be enabled")

	cancel()
	for range changes {
	}
	for range watchErrs {
	}
}
