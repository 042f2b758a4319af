package fileutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/feedbridge/feedbridge/internal/fileutils"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data            []byte
		fileExists      bool
		fileExistsPerms os.FileMode
		invalidDir      bool

		wantError bool
	}{
		"Empty file":          {data: []byte{}},
		"Non-empty file":      {data: []byte("data")},
		"Override file":       {data: []byte("data"), fileExistsPerms: 0600, fileExists: true},
		"Override empty file": {data: []byte{}, fileExistsPerms: 0600, fileExists: true},

		"Existing empty file":     {data: []byte{}, fileExistsPerms: 0600, fileExists: true},
		"Existing non-empty file": {data: []byte("data"), fileExistsPerms: 0600, fileExists: true},

		"Invalid Dir": {data: []byte("data"), invalidDir: true, wantError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			oldFile := []byte("Old File!")
			tempDir := t.TempDir()
			path := filepath.Join(tempDir, "file")
			if tc.invalidDir {
				path = filepath.Join(path, "fake_dir")
			}

			if tc.fileExists {
				err := os.WriteFile(path, oldFile, tc.fileExistsPerms)
				require.NoError(t, err, "Setup: WriteFile should not return an error")
				t.Cleanup(func() { _ = os.Chmod(path, 0600) })
			}

			err := fileutils.AtomicWrite(path, tc.data)
			if tc.wantError {
				require.Error(t, err, "AtomicWrite should return an error")

				// Check that the file was not overwritten
				if !tc.fileExists {
					return
				}

				if tc.invalidDir {
					path = filepath.Dir(path)
				}

				data, err := os.ReadFile(path)
				require.NoError(t, err, "ReadFile should not return an error")
				require.Equal(t, oldFile, data, "AtomicWrite should not overwrite the file")

				return
			}
			require.NoError(t, err, "AtomicWrite should not return an error")

			// Check that the file was written
			data, err := os.ReadFile(path)
			require.NoError(t, err, "ReadFile should not return an error")
			require.Equal(t, tc.data, data, "AtomicWrite should write the data to the file")
		})
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type snapshot struct {
		Feed string `json:"feed"`
		Rows int    `json:"rows"`
	}

	path := filepath.Join(t.TempDir(), "snapshot.json")
	want := snapshot{Feed: "products", Rows: 42}
	require.NoError(t, fileutils.WriteJSON(path, want), "WriteJSON should not return an error")

	f, err := os.Open(path)
	require.NoError(t, err, "Open should not return an error")
	defer f.Close()

	var got snapshot
	require.NoError(t, fileutils.ParseJSON(f, &got), "ParseJSON should not return an error")
	require.Equal(t, want, got, "Round trip should preserve the snapshot")
}
