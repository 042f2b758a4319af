package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/feedbridge/feedbridge/internal/feedconfig"
	"github.com/feedbridge/feedbridge/internal/fileutils"
	"github.com/spf13/cobra"
)

func installStatusCmd(app *App) {
	cmd := &cobra.Command{
		Use:   "status [feed-type...]",
		Short: "Print the generation status of feeds and exit",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true
			return app.status(args)
		},
	}
	app.cmd.AddCommand(cmd)
}

func (a *App) status(typeArgs []string) error {
	close(a.ready) // One-shot command, no background daemon to wait for.

	feedsFile, err := filepath.Abs(a.config.FeedsFile)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for feed definitions file: %v", err)
	}
	cm := feedconfig.New(feedsFile)
	if err := cm.Load(); err != nil {
		return fmt.Errorf("failed to load feed definitions: %w", err)
	}

	types, err := resolveTypes(cm, typeArgs)
	if err != nil {
		return err
	}

	settings := cm.Settings()
	for _, t := range types {
		job, err := readProgress(settings[t].Descriptor.ProgressPath(a.config.OutputDir))
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("%s\tnever generated\n", t)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read progress of feed %q: %w", t, err)
		}

		fmt.Printf("%s\t%s\tbatch %d\trows %d\tskipped %d\tupdated %s\n",
			t, job.Status, job.BatchNumber, job.RowsWritten, job.RowsSkipped, job.UpdatedAt.Format("2006-01-02 15:04:05"))
		if job.LastError != "" {
			fmt.Printf("%s\tlast error: %s\n", t, job.LastError)
		}
	}
	return nil
}

// readProgress loads one feed's persisted job snapshot.
func readProgress(path string) (feed.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return feed.Job{}, err
	}
	defer f.Close()

	var job feed.Job
	if err := fileutils.ParseJSON(f, &job); err != nil {
		return feed.Job{}, err
	}
	return job, nil
}
