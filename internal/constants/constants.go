// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration and output paths.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// Version is the version of the application.
	Version = "Dev"

	// CmdName is the name of the command line tool.
	CmdName = "feedbridge"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "feedbridge"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// FeedDefinitionsFileName is the default base name of the feed definitions file.
	FeedDefinitionsFileName = "feeds.toml"

	// WorkingFilePattern is the pattern used for temporary working feed files.
	WorkingFilePattern = "feed-*.tmp"

	// ProgressFileSuffix is appended to a feed's stream name to form its progress snapshot file.
	ProgressFileSuffix = "-progress.json"

	// FeedExt is the extension of published feed files.
	FeedExt = ".csv"

	// DefaultMetricsHost is the default host for the daemon metrics endpoint.
	DefaultMetricsHost = "localhost"

	// DefaultMetricsPort is the default port for the daemon metrics endpoint.
	DefaultMetricsPort = 2113

	// DefaultRetryLimit is the default number of retries for an outbound platform request.
	DefaultRetryLimit = 5
)

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default path to the configuration directory.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), DefaultAppFolder)
}

// GetDefaultOutputPath is the default path to the directory published feeds are written to.
func GetDefaultOutputPath(opts ...option) string {
	o := options{baseDir: os.UserCacheDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), DefaultAppFolder)
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
