// Package daemon provides the feedbridge command line application.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/feedbridge/feedbridge/internal/bridge"
	"github.com/feedbridge/feedbridge/internal/cli"
	"github.com/feedbridge/feedbridge/internal/constants"
	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/feedbridge/feedbridge/internal/feedconfig"
	"github.com/feedbridge/feedbridge/internal/metrics"
	"github.com/feedbridge/feedbridge/internal/platform"
	"github.com/feedbridge/feedbridge/internal/scheduler"
	"github.com/feedbridge/feedbridge/internal/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *bridge.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	FeedsFile string // Path to the feed definitions file
	OutputDir string // Directory published feeds are written to

	MetricsConfig metrics.Config
	DBConfig      source.Config
	Platform      platform.Config
	Upload        bool // Upload feeds after a completed generate run

	ConfigPath string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Catalog feed exporter daemon",
		Long: "feedbridge exports an e-commerce catalog to a commerce platform as delimited data feeds, " +
			"regenerating each feed on its configured interval and delivering it over the platform API.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installGenerateCmd(&a)
	installStatusCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	cmd.PersistentFlags().StringVar(&app.config.FeedsFile, "feeds-file",
		filepath.Join(constants.GetDefaultConfigPath(), constants.FeedDefinitionsFileName), "path to the feed definitions file")
	cmd.PersistentFlags().StringVar(&app.config.OutputDir, "output-dir",
		constants.GetDefaultOutputPath(), "directory published feeds are written to")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", constants.DefaultMetricsHost, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", constants.DefaultMetricsPort, "port for the metrics endpoint")

	addDBFlags(cmd, &app.config.DBConfig)
	addPlatformFlags(cmd, &app.config.Platform)

	if err := cmd.MarkPersistentFlagFilename("feeds-file", "toml"); err != nil {
		panic(fmt.Sprintf("failed to mark feeds-file flag as filename: %v", err))
	}
	if err := cmd.MarkPersistentFlagDirname("output-dir"); err != nil {
		panic(fmt.Sprintf("failed to mark output-dir flag as directory: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *source.Config) {
	cmd.PersistentFlags().StringVar(&config.Host, "db-host", "", "catalog database host")
	cmd.PersistentFlags().IntVar(&config.Port, "db-port", 5432, "catalog database port")
	cmd.PersistentFlags().StringVar(&config.User, "db-user", "", "catalog database user")
	cmd.PersistentFlags().StringVar(&config.Password, "db-password", "", "catalog database password")
	cmd.PersistentFlags().StringVar(&config.DBName, "db-name", "", "catalog database name")
	cmd.PersistentFlags().StringVar(&config.SSLMode, "db-sslmode", "", "catalog database SSL mode")
}

func addPlatformFlags(cmd *cobra.Command, config *platform.Config) {
	cmd.PersistentFlags().StringVar(&config.BaseURL, "platform-url", "", "base URL of the commerce platform API, feeds are kept local when unset")
	cmd.PersistentFlags().StringVar(&config.AccessToken, "platform-token", "", "access token for the commerce platform API")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	cm, reg, err := a.feedSetup()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()

	var poolOpts []scheduler.Options
	if a.config.Platform.BaseURL != "" {
		client, err := platform.New(a.config.Platform)
		if err != nil {
			return fmt.Errorf("failed to create platform client: %w", err)
		}
		poolOpts = append(poolOpts, scheduler.WithPublisher(client))
	}

	pool, err := scheduler.New(cm, reg, registry, poolOpts...)
	if err != nil {
		return fmt.Errorf("failed to create feed worker pool: %w", err)
	}

	metricsServer := metrics.New(a.config.MetricsConfig, registry)

	a.daemon = bridge.New(context.Background(), pool, metricsServer)
	close(a.ready)

	return a.daemon.Run()
}

// feedSetup loads the feed definitions and builds the feed registry shared by
// the daemon and the one-shot commands.
func (a *App) feedSetup() (*feedconfig.Manager, *feed.Registry, error) {
	feedsFile, err := filepath.Abs(a.config.FeedsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get absolute path for feed definitions file: %v", err)
	}
	a.config.FeedsFile = feedsFile

	cm := feedconfig.New(a.config.FeedsFile)
	if err := cm.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load feed definitions: %w", err)
	}

	reg, err := feed.NewRegistry(a.config.OutputDir, cm.Descriptors(), newCatalogResolver(a.config.DBConfig, cm))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create feed registry: %w", err)
	}
	return cm, reg, nil
}

// resolveTypes maps the positional feed type arguments to enabled feed types,
// defaulting to every enabled feed when none are given.
func resolveTypes(cm *feedconfig.Manager, typeArgs []string) ([]feed.Type, error) {
	if len(typeArgs) == 0 {
		return cm.EnabledTypes(), nil
	}

	types := make([]feed.Type, 0, len(typeArgs))
	for _, arg := range typeArgs {
		t := feed.Type(arg)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown feed type %q", arg)
		}
		if !cm.IsEnabled(t) {
			return nil, fmt.Errorf("feed type %q has no enabled definition", arg)
		}
		types = append(types, t)
	}
	return types, nil
}

// catalogResolver binds feed descriptors to their record sources.
//
// Product-like feeds read the catalog database table named after the feed
// type, selecting the descriptor schema columns. Feeds without catalog
// backing resolve to an empty static source until one is configured.
type catalogResolver struct {
	dbConfig source.Config
	cm       *feedconfig.Manager
}

func newCatalogResolver(dbConfig source.Config, cm *feedconfig.Manager) catalogResolver {
	return catalogResolver{dbConfig: dbConfig, cm: cm}
}

// Bind implements feed.Resolver.
func (r catalogResolver) Bind(d feed.Descriptor) (feed.Source, feed.RowMapper, feed.BatchSize, error) {
	setting, ok := r.cm.Settings()[d.Type()]
	if !ok {
		return nil, nil, feed.BatchSize{}, fmt.Errorf("no definition loaded for feed type %q", d.Type())
	}

	if r.dbConfig.Host == "" {
		slog.Warn("No catalog database configured, feed resolves to an empty source", "feed", d.Type())
		return source.NewStatic(nil), source.MapBySchema(d.Schema()), setting.BatchSize, nil
	}

	src, err := source.NewPostgres(context.Background(), r.dbConfig, string(d.Type()), d.Schema())
	if err != nil {
		return nil, nil, feed.BatchSize{}, fmt.Errorf("failed to create catalog source for feed %q: %w", d.Type(), err)
	}
	return src, source.MapBySchema(d.Schema()), setting.BatchSize, nil
}
