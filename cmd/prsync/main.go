package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cli/go-gh/v2/pkg/auth"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/prsync/internal/cfg"
	"github.com/simplesurance/prsync/internal/githubclt"
	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/output"
	"github.com/simplesurance/prsync/internal/prsync"
	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
	"github.com/simplesurance/prsync/internal/retryer"
	"github.com/simplesurance/prsync/internal/snapshot"
)

const appName = "prsync"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const (
	exitCodeErr        = 1
	exitCodeInvalidArg = 2
)

const shutdownTimeout = time.Minute

const (
	outputTypePrint  = "print"
	outputTypeDump   = "dump"
	outputTypeYAML   = "yaml"
	outputTypeSQLite = "sqlite"
)

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(exitCodeErr)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, exitCodeErr)
	}
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	Type        *string
	Account     *string
	Repository  *string
	Range       *string
	Since       *string
	Update      *bool
	DryRun      *bool
	Filter      *string
	DBFile      *string
	MetricsFile *string
}

var args arguments

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			"",
			"path to the prsync configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		Type: pflag.StringP(
			"type",
			"t",
			outputTypePrint,
			"output type: print, dump, yaml or sqlite",
		),
		Account: pflag.StringP(
			"account",
			"a",
			"",
			"GitHub account (owner) of the repository",
		),
		Repository: pflag.StringP(
			"repository",
			"r",
			"",
			"GitHub repository name",
		),
		Range: pflag.StringP(
			"range",
			"x",
			"",
			"only synchronize pull requests with numbers in the range, format: LOW-HIGH",
		),
		Since: pflag.StringP(
			"since",
			"s",
			"",
			"only synchronize pull requests updated after the day, format: YYYY-MM-DD",
		),
		Update: pflag.Bool(
			"update",
			false,
			"refresh pull requests that already exist in the snapshot",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"do not write the snapshot file",
		),
		Filter: pflag.String(
			"filter",
			"",
			"jq query that is evaluated for each pull request, only pull requests for that it returns true are output",
		),
		DBFile: pflag.String(
			"db-file",
			"",
			"path of the sqlite database, required for --type=sqlite",
		),
		MetricsFile: pflag.String(
			"metrics-file",
			"",
			"write synchronization metrics in the prometheus text format to the file",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]... [SNAPSHOT-FILE]\nSynchronize GitHub pull requests into a local snapshot and output them.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}
	pflag.Usage = flag.Usage

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.ConfigFile == "" {
		return cfg.Default()
	}

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stderr,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stderr"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(exitCodeInvalidArg)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(exitCodeInvalidArg)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// applyArgs overwrites config settings with the values of commandline
// parameters that were specified.
func applyArgs(config *cfg.Config) {
	if *args.Account != "" {
		config.Account = *args.Account
	}

	if *args.Repository != "" {
		config.Repository = *args.Repository
	}

	if *args.DBFile != "" {
		config.DBFile = *args.DBFile
	}

	if *args.MetricsFile != "" {
		config.MetricsFile = *args.MetricsFile
	}
}

// githubToken returns the GitHub API token and where it was found.
// The token from the configuration file has precedence over the
// environment, the credentials of the gh CLI are used as fallback.
func githubToken(config *cfg.Config) (token, source string) {
	if config.GithubAPIToken != "" {
		return config.GithubAPIToken, "config"
	}

	for _, envVar := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if val := os.Getenv(envVar); val != "" {
			return val, envVar
		}
	}

	return auth.TokenForHost("github.com")
}

func snapshotPath(config *cfg.Config) (string, error) {
	switch pflag.NArg() {
	case 0:
		return filepath.Join(config.SnapshotDir, snapshot.FileName(config.Repository)), nil
	case 1:
		return pflag.Arg(0), nil
	default:
		return "", prsyncerr.NewInputError("snapshot file", "", fmt.Sprintf("expected at most 1 positional argument, got %d", pflag.NArg()))
	}
}

func syncParams(config *cfg.Config) (*prsync.Params, error) {
	params := prsync.Params{
		Owner:      config.Account,
		Repository: config.Repository,
		Since:      *args.Since,
		Update:     *args.Update,
		PageSize:   config.Sync.PageSize,
	}

	if params.Owner == "" {
		return nil, prsyncerr.NewInputError("account", "", "must be specified via --account or the configuration file")
	}

	if params.Repository == "" {
		return nil, prsyncerr.NewInputError("repository", "", "must be specified via --repository or the configuration file")
	}

	if *args.Range != "" {
		r, err := record.ParseRange(*args.Range)
		if err != nil {
			return nil, err
		}

		params.Range = r
	}

	if params.Range != nil && params.Since != "" {
		return nil, prsyncerr.NewInputError("since", params.Since, "can not be combined with --range")
	}

	if params.Since != "" {
		if _, err := record.ParseSince(params.Since); err != nil {
			return nil, err
		}
	}

	return &params, nil
}

func validateOutputType(config *cfg.Config) error {
	switch *args.Type {
	case outputTypePrint, outputTypeDump, outputTypeYAML:
		return nil
	case outputTypeSQLite:
		if config.DBFile == "" {
			return prsyncerr.NewInputError("db-file", "", "must be specified for output type sqlite")
		}
		return nil
	default:
		return prsyncerr.NewInputError("type", *args.Type, "supported types: print, dump, yaml, sqlite")
	}
}

func mustNewRetryer(config *cfg.Config) *retryer.Retryer {
	initialInterval, err := config.Retry.InitialIntervalDuration()
	exitOnErr("invalid retry configuration", err)

	maxInterval, err := config.Retry.MaxIntervalDuration()
	exitOnErr("invalid retry configuration", err)

	return retryer.New(
		retryer.WithMaxAttempts(config.Retry.MaxAttempts),
		retryer.WithInitialInterval(initialInterval),
		retryer.WithMaxInterval(maxInterval),
	)
}

func loadSnapshot(store snapshot.Store, path string, params *prsync.Params) (*snapshot.Snapshot, error) {
	snap, err := store.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info(
				"snapshot file does not exist, starting with an empty snapshot",
				logfields.Event("snapshot_not_found"),
				logfields.SnapshotFile(path),
			)

			return snapshot.New(params.Owner, params.Repository), nil
		}

		return nil, err
	}

	if snap.Owner != params.Owner || snap.Repository != params.Repository {
		return nil, fmt.Errorf("snapshot file %s belongs to repository %s/%s, expected %s/%s",
			path, snap.Owner, snap.Repository, params.Owner, params.Repository)
	}

	logger.Info(
		"loaded snapshot",
		logfields.Event("snapshot_loaded"),
		logfields.SnapshotFile(path),
		logfields.Watermark(snap.Watermark),
		zap.Int("pull_requests", snap.Len()),
	)

	return snap, nil
}

func writeOutput(ctx context.Context, config *cfg.Config, snap *snapshot.Snapshot, filter *output.Filter) error {
	prs, err := filter.Apply(ctx, snap.SortedByNumber())
	if err != nil {
		return fmt.Errorf("filtering pull requests failed: %w", err)
	}

	switch *args.Type {
	case outputTypePrint:
		return output.PrintOverview(os.Stdout, prs)

	case outputTypeDump:
		return output.Dump(os.Stdout, prs)

	case outputTypeYAML:
		return output.WriteYAML(os.Stdout, snap, prs)

	case outputTypeSQLite:
		exporter, err := output.NewSQLiteExporter(config.DBFile)
		if err != nil {
			return err
		}
		defer exporter.Close()

		return exporter.Export(ctx, snap, prs)

	default:
		return fmt.Errorf("unsupported output type: %q", *args.Type)
	}
}

func exitCode(err error) int {
	var inputErr *prsyncerr.InputError
	if errors.As(err, &inputErr) {
		return exitCodeInvalidArg
	}

	return exitCodeErr
}

func run() int {
	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return 0
	}

	config := mustParseCfg()
	applyArgs(config)

	mustInitLogger(config)

	params, err := syncParams(config)
	if err == nil {
		err = validateOutputType(config)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		return exitCode(err)
	}

	var filter *output.Filter
	if *args.Filter != "" {
		filter, err = output.NewFilter(*args.Filter)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			return exitCode(err)
		}
	}

	path, err := snapshotPath(config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		return exitCode(err)
	}

	token, tokenSource := githubToken(config)

	logger.Info(
		"configuration loaded",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		logfields.RepositoryOwner(params.Owner),
		logfields.Repository(params.Repository),
		logfields.SnapshotFile(path),
		zap.String("github_api_token", hide(token)),
		zap.String("github_api_token_source", tokenSource),
		zap.String("output_type", *args.Type),
		zap.Bool("dry_run", *args.DryRun),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
	)

	var store snapshot.Store = snapshot.NewFileStore()
	if *args.DryRun {
		store = snapshot.NewDryStore(store)
	}

	snap, err := loadSnapshot(store, path, params)
	if err != nil {
		logger.Error("loading snapshot failed", logfields.SnapshotFile(path), zap.Error(err))
		return exitCodeErr
	}

	metrics := prsync.NewMetrics()
	syncer := prsync.NewSyncer(
		githubclt.New(token),
		mustNewRetryer(config),
		prsync.WithMetrics(metrics),
		prsync.WithMaxNoProgress(config.Sync.MaxNoProgress),
	)

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	// the signal handler waits until the partial snapshot was persisted,
	// goodbye terminates the process when the handlers returned
	syncDone := make(chan struct{})
	defer close(syncDone)

	goodbye.Register(func(hctx context.Context, sig os.Signal) {
		if sig != nil {
			logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		}

		cancelFn()

		select {
		case <-syncDone:
		case <-time.After(shutdownTimeout):
			logger.Warn("timeout expired while waiting for synchronization to terminate")
		case <-hctx.Done():
		}
	})

	res, syncErr := syncer.Sync(ctx, snap, params)

	if config.MetricsFile != "" {
		if err := metrics.WriteToTextfile(config.MetricsFile); err != nil {
			logger.Warn("writing metrics file failed", zap.Error(err))
		}
	}

	if syncErr != nil {
		if errors.Is(syncErr, context.Canceled) && res != nil {
			if err := store.Save(res.Snapshot, path); err != nil {
				logger.Error("persisting partial snapshot failed", logfields.SnapshotFile(path), zap.Error(err))
			}
		}

		fmt.Fprintln(os.Stderr, "ERROR: synchronization failed:", syncErr)
		return exitCode(syncErr)
	}

	if !res.Cached {
		if err := store.Save(res.Snapshot, path); err != nil {
			logger.Error("persisting snapshot failed", logfields.SnapshotFile(path), zap.Error(err))
			return exitCodeErr
		}
	}

	if err := writeOutput(ctx, config, res.Snapshot, filter); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: writing output failed:", err)
		return exitCode(err)
	}

	return 0
}

func main() {
	defer panicHandler()

	goodbye.Notify(context.Background())

	code := run()

	goodbye.Exit(context.Background(), code)
}
