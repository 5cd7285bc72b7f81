// Package main implements the offsync binary: an offline-first local cache
// and pending-operation sync service for the remote inventory API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/stockpilot/offsync/internal/api"
	"github.com/stockpilot/offsync/internal/monitor"
	"github.com/stockpilot/offsync/internal/store"
	syncengine "github.com/stockpilot/offsync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	PostgresDSN    string `short:"p" env:"OFFSYNC_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string for the local store"`
	APIBaseURL     string `short:"a" env:"OFFSYNC_API_BASE_URL" long:"api-base-url" description:"Base URL of the remote inventory API"`
	APIToken       string `short:"t" env:"OFFSYNC_API_TOKEN" long:"api-token" description:"Bearer token for the remote inventory API"`
	LogLevel       string `short:"l" env:"OFFSYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	ProbeInterval  string `env:"OFFSYNC_PROBE_INTERVAL" long:"probe-interval" description:"Connectivity probe interval" default:"10s"`
	RequestTimeout string `env:"OFFSYNC_REQUEST_TIMEOUT" long:"request-timeout" description:"Per-request timeout for remote API calls" default:"45s"`
	Version        bool   `short:"v" long:"version" description:"Show version information"`
	Help           bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	parser.SubcommandsOptional = true
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("offsync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("offsync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	probeInterval, err := time.ParseDuration(config.ProbeInterval)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid probe interval format")
	}
	requestTimeout, err := time.ParseDuration(config.RequestTimeout)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid request timeout format")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	// Connect to PostgreSQL with retry logic
	pool, err := store.NewWithRetry(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to PostgreSQL after retries")
	}
	defer pool.Close()

	// Migrations run on a dedicated connection
	conn, err := pgx.Connect(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open migration connection")
	}
	if err := store.ApplyMigrations(ctx, conn); err != nil {
		logrus.WithError(err).Fatal("Failed to apply migrations")
	}
	if err := conn.Close(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to close migration connection")
	}

	client := api.NewClient(config.APIBaseURL, config.APIToken, requestTimeout)
	engine := syncengine.NewEngine(pool, client, nil)
	mon := monitor.New(engine, client, pool, probeInterval)
	engine.SetOnline(mon.IsOnline)

	// Fill the local store before the first outage, if the remote is up
	if client.Ping(ctx) == nil {
		if err := engine.Hydrate(ctx); err != nil {
			logrus.WithError(err).Warn("Initial hydration failed, continuing with local data")
		}
	} else {
		logrus.Info("Remote API unreachable on startup, serving local data")
	}

	if err := mon.Start(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Connectivity monitoring failed")
	}

	logrus.Info("Graceful shutdown completed")
}
