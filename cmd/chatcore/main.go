package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatcore/internal/config"
	"chatcore/internal/models"
	"chatcore/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type globalFlags struct {
	configPath  string
	envFile     string
	verbose     bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "chatcore",
		Short:         "Terminal client for the chat backend",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (JSON or YAML); environment only when empty")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose logging (includes unmasked ids)")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newConversationsCmd(flags),
		newStartCmd(flags),
		newTailCmd(flags),
		newSendCmd(flags),
		newOpenDocumentCmd(flags),
		newAcceptCmd(flags),
		newReportCmd(flags),
		newArchiveCmd(flags),
	)
	return root
}

func newLogger(cfg *models.Config, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - ids will be logged unmasked")
	case cfg != nil && cfg.LogLevel != "":
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to warn", cfg.LogLevel)
			level = logrus.WarnLevel
		}
		logger.SetLevel(level)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func loadConfig(flags *globalFlags) (*models.Config, error) {
	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return nil, err
	}
	if flags.configPath == "" {
		return config.FromEnvironment()
	}
	return config.LoadConfig(flags.configPath)
}

// openSession loads config, builds a started session and, when requested,
// serves its metrics. The returned func closes everything.
func openSession(ctx context.Context, flags *globalFlags, opts service.Options) (*service.Session, func(), error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, flags.verbose)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"commit":  GitCommit,
	}).Debug("Starting chatcore")

	opts.Config = *cfg
	opts.Logger = logger
	opts.Verbose = flags.verbose

	var stopMetrics func()
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		stopMetrics = serveMetrics(flags.metricsAddr, reg, logger)
	}

	session, err := service.New(opts)
	if err != nil {
		if stopMetrics != nil {
			stopMetrics()
		}
		return nil, nil, err
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		if stopMetrics != nil {
			stopMetrics()
		}
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}

	cleanup := func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Debug("Session close")
		}
		if stopMetrics != nil {
			stopMetrics()
		}
	}
	return session, cleanup, nil
}
