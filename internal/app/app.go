package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aniiisha-23/alertiq/internal/analyzer"
	"github.com/aniiisha-23/alertiq/internal/config"
	"github.com/aniiisha-23/alertiq/internal/fetcher"
	"github.com/aniiisha-23/alertiq/internal/ledger"
	"github.com/aniiisha-23/alertiq/internal/metrics"
	"github.com/aniiisha-23/alertiq/internal/model"
	"github.com/aniiisha-23/alertiq/internal/processor"
	"github.com/aniiisha-23/alertiq/internal/retry"
	"github.com/aniiisha-23/alertiq/internal/scheduler"
	"github.com/aniiisha-23/alertiq/internal/sender"
	"github.com/aniiisha-23/alertiq/internal/server"
)

// App wires configuration into the triage pipeline and runs it in one
// of the CLI modes.
type App struct {
	cfg *config.Config
}

// New loads and validates configuration and configures logging.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	setupLogging(&cfg.Log)
	return &App{cfg: cfg}, nil
}

func setupLogging(cfg *config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}
}

// components holds the assembled pipeline and its closable resources.
type components struct {
	ledger    *ledger.Ledger
	oracle    *analyzer.GeminiOracle
	source    fetcher.Fetcher
	sink      sender.Sender
	registry  *prometheus.Registry
	processor *processor.Processor
}

func (c *components) Close() {
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			logrus.Errorf("Failed to close mail source: %v", err)
		}
	}
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			logrus.Errorf("Failed to close mail sink: %v", err)
		}
	}
	if c.oracle != nil {
		if err := c.oracle.Close(); err != nil {
			logrus.Errorf("Failed to close classifier: %v", err)
		}
	}
}

func (a *App) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = a.cfg.Processing.RetryAttempts
	p.InitialDelay = a.cfg.Processing.RetryDelay()
	return p
}

func (a *App) newFetcher(ctx context.Context) (fetcher.Fetcher, error) {
	if a.cfg.Gmail.UseIMAP {
		f, err := fetcher.NewIMAPFetcher(&a.cfg.Gmail)
		if err != nil {
			return nil, fmt.Errorf("failed to create IMAP fetcher: %w", err)
		}
		logrus.Info("Using IMAP for email fetching")
		return f, nil
	}
	f, err := fetcher.NewGmailFetcher(ctx, &a.cfg.Gmail)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail API fetcher: %w", err)
	}
	logrus.Info("Using Gmail API for email fetching")
	return f, nil
}

func (a *App) build(ctx context.Context, dryRun bool) (*components, error) {
	c := &components{}

	l, err := ledger.Open(a.cfg.Ledger.Path, a.cfg.Ledger.AllowReset)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	c.ledger = l

	c.oracle, err = analyzer.NewGeminiOracle(ctx, &a.cfg.Gemini)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c.source, err = a.newFetcher(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.sink = sender.NewSMTPSender(&a.cfg.SMTP)

	routes, err := a.cfg.Teams.Routes()
	if err != nil {
		c.Close()
		return nil, err
	}

	classifier := analyzer.New(c.oracle, a.cfg.Gemini.RequestsPerMinute, a.retryPolicy())

	c.registry = prometheus.NewRegistry()
	m := metrics.New(c.registry)

	c.processor, err = processor.New(l, classifier, c.source, c.sink, routes, m, processor.Options{
		MaxBatchSize:       a.cfg.Processing.MaxBatchSize,
		Retry:              a.retryPolicy(),
		MaxMessageAttempts: a.cfg.Processing.MaxMessageAttempts,
		DryRun:             dryRun,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// RunOnce executes a single triage pass and returns its stats.
func (a *App) RunOnce(ctx context.Context, dryRun bool) (model.RunStats, error) {
	c, err := a.build(ctx, dryRun)
	if err != nil {
		return model.RunStats{}, err
	}
	defer c.Close()

	return c.processor.RunOnce(ctx)
}

// RunDaemon runs the scheduler and admin HTTP server until SIGINT or
// SIGTERM. intervalMinutes > 0 overrides the configured interval.
func (a *App) RunDaemon(ctx context.Context, intervalMinutes int) error {
	c, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer c.Close()

	if intervalMinutes <= 0 {
		intervalMinutes = a.cfg.Processing.IntervalMinutes
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	sched := scheduler.New(interval, c.processor)

	srv := server.New(":"+a.cfg.Server.Port, c.ledger, sched, c.registry)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Admin server shutdown error: %v", err)
	}

	logrus.Info("Stopped gracefully")
	return nil
}

// TestConnections probes every external dependency and reports the
// result of each. It returns an error if any probe failed.
func (a *App) TestConnections(ctx context.Context) error {
	failures := 0

	probe := func(name string, fn func() error) {
		if err := fn(); err != nil {
			failures++
			fmt.Printf("  %-12s FAIL: %v\n", name, err)
			return
		}
		fmt.Printf("  %-12s OK\n", name)
	}

	probe("ledger", func() error {
		l, err := ledger.Open(a.cfg.Ledger.Path, a.cfg.Ledger.AllowReset)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %d records at %s\n", "", l.Stats(time.Time{}).Total, l.Path())
		return nil
	})

	probe("mail source", func() error {
		f, err := a.newFetcher(ctx)
		if err != nil {
			return err
		}
		defer f.Close()
		v, ok := f.(interface{ Verify(context.Context) error })
		if !ok {
			return nil
		}
		return v.Verify(ctx)
	})

	probe("classifier", func() error {
		oracle, err := analyzer.NewGeminiOracle(ctx, &a.cfg.Gemini)
		if err != nil {
			return err
		}
		defer oracle.Close()
		_, err = oracle.Complete(ctx, "Reply with the single word: ok")
		return err
	})

	probe("mail sink", func() error {
		s := sender.NewSMTPSender(&a.cfg.SMTP)
		defer s.Close()
		return s.Verify(ctx)
	})

	if failures > 0 {
		return fmt.Errorf("%d connection test(s) failed", failures)
	}
	return nil
}

// Stats returns ledger statistics for records processed at or after
// since; the zero time covers the whole ledger.
func (a *App) Stats(since time.Time) (ledger.Summary, error) {
	l, err := ledger.Open(a.cfg.Ledger.Path, a.cfg.Ledger.AllowReset)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l.Stats(since), nil
}

// Cleanup prunes ledger records older than keepDays and returns the
// number removed. keepDays <= 0 uses the configured retention.
func (a *App) Cleanup(keepDays int) (int, error) {
	if keepDays <= 0 {
		keepDays = a.cfg.Processing.RetentionDays
	}

	l, err := ledger.Open(a.cfg.Ledger.Path, a.cfg.Ledger.AllowReset)
	if err != nil {
		return 0, fmt.Errorf("failed to open ledger: %w", err)
	}

	removed, err := l.Prune(time.Duration(keepDays) * 24 * time.Hour)
	if err != nil {
		return 0, err
	}

	logrus.Infof("Pruned %d ledger records older than %d days", removed, keepDays)
	return removed, nil
}
