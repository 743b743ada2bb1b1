package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/arathald/mbox-to-pdf/cmd"
	"github.com/arathald/mbox-to-pdf/config"
	"github.com/arathald/mbox-to-pdf/handler"
	"github.com/arathald/mbox-to-pdf/mbox"
	"github.com/arathald/mbox-to-pdf/progress"
	"github.com/arathald/mbox-to-pdf/runner"
)

var errConversionFailed = errors.New("conversion finished with errors")

func main() {
	rootCmd := &cobra.Command{
		Use:          "mbox-to-pdf [mbox file...]",
		Short:        "Convert mbox archives into paginated, print-ready documents grouped by period",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mbox-to-pdf", "mbox", cfg.MboxPaths, "output", cfg.OutputDir, "groupBy", cfg.GroupBy)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewInspectCmd(slog.Default))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	limits := handler.DefaultLimits()
	limits.MaxSize = cfg.MaxAttachmentSize
	limits.Timeout = cfg.AttachmentTimeout

	r, err := runner.New(runner.Options{
		Strategy:          cfg.GroupBy,
		Workers:           cfg.Workers,
		Limits:            limits,
		PageLines:         cfg.LinesPerPage,
		MaxPagesPerFile:   cfg.MaxPagesPerFile,
		IncludeRawHeaders: cfg.IncludeRawHeaders,
		Force:             cfg.Force,
		Filter:            cfg.Filter(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	sources := make([]mbox.Reader, 0, len(cfg.MboxPaths))
	for _, path := range cfg.MboxPaths {
		// One byte past the ceiling is kept so oversize parts are still detected.
		reader, err := mbox.NewReader(mbox.Options{Path: path, MaxPartSize: cfg.MaxAttachmentSize + 1}, logger)
		if err != nil {
			return fmt.Errorf("mbox.NewReader: %w", err)
		}
		sources = append(sources, reader)
	}

	bar := progress.New(!cfg.NoProgress && cfg.LogLevel == "info")
	res := r.Convert(ctx, sources, cfg.OutputDir, bar.Update)
	bar.Stop()

	progress.PrintSummary(res, bar.Elapsed())

	if !res.Success {
		return errConversionFailed
	}
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbox-to-pdf-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		h := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(h), cleanup, nil
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts)), cleanup, nil
}
