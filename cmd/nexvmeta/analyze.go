package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/imaging"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/setup"
	"nexvmeta/internal/storage"
)

type analyzeFlags struct {
	platform   string
	locale     string
	titleMax   int
	keywordMax int
	delay      time.Duration
	upload     bool
}

// fileResult is one line of the analyze output.
type fileResult struct {
	File   string                 `json:"file"`
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

func newAnalyzeCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <files...>",
		Short: "Analyze images one after another and print JSON results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger := infra.NewLogger(cfg.AppEnv).Output(os.Stderr)
			if !cmd.Flags().Changed("delay") {
				flags.delay = cfg.QueueItemDelay
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, runner, err := setup.Database(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			var uploader storage.Uploader
			if flags.upload {
				if uploader, err = setup.Storage(ctx, cfg); err != nil {
					return err
				}
			}
			orch, err := setup.Orchestrator(ctx, cfg, &logger, setup.Credentials(runner), uploader)
			if err != nil {
				return err
			}
			settings := domain.ConstraintSettings{
				TitleMax:       flags.titleMax,
				KeywordMax:     flags.keywordMax,
				TargetPlatform: flags.platform,
			}
			failed := analyzeFiles(ctx, orch, args, settings, flags.locale, flags.delay, cmd.OutOrStdout())
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.platform, "platform", "", "Target stock platform (adobe, shutterstock, ...)")
	cmd.Flags().StringVar(&flags.locale, "locale", "en", "Metadata language")
	cmd.Flags().IntVar(&flags.titleMax, "title-max", 0, "Maximum title length in characters (0 = default)")
	cmd.Flags().IntVar(&flags.keywordMax, "keyword-max", 0, "Maximum keyword count (0 = default)")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "Pause between files (defaults to QUEUE_ITEM_DELAY_MS)")
	cmd.Flags().BoolVar(&flags.upload, "upload", false, "Upload each image to the configured storage first")
	return cmd
}

// analyzeFiles runs the files in order, writing one JSON object per line,
// and returns the number of failures.
func analyzeFiles(ctx context.Context, a analyzer, paths []string, settings domain.ConstraintSettings, locale string, delay time.Duration, out io.Writer) int {
	enc := json.NewEncoder(out)
	failed := 0
	for i, path := range paths {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
		res := fileResult{File: path}
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
		} else if result, err := analyzeFile(ctx, a, path, settings, locale); err != nil {
			res.Error = err.Error()
		} else {
			res.Result = result
		}
		if res.Error != "" {
			failed++
		}
		_ = enc.Encode(res)
	}
	return failed
}

func analyzeFile(ctx context.Context, a analyzer, path string, settings domain.ConstraintSettings, locale string) (*domain.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, domain.AnalysisRequest{
		Image:    domain.ImageRef{Data: data, MIMEType: imaging.DetectMIME(data)},
		Filename: filepath.Base(path),
		Settings: settings,
		Locale:   locale,
	})
}
