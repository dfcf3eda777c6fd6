package queue

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/storage"
)

const (
	DefaultItemDelay    = 2 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Analyzer produces metadata for one image.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// Uploader stores the original image before analysis.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// RunnerOptions wires a Runner. Service and Analyzer are required.
type RunnerOptions struct {
	Service  *Service
	Analyzer Analyzer
	Uploader Uploader
	// ItemDelay is the minimum gap between two items.
	ItemDelay    time.Duration
	PollInterval time.Duration
	Logger       *infra.Logger
}

// Runner processes pending items one at a time, paced by a token bucket with
// one token per ItemDelay.
type Runner struct {
	svc      *Service
	analyzer Analyzer
	uploader Uploader
	limiter  *rate.Limiter
	poll     time.Duration
	logger   *infra.Logger
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Service == nil || opts.Analyzer == nil {
		return nil, errors.New("queue: runner needs a service and an analyzer")
	}
	delay := opts.ItemDelay
	if delay <= 0 {
		delay = DefaultItemDelay
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = opts.Service.logger
	}
	return &Runner{
		svc:      opts.Service,
		analyzer: opts.Analyzer,
		uploader: opts.Uploader,
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		poll:     poll,
		logger:   logger,
	}, nil
}

// Run drains the queue until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().Dur("poll", r.poll).Msg("queue: runner started")
	for {
		processed, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info().Msg("queue: runner stopped")
			return ctx.Err()
		}
		if err != nil {
			r.logger.Error().Err(err).Msg("queue: claim failed")
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("queue: runner stopped")
			return ctx.Err()
		case <-r.svc.Wake():
		case <-time.After(r.poll):
		}
	}
}

// RunOnce waits for the pacing token, then processes the oldest pending item.
// It reports false when nothing was pending.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	item, err := r.svc.repo.ClaimNext(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.process(ctx, item)
	return true, nil
}

func (r *Runner) process(ctx context.Context, item *domain.QueueItem) {
	logger := r.logger.With().Str("item", item.ID).Str("filename", item.Filename).Int("attempt", item.Attempts).Logger()
	r.svc.Notify(ctx)

	if len(item.Data) > 0 && item.ImageURL == "" && r.uploader != nil {
		name := storage.ObjectName(item.Filename, item.MIMEType)
		url, err := r.uploader.Upload(ctx, name, item.Data, item.MIMEType)
		if err != nil {
			r.fail(ctx, item, err)
			logger.Error().Err(err).Msg("queue: upload failed")
			return
		}
		item.ImageURL = url
		item.StorageKey = name
	}

	item.Status = domain.QueueStatusAnalyzing
	if err := r.svc.repo.Update(ctx, item); err != nil {
		logger.Error().Err(err).Msg("queue: update failed")
		return
	}
	r.svc.Notify(ctx)

	result, err := r.analyzer.Analyze(ctx, domain.AnalysisRequest{
		Image:    domain.ImageRef{Data: item.Data, MIMEType: item.MIMEType, URL: item.ImageURL},
		Filename: item.Filename,
		Settings: item.Settings,
		Locale:   item.Locale,
	})
	if err != nil {
		r.fail(ctx, item, err)
		logger.Error().Err(err).Msg("queue: analysis failed")
		return
	}
	if item.ImageURL == "" {
		item.ImageURL = result.ImageURL
	}
	item.Status = domain.QueueStatusDone
	item.Result = result
	item.Error = ""
	item.Data = nil
	if err := r.svc.repo.Update(ctx, item); err != nil {
		logger.Error().Err(err).Msg("queue: update failed")
		return
	}
	logger.Info().Int("keywords", len(result.Keywords)).Msg("queue: item done")
	r.svc.Notify(ctx)
}

func (r *Runner) fail(ctx context.Context, item *domain.QueueItem, cause error) {
	item.Status = domain.QueueStatusError
	item.Error = cause.Error()
	// Record the failure even when ctx was cancelled.
	if err := r.svc.repo.Update(context.WithoutCancel(ctx), item); err != nil {
		r.logger.Error().Err(err).Str("item", item.ID).Msg("queue: update failed")
	}
	r.svc.Notify(context.WithoutCancel(ctx))
}
