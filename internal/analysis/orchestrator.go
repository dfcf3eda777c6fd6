package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/metrics"
	"nexvmeta/internal/providers/model"
	"nexvmeta/internal/storage"
)

// Shape selects how many model calls one analysis makes.
type Shape string

const (
	ShapeSingle   Shape = "single"
	ShapePipeline Shape = "pipeline"
)

// PassStrategy selects how pipeline passes are issued.
type PassStrategy string

const (
	PassConcurrent PassStrategy = "concurrent"
	PassSequential PassStrategy = "sequential"
)

const (
	passForensic      = "forensic"
	passPromptReverse = "prompt_reverse"
	passSafety        = "safety"
	passSynthesis     = "synthesis"
	passCombined      = "combined"

	defaultPassDelay = 2 * time.Second
)

var passOrder = []string{passForensic, passPromptReverse, passSafety}

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Options wires an Orchestrator. Caller is required.
type Options struct {
	Caller model.Caller
	// SynthesisCaller and SynthesisModel default to Caller and its own model.
	SynthesisCaller model.Caller
	SynthesisModel  string
	Uploader        Uploader
	// PreferURL sends the uploaded URL to the model instead of inline bytes.
	PreferURL    bool
	Shape        Shape
	PassStrategy PassStrategy
	PassDelay    time.Duration
	Retry        RetryPolicy
	Temperature  float32
	Logger       *infra.Logger
}

// Orchestrator runs upload, model calls, extraction, retries and constraint
// enforcement for one image. It holds no per-request state.
type Orchestrator struct {
	caller       model.Caller
	synthCaller  model.Caller
	synthModel   string
	uploader     Uploader
	preferURL    bool
	shape        Shape
	passStrategy PassStrategy
	passDelay    time.Duration
	policy       RetryPolicy
	temperature  float32
	logger       *infra.Logger
}

// NewOrchestrator validates opts and fills defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Caller == nil {
		return nil, domain.ErrNoCaller
	}
	o := &Orchestrator{
		caller:       opts.Caller,
		synthCaller:  opts.SynthesisCaller,
		synthModel:   strings.TrimSpace(opts.SynthesisModel),
		uploader:     opts.Uploader,
		preferURL:    opts.PreferURL,
		shape:        opts.Shape,
		passStrategy: opts.PassStrategy,
		passDelay:    opts.PassDelay,
		policy:       opts.Retry.withDefaults(),
		temperature:  opts.Temperature,
		logger:       loggerOrDiscard(opts.Logger),
	}
	if o.synthCaller == nil {
		o.synthCaller = o.caller
	}
	switch o.shape {
	case ShapeSingle, ShapePipeline:
	case "":
		o.shape = ShapeSingle
	default:
		return nil, fmt.Errorf("unknown analysis shape %q", o.shape)
	}
	switch o.passStrategy {
	case PassConcurrent, PassSequential:
	case "":
		o.passStrategy = PassConcurrent
	default:
		return nil, fmt.Errorf("unknown pass strategy %q", o.passStrategy)
	}
	if o.passDelay < 0 {
		o.passDelay = 0
	} else if o.passDelay == 0 && o.passStrategy == PassSequential {
		o.passDelay = defaultPassDelay
	}
	if o.temperature <= 0 {
		o.temperature = 0.4
	}
	return o, nil
}

// Shape reports the configured call shape.
func (o *Orchestrator) Shape() Shape { return o.shape }

// Analyze produces constrained metadata for one image. Failures surface as
// *domain.StorageError, *domain.AnalysisFailedError or a context error.
func (o *Orchestrator) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	start := time.Now()
	result, err := o.analyze(ctx, req)
	metrics.ObserveAnalysis(time.Since(start), err)
	return result, err
}

func (o *Orchestrator) analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	if req.Image.Empty() {
		return nil, fmt.Errorf("%w: no image data or url", domain.ErrInvalidImage)
	}
	settings := req.Settings.WithDefaults()
	logger := o.logger.With().Str("image", coalesce(req.Filename, req.Image.URL, "inline")).Str("shape", string(o.shape)).Logger()

	// A URL next to inline bytes means the caller already stored the image.
	image := req.Image
	if image.Inline() && image.URL == "" && o.uploader != nil {
		name := storage.ObjectName(req.Filename, image.MIMEType)
		url, err := o.uploader.Upload(ctx, name, image.Data, image.MIMEType)
		if err != nil {
			logger.Error().Err(err).Str("object", name).Msg("analysis: upload failed")
			return nil, err
		}
		image.URL = url
		logger.Debug().Str("object", name).Str("url", url).Msg("analysis: image uploaded")
	}
	publicURL := image.URL
	if o.preferURL && image.URL != "" {
		image = domain.ImageRef{URL: image.URL, MIMEType: image.MIMEType}
	}

	var (
		result   *domain.AnalysisResult
		unscored int
		err      error
	)
	switch o.shape {
	case ShapePipeline:
		result, unscored, err = o.runPipeline(ctx, &image, settings, req.Locale)
	default:
		result, unscored, err = o.runCombined(ctx, &image, settings, req.Locale)
	}
	if err != nil {
		logger.Error().Err(err).Msg("analysis: failed")
		return nil, err
	}
	if unscored > 0 {
		logger.Warn().Int("unscored_keywords", unscored).Int("keywords", len(result.Keywords)).Msg("analysis: model omitted keyword relevance")
	}
	result.ImageURL = publicURL
	constrained := EnforceConstraints(*result, settings)
	logger.Info().
		Int("title_len", len([]rune(constrained.Title))).
		Int("keywords", len(constrained.Keywords)).
		Int("quality_score", constrained.QualityScore).
		Msg("analysis: done")
	return &constrained, nil
}

func (o *Orchestrator) runCombined(ctx context.Context, image *domain.ImageRef, s domain.ConstraintSettings, locale string) (*domain.AnalysisResult, int, error) {
	call := model.Call{
		SystemPrompt: systemPrompt,
		Prompt:       combinedPrompt(s, locale),
		Image:        image,
		JSON:         true,
		Schema:       resultSchema(),
		Temperature:  o.temperature,
		Label:        passCombined,
	}
	return o.callResult(ctx, o.caller, call)
}

func (o *Orchestrator) runPipeline(ctx context.Context, image *domain.ImageRef, s domain.ConstraintSettings, locale string) (*domain.AnalysisResult, int, error) {
	outputs, err := o.runPasses(ctx, image, s)
	if err != nil {
		return nil, 0, err
	}
	call := model.Call{
		SystemPrompt: systemPrompt,
		Prompt:       synthesisPrompt(s, locale, outputs),
		JSON:         true,
		Schema:       resultSchema(),
		Temperature:  o.temperature,
		Model:        o.synthModel,
		Label:        passSynthesis,
	}
	result, unscored, err := o.callResult(ctx, o.synthCaller, call)
	if err != nil {
		return nil, 0, err
	}
	if result.Safety == nil {
		if raw, ok := outputs[passSafety]; ok {
			if verdict, err := ParseJSON[safetyPayload](raw); err == nil {
				result.Safety = verdict.verdict()
			}
		}
	}
	if len(result.Prompts) == 0 {
		if raw, ok := outputs[passPromptReverse]; ok {
			if p, err := ParseJSON[modelPayload](raw); err == nil {
				result.Prompts = promptStrings(p.Prompts)
			}
		}
	}
	return result, unscored, nil
}

// runPasses issues the image passes. A failed pass is dropped; the pipeline
// fails only when every pass failed.
func (o *Orchestrator) runPasses(ctx context.Context, image *domain.ImageRef, s domain.ConstraintSettings) (map[string]string, error) {
	prompts := map[string]string{
		passForensic:      forensicPrompt(),
		passPromptReverse: promptReversePrompt(),
		passSafety:        safetyPrompt(s.TargetPlatform),
	}
	var (
		mu       sync.Mutex
		outputs  = make(map[string]string, len(passOrder))
		firstErr error
	)
	runOne := func(ctx context.Context, name string) error {
		call := model.Call{
			SystemPrompt: systemPrompt,
			Prompt:       prompts[name],
			Image:        image,
			JSON:         true,
			Temperature:  o.temperature,
			Label:        name,
		}
		out, err := o.callJSON(ctx, o.caller, call)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn().Err(err).Str("pass", name).Msg("analysis: pass dropped")
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		outputs[name] = out
		return nil
	}

	if o.passStrategy == PassSequential {
		for i, name := range passOrder {
			if i > 0 {
				if err := o.policy.Sleep(ctx, o.passDelay); err != nil {
					return nil, err
				}
			}
			if err := runOne(ctx, name); err != nil {
				return nil, err
			}
		}
	} else {
		var g errgroup.Group
		for _, name := range passOrder {
			g.Go(func() error { return runOne(ctx, name) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if len(outputs) == 0 {
		return nil, firstErr
	}
	return outputs, nil
}

// callResult retries call + decode so malformed replies are retried too.
func (o *Orchestrator) callResult(ctx context.Context, caller model.Caller, call model.Call) (*domain.AnalysisResult, int, error) {
	type decoded struct {
		result   domain.AnalysisResult
		unscored int
	}
	out, err := Retry(ctx, o.retryPolicy(caller.Name(), call.Label), func(ctx context.Context, attempt int) (decoded, error) {
		reply, err := o.invoke(ctx, caller, call)
		if err != nil {
			return decoded{}, err
		}
		result, unscored, err := decodeResult(reply.Text)
		if err != nil {
			return decoded{}, err
		}
		result.Provider = reply.Provider
		result.Model = reply.Model
		return decoded{result: result, unscored: unscored}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &out.result, out.unscored, nil
}

// callJSON retries call + extraction and returns the JSON fragment.
func (o *Orchestrator) callJSON(ctx context.Context, caller model.Caller, call model.Call) (string, error) {
	return Retry(ctx, o.retryPolicy(caller.Name(), call.Label), func(ctx context.Context, attempt int) (string, error) {
		reply, err := o.invoke(ctx, caller, call)
		if err != nil {
			return "", err
		}
		return ExtractJSON(reply.Text)
	})
}

func (o *Orchestrator) invoke(ctx context.Context, caller model.Caller, call model.Call) (*model.Reply, error) {
	start := time.Now()
	reply, err := caller.Call(ctx, call)
	metrics.ObserveModelCall(caller.Name(), call.Label, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if rl := reply.RateLimit; rl != nil && rl.RemainingRequests >= 0 {
		o.logger.Debug().Str("provider", reply.Provider).Int("remaining_requests", rl.RemainingRequests).Dur("reset_requests", rl.ResetRequests).Msg("analysis: provider rate limit")
	}
	return reply, nil
}

func (o *Orchestrator) retryPolicy(provider, label string) RetryPolicy {
	p := o.policy
	inner := p.OnRetry
	p.OnRetry = func(state RetryState) {
		metrics.ObserveRetry(state.LastClass)
		o.logger.Warn().
			Err(state.LastErr).
			Str("provider", provider).
			Str("pass", label).
			Int("attempt", state.Attempt).
			Str("class", string(state.LastClass)).
			Dur("wait", state.Wait).
			Msg("analysis: retrying model call")
		if inner != nil {
			inner(state)
		}
	}
	return p
}

// IsRateLimited reports whether err ended in a rate-limit classification.
func IsRateLimited(err error) bool {
	return errors.Is(err, domain.ErrRateLimited)
}

func loggerOrDiscard(l *infra.Logger) *infra.Logger {
	if l != nil {
		return l
	}
	discard := infra.Logger(zerolog.New(io.Discard))
	return &discard
}
