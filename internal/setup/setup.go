// Package setup turns a Config into the clients shared by the commands.
package setup

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"nexvmeta/internal/analysis"
	"nexvmeta/internal/domain"
	"nexvmeta/internal/imaging"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/infra/credentials"
	"nexvmeta/internal/providers/model"
	"nexvmeta/internal/queue"
	"nexvmeta/internal/storage"
)

// Storage builds the configured object store.
func Storage(ctx context.Context, cfg *infra.Config) (storage.Uploader, error) {
	return storage.New(ctx, storage.Options{
		Driver:           cfg.StorageDriver,
		Path:             cfg.StoragePath,
		BaseURL:          cfg.StorageBaseURL,
		SupabaseURL:      cfg.SupabaseURL,
		SupabaseKey:      cfg.SupabaseKey,
		SupabaseBucket:   cfg.SupabaseBucket,
		S3Bucket:         cfg.S3Bucket,
		S3Region:         cfg.S3Region,
		S3Endpoint:       cfg.S3Endpoint,
		S3PublicBaseURL:  cfg.S3PublicBaseURL,
		S3AccessKeyID:    cfg.S3AccessKeyID,
		S3SecretKey:      cfg.S3SecretAccessKey,
		AzureAccountName: cfg.AzureAccountName,
		AzureAccountKey:  cfg.AzureAccountKey,
		AzureContainer:   cfg.AzureContainer,
		AzureServiceURL:  cfg.AzureServiceURL,
	})
}

// RetryPolicy builds the retry policy from config. Classification and
// sleeping keep their defaults.
func RetryPolicy(cfg *infra.Config) analysis.RetryPolicy {
	return analysis.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff: analysis.ProviderHintBackoff(
			analysis.FixedBackoff(cfg.RetryRateLimitWait, cfg.RetryTransientWait),
			cfg.RetryBuffer,
		),
	}
}

// Orchestrator builds the model callers for cfg.ModelProvider and wires them
// with the uploader. API keys missing from cfg are read from creds, which may
// be nil.
func Orchestrator(ctx context.Context, cfg *infra.Config, logger *infra.Logger, creds *credentials.Store, uploader storage.Uploader) (*analysis.Orchestrator, error) {
	opts := analysis.Options{
		Uploader:     uploader,
		Shape:        analysis.Shape(cfg.AnalysisShape),
		PassStrategy: analysis.PassStrategy(cfg.PassStrategy),
		PassDelay:    cfg.PassDelay,
		Retry:        RetryPolicy(cfg),
		Logger:       logger,
	}
	switch cfg.ModelProvider {
	case model.ProviderGroq:
		key, err := creds.Resolve(ctx, credentials.ProviderGroq, cfg.GroqAPIKey)
		if err != nil {
			return nil, fmt.Errorf("load groq api key: %w", err)
		}
		caller, err := model.NewGroqCaller(model.GroqOptions{
			APIKey:  key,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
			Logger:  logger,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("groq: warning")
			},
		})
		if err != nil {
			return nil, err
		}
		synth, reason := model.NormalizeGroqModel(cfg.GroqSynthModel)
		if reason == "defaulted" {
			synth = model.DefaultGroqTextModel
		}
		opts.Caller = caller
		opts.SynthesisModel = synth
		// Groq fetches remote images itself.
		opts.PreferURL = uploader != nil
	default:
		key, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("load gemini api key: %w", err)
		}
		caller, err := model.NewGeminiCaller(ctx, model.GeminiOptions{
			APIKey:     key,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			HTTPClient: &http.Client{Timeout: 180 * time.Second},
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Caller = caller
	}
	return analysis.NewOrchestrator(opts)
}

// RemoveBG builds the background-removal client. It is returned even without
// a key; Configured reports whether it can be used.
func RemoveBG(ctx context.Context, cfg *infra.Config, logger *infra.Logger, creds *credentials.Store) *imaging.RemoveBGClient {
	key, err := creds.Resolve(ctx, credentials.ProviderRemoveBG, cfg.RemoveBGAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("removebg: failed to load api key from store")
	}
	return imaging.NewRemoveBGClient(imaging.RemoveBGOptions{
		APIKey: key,
		URL:    cfg.RemoveBGURL,
		Logger: logger,
	})
}

// Database opens the pool when DATABASE_URL is set and creates the queue and
// key tables. Without a URL every return value is nil and the callers fall
// back to in-memory state.
func Database(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*pgxpool.Pool, *infra.SQLRunner, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	runner := infra.NewSQLRunner(pool, *logger)
	if err := queue.NewPostgresStore(runner).Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	return pool, runner, nil
}

// Credentials wraps runner in a key store, or returns nil without a database.
func Credentials(runner *infra.SQLRunner) *credentials.Store {
	if runner == nil {
		return nil
	}
	return credentials.NewStore(runner)
}

// QueueRepository uses Postgres when runner is set and memory otherwise.
func QueueRepository(runner *infra.SQLRunner) domain.QueueRepository {
	if runner == nil {
		return queue.NewMemoryStore()
	}
	return queue.NewPostgresStore(runner)
}
