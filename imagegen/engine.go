package imagegen

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pictora/pictora/internal/metrics"
	"github.com/pictora/pictora/types"
)

// Engine orchestrates the full generation path: normalize, cache lookup,
// registry dispatch, retry execution, cache store. Identical concurrent
// requests are collapsed onto one provider call via singleflight.
type Engine struct {
	registry   *Registry
	normalizer *Normalizer
	cache      *ResultCache
	retry      RetryConfig
	group      singleflight.Group
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewEngine wires an Engine. The collector may be nil to disable metrics.
func NewEngine(registry *Registry, normalizer *Normalizer, cache *ResultCache,
	retry RetryConfig, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:   registry,
		normalizer: normalizer,
		cache:      cache,
		retry:      retry,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "engine")),
	}
}

// Generate runs a caller-triggered generation through the cached path.
// A cache hit short-circuits without any provider call.
func (e *Engine) Generate(ctx context.Context, modelID string, p Params) (*Result, error) {
	client, cfg, err := e.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	norm, err := e.normalizer.Normalize(p, &cfg)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(&norm.Request)
	if cached, ok := e.cache.Get(fp); ok {
		e.metrics.RecordCacheHit("result")
		e.logger.Debug("cache hit", zap.String("model", modelID), zap.String("fingerprint", fp))
		return finishResult(cached, norm), nil
	}
	e.metrics.RecordCacheMiss("result")

	v, err, shared := e.group.Do(fp, func() (any, error) {
		return e.execute(ctx, client, &norm.Request)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	if shared {
		e.logger.Debug("request collapsed onto in-flight call", zap.String("fingerprint", fp))
	}

	e.cache.Put(fp, res)
	return finishResult(res, norm), nil
}

// GenerateUncached runs the normalizer, dispatcher, and retry stack
// directly, bypassing both the cache and request collapsing. Used by the
// selfie scheduler, where every run is intentionally unique.
func (e *Engine) GenerateUncached(ctx context.Context, modelID string, p Params) (*Result, error) {
	client, cfg, err := e.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	norm, err := e.normalizer.Normalize(p, &cfg)
	if err != nil {
		return nil, err
	}

	res, err := e.execute(ctx, client, &norm.Request)
	if err != nil {
		return nil, err
	}
	return finishResult(res, norm), nil
}

func (e *Engine) execute(ctx context.Context, client Client, req *Request) (*Result, error) {
	start := time.Now()
	rc := NewRetryableClient(client, e.retry, e.logger)
	res, err := rc.Generate(ctx, req)

	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordGeneration(client.Format(), string(req.Mode), status, time.Since(start))

	if err != nil {
		return nil, err
	}
	if res == nil || !res.HasImage() {
		return nil, types.NewError(types.ErrNoImageFound, "provider returned no image payload").
			WithProvider(client.Format())
	}
	if res.Mode == "" {
		res.Mode = req.Mode
	}
	if res.Provider == "" {
		res.Provider = client.Format()
	}
	return res, nil
}

// finishResult copies a result and stamps the per-call signals that must
// not leak into shared cache entries.
func finishResult(res *Result, norm *Normalized) *Result {
	out := *res
	out.Img2ImgDowngraded = norm.Img2ImgDowngraded
	out.RecallDelay = RecallDelay(norm.Model)
	return &out
}
