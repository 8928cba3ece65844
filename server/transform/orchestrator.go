// Package transform runs the message transformation pipeline: quote bypass,
// rate limiting, cache lookup, the provider call with retries, quote
// preservation, history and cache updates.
package transform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/cache"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/history"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/ratelimit"
)

// Completer sends one prompt to the language model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	HasCredentials() bool
	Name() string
}

// settings is the reloadable part of the configuration.
type settings struct {
	fallback         bool
	failureMessage   string
	systemPrompt     string
	requestTimeout   time.Duration
	retries          int
	retryBase        time.Duration
	rateLimit        bool
	cacheEnabled     bool
	maxContextTokens int
	previewLength    int
	sweepInterval    time.Duration
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		fallback:         cfg.Transform.EnableFallback,
		failureMessage:   cfg.Transform.FailureMessage,
		systemPrompt:     cfg.Transform.SystemPrompt,
		requestTimeout:   cfg.Transform.RequestTimeout,
		retries:          cfg.LLM.RetryAttempts,
		retryBase:        cfg.LLM.RetryBaseDelay,
		rateLimit:        cfg.RateLimit.Enabled,
		cacheEnabled:     cfg.Cache.Enabled,
		maxContextTokens: cfg.Transform.MaxContextTokens,
		previewLength:    cfg.Transform.PreviewLength,
		sweepInterval:    cfg.Cache.SweepInterval,
	}
}

// Orchestrator owns the shared pipeline state. All methods are safe for
// concurrent use.
type Orchestrator struct {
	catalog  *filter.Catalog
	assigner *assign.Assigner
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	history  *history.History
	prompts  *promptBuilder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	group    singleflight.Group
	pool     *pool
	sleep    func(context.Context, time.Duration) error

	mu        sync.RWMutex
	settings  settings
	completer Completer

	ctx       context.Context
	cancel    context.CancelFunc
	sweepers  sync.WaitGroup
	closeOnce sync.Once
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	store    cache.Store
	metrics  *metrics.Metrics
	tokens   TokenCounter
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	assigner *assign.Assigner
}

// WithCacheStore sets the cache backend. The default is in memory.
func WithCacheStore(s cache.Store) Option {
	return func(o *options) { o.store = s }
}

// WithAssigner picks filters for requests that name none.
func WithAssigner(a *assign.Assigner) Option {
	return func(o *options) { o.assigner = a }
}

// WithMetrics reports pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTokenCounter sets the counter used to trim conversation context.
// The default estimates four runes per token.
func WithTokenCounter(tc TokenCounter) Option {
	return func(o *options) { o.tokens = tc }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithClock replaces time.Now in the limiter, cache and history, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an orchestrator and starts its workers.
func New(cfg *config.Config, catalog *filter.Catalog, completer Completer, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{tokens: EstimateCounter{}, sleep: sleepContext, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = cache.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		catalog:   catalog,
		assigner:  o.assigner,
		limiter:   ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Window, ratelimit.WithClock(o.now)),
		cache:     cache.New(o.store, cfg.Cache.TTL, cache.WithClock(o.now), cache.WithLogger(logger)),
		history:   history.New(cfg.History.Capacity, cfg.History.StaleAfter, history.WithClock(o.now)),
		prompts:   newPromptBuilder(o.tokens),
		metrics:   o.metrics,
		logger:    logger,
		pool:      newPool(cfg.Transform.Workers, cfg.Transform.QueueSize),
		sleep:     o.sleep,
		settings:  settingsFrom(cfg),
		completer: completer,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (o *Orchestrator) current() (settings, Completer) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings, o.completer
}

// Reload applies a new configuration. A nil completer keeps the current
// one. Worker count, queue size and the rate window need a restart.
func (o *Orchestrator) Reload(cfg *config.Config, completer Completer) {
	o.mu.Lock()
	o.settings = settingsFrom(cfg)
	if completer != nil {
		o.completer = completer
	}
	o.mu.Unlock()

	o.limiter.SetLimit(cfg.RateLimit.RequestsPerMinute)
	o.cache.SetTTL(cfg.Cache.TTL)
	o.history.SetLimits(cfg.History.Capacity, cfg.History.StaleAfter)
	if o.assigner != nil {
		if err := o.assigner.Apply(cfg.Assign); err != nil {
			o.logger.Warn("failed to apply assignment settings", zap.Error(err))
		}
	}
	o.logger.Info("transformation settings reloaded")
}

// Transform queues req and returns its future. When the queue is full the
// future resolves at once through the failure path.
func (o *Orchestrator) Transform(req Request) *Future {
	f := newFuture()
	ok := o.pool.submit(func() {
		f.resolve(o.Run(o.ctx, req))
	})
	o.setQueueDepth()
	if !ok {
		s, _ := o.current()
		if err := o.ctx.Err(); err != nil {
			return resolved(o.fail(s, req, errors.NewInterruptedError(err)))
		}
		return resolved(o.fail(s, req, errors.NewOverloadedError(ErrQueueFull)))
	}
	return f
}

// TransformByName resolves filterName in the catalog and queues the
// request. An empty filterName lets the assigner choose.
func (o *Orchestrator) TransformByName(identity, message, filterName string) (*Future, error) {
	if strings.TrimSpace(filterName) == "" {
		return o.TransformAssigned(identity, message)
	}
	def, ok := o.catalog.Get(filterName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", filter.ErrNotFound, filterName)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrFilterDisabled, def.Name)
	}
	return o.Transform(Request{Identity: identity, Message: message, Filter: def}), nil
}

// TransformAssigned queues message with the filter the assigner picks for
// identity. When identity is not filtered the message is recorded in its
// history and returned unchanged.
func (o *Orchestrator) TransformAssigned(identity, message string) (*Future, error) {
	if o.assigner == nil {
		return nil, ErrFilterRequired
	}
	def, err := o.assigner.Resolve(identity)
	if assign.Unfiltered(err) {
		o.RecordHistory(identity, message, false)
		if o.metrics != nil {
			o.metrics.Transformations.WithLabelValues("", string(OutcomeUnfiltered)).Inc()
		}
		o.logger.Debug("message left unfiltered", zap.String("identity", identity), zap.Error(err))
		return resolved(Result{Message: message, Outcome: OutcomeUnfiltered}), nil
	}
	if err != nil {
		return nil, err
	}
	return o.Transform(Request{Identity: identity, Message: message, Filter: def}), nil
}

// RecordHistory stores a message seen while filtering is off for identity,
// so later transformations still get context.
func (o *Orchestrator) RecordHistory(identity, message string, transformed bool) {
	if strings.TrimSpace(message) == "" {
		return
	}
	o.history.Append(identity, message, transformed)
}

// Run executes the pipeline synchronously.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	res := o.run(ctx, req)
	res.Filter = req.Filter.Name
	if o.metrics != nil {
		o.metrics.Transformations.WithLabelValues(req.Filter.Name, string(res.Outcome)).Inc()
		o.metrics.TransformationDuration.WithLabelValues(string(res.Outcome)).Observe(time.Since(start).Seconds())
		if res.FollowUp != "" {
			o.metrics.FollowUps.Inc()
		}
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, req Request) Result {
	s, completer := o.current()
	message := req.Message

	if strings.TrimSpace(message) == "" {
		return Result{Message: message, Outcome: OutcomeEmpty}
	}

	if text, ok := Bypass(message); ok {
		return Result{Message: text, Outcome: OutcomeBypassed}
	}

	if s.rateLimit && !o.limiter.TryAcquire(req.Identity) {
		o.logger.Debug("rate limited, sending original message", zap.String("identity", req.Identity))
		if o.metrics != nil {
			o.metrics.RateLimitHits.WithLabelValues("identity").Inc()
		}
		return Result{Message: message, Outcome: OutcomeRateLimited}
	}

	// The context is read once so the cache key and the prompt agree.
	recent := o.history.RecentOriginals(req.Identity)
	key := cache.Key(message, req.Filter.Name, history.HashOf(recent))

	var transformed string
	cached := false
	if s.cacheEnabled {
		transformed, cached = o.cache.Get(ctx, key)
		o.observeCache(cached)
	}

	if !cached {
		text, err := o.callProvider(ctx, s, completer, req, key, recent)
		if err != nil {
			return o.fail(s, req, err)
		}
		transformed = text
	}

	res := Result{Message: transformed, Outcome: OutcomeTransformed}
	if cached {
		res.Outcome = OutcomeCached
	}
	res.FollowUp = FollowUp(req.Identity, message, transformed, s.previewLength)

	o.history.Append(req.Identity, message, false)
	o.history.Append(req.Identity, transformed, true)

	if s.cacheEnabled && !cached {
		o.cache.Put(ctx, key, transformed)
	}
	return res
}

// callProvider builds the prompt and calls the model. Concurrent misses for
// the same key share one call.
func (o *Orchestrator) callProvider(ctx context.Context, s settings, completer Completer, req Request, key string, recent []string) (string, error) {
	if completer == nil || !completer.HasCredentials() {
		name := ""
		if completer != nil {
			name = completer.Name()
		}
		return "", errors.NewNoCredentialsError(name)
	}

	prompt, err := o.prompts.Build(req.Filter, req.Message, recent, s.maxContextTokens)
	if err != nil {
		return "", errors.NewInternalError("", err)
	}

	v, err, shared := o.group.Do(key, func() (interface{}, error) {
		callCtx := ctx
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}
		return o.completeWithRetry(callCtx, s, completer, prompt)
	})
	if shared && o.metrics != nil {
		o.metrics.Deduplicated.Inc()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// completeWithRetry makes up to retries+1 attempts. Retryable failures wait
// base * 2^attempt before the next try; the wait ends early with ctx.
func (o *Orchestrator) completeWithRetry(ctx context.Context, s settings, completer Completer, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, backoff(s.retryBase, attempt-1)); err != nil {
				return "", errors.FromContext(err)
			}
		}

		text, err := completer.Complete(ctx, s.systemPrompt, prompt)
		o.observeAttempt(err)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return "", err
		}
		o.logger.Warn("provider attempt failed",
			zap.String("provider", completer.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.retries+1),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Error(err),
		)
	}
	return "", lastErr
}

// fail resolves a failed request to the original message or the failure
// text. The cause is kept for callers; provider bodies only reach the log.
func (o *Orchestrator) fail(s settings, req Request, err error) Result {
	cause := errors.TypeOf(err)
	o.logger.Error("transformation failed",
		zap.String("identity", req.Identity),
		zap.String("filter", req.Filter.Name),
		zap.String("error_type", string(cause)),
		zap.Bool("fallback", s.fallback),
		zap.Error(err),
	)
	if s.fallback {
		return Result{Message: req.Message, Outcome: OutcomeFallback, Cause: cause}
	}
	return Result{Message: s.failureMessage, Outcome: OutcomeFailed, Cause: cause}
}

// Start runs the periodic sweep of expired cache entries, stale histories
// and idle rate windows until ctx ends or Close is called.
func (o *Orchestrator) Start(ctx context.Context) {
	s, _ := o.current()
	interval := s.sweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	o.sweepers.Add(1)
	go func() {
		defer o.sweepers.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.Sweep(ctx)
			}
		}
	}()
}

// Sweep removes expired and idle state once.
func (o *Orchestrator) Sweep(ctx context.Context) {
	evicted := o.cache.Sweep(ctx)
	stale := o.history.Sweep()
	idle := o.limiter.Sweep()
	var forgotten int
	if o.assigner != nil {
		forgotten = o.assigner.Sweep()
	}
	if o.metrics != nil {
		o.metrics.CacheEvictions.Add(float64(evicted))
	}
	o.logger.Debug("sweep finished",
		zap.Int("cache_evicted", evicted),
		zap.Int("histories_removed", stale),
		zap.Int("rate_windows_removed", idle),
		zap.Int("identities_forgotten", forgotten),
	)
}

// Close interrupts in-flight work, resolves queued futures and closes the
// cache store. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.cancel()
		o.pool.close()
		o.sweepers.Wait()
		err = o.cache.Close()
	})
	return err
}

// Limiter, Cache and History expose the shared state for inspection.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }
func (o *Orchestrator) Cache() *cache.Cache           { return o.cache }
func (o *Orchestrator) History() *history.History     { return o.history }

// Assigner returns the filter assigner, or nil when requests must name a
// filter.
func (o *Orchestrator) Assigner() *assign.Assigner { return o.assigner }

// ProviderName returns the name of the active completer.
func (o *Orchestrator) ProviderName() string {
	_, c := o.current()
	if c == nil {
		return ""
	}
	return c.Name()
}

func (o *Orchestrator) observeCache(hit bool) {
	if o.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	o.metrics.CacheLookups.WithLabelValues(result).Inc()
}

func (o *Orchestrator) observeAttempt(err error) {
	if o.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(errors.TypeOf(err))
	}
	o.metrics.ProviderAttempts.WithLabelValues(result).Inc()
}

func (o *Orchestrator) setQueueDepth() {
	if o.metrics != nil {
		o.metrics.QueueDepth.Set(float64(o.pool.depth()))
	}
}
