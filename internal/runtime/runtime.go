// Package runtime owns the write-through scan orchestrator: the state machine
// that sits between callers and the rule engine, backed by the bounded memory
// store and the best-effort durable tier.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prosescan/prosescan/internal/metrics"
	"github.com/prosescan/prosescan/internal/runtime/cache"
	"github.com/prosescan/prosescan/internal/runtime/durable"
	"github.com/prosescan/prosescan/internal/runtime/engine"
)

const (
	defaultCacheTTL       = time.Hour
	defaultFillTimeout    = 5 * time.Second
	defaultPersistTimeout = 3 * time.Second
	defaultNamespace      = "prosescan:scan:v1"
)

// ErrNoRulesetSource is returned by ReloadRuleset when no reloadable ruleset
// source is configured.
var ErrNoRulesetSource = errors.New("runtime: no ruleset source configured")

// Options wires the orchestrator's collaborators and cache policy.
type Options struct {
	Store          cache.Store
	Engine         engine.Engine
	Durable        durable.Store
	CacheTTL       time.Duration
	CacheCapacity  int
	CacheShards    int
	CacheNamespace string
	FillTimeout    time.Duration
	RulesetSource  string
	// LoadRuleset re-reads the configured ruleset source for administrative
	// reloads. Nil disables the reload endpoint.
	LoadRuleset func(ctx context.Context) (engine.Ruleset, error)
	Metrics     *metrics.Recorder
}

// Result is what a caller receives for one scan request. ServedFromCache is
// an observability signal only.
type Result struct {
	Highlights      []cache.Highlight
	RulesetVersion  string
	ServedFromCache bool
}

// Orchestrator deduplicates concurrent fills per composite key and writes
// results through to the memory store and the durable tier.
type Orchestrator struct {
	logger        *slog.Logger
	store         cache.Store
	engine        engine.Engine
	durable       durable.Store
	ttl           time.Duration
	capacity      int
	shards        int
	namespace     string
	fillTimeout   time.Duration
	rulesetSource string
	loadRuleset   func(ctx context.Context) (engine.Ruleset, error)
	metrics       *metrics.Recorder

	flights singleflight.Group
}

func New(logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	fillTimeout := opts.FillTimeout
	if fillTimeout <= 0 {
		fillTimeout = defaultFillTimeout
	}
	namespace := opts.CacheNamespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	store := opts.Store
	if store == nil {
		store = cache.NewMemory(opts.CacheCapacity, ttl, opts.CacheShards)
	}

	return &Orchestrator{
		logger:        logger.With(slog.String("agent", "orchestrator")),
		store:         store,
		engine:        opts.Engine,
		durable:       opts.Durable,
		ttl:           ttl,
		capacity:      opts.CacheCapacity,
		shards:        opts.CacheShards,
		namespace:     namespace,
		fillTimeout:   fillTimeout,
		rulesetSource: opts.RulesetSource,
		loadRuleset:   opts.LoadRuleset,
		metrics:       opts.Metrics,
	}
}

// Close releases the store and durable tier.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if o.store != nil {
		if err := o.store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if o.durable != nil {
		if err := o.durable.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetOrScan is the single logical operation exposed to callers: cache hit,
// or a deduplicated fill through the rule engine on miss.
func (o *Orchestrator) GetOrScan(ctx context.Context, text string) (Result, error) {
	baseKey := cache.DeriveKey(text)
	// The version observed here is the version the result is keyed under,
	// even if an administrative reload lands before the fill completes.
	version := o.engine.CurrentVersion()
	key := cache.CompositeKey(o.namespace, version, baseKey)

	lookupStart := time.Now()
	entry, ok, err := o.store.Lookup(ctx, key)
	switch {
	case err != nil:
		o.metrics.ObserveCacheLookup(metrics.CacheLookupError, time.Since(lookupStart))
		o.logger.Warn("cache lookup failed", slog.Any("error", err))
	case ok:
		o.metrics.ObserveCacheLookup(metrics.CacheLookupHit, time.Since(lookupStart))
		return Result{Highlights: entry.Highlights, RulesetVersion: version, ServedFromCache: true}, nil
	default:
		o.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(lookupStart))
	}

	// singleflight guarantees at most one in-flight fill per composite key;
	// every concurrent miss for the same key joins it. The flight is cleared
	// when the fill returns, success or failure, so a failed key can retry.
	ch := o.flights.DoChan(key, func() (any, error) {
		return o.fill(text, baseKey, version, key)
	})

	select {
	case <-ctx.Done():
		// The abandoning waiter leaves; the shared fill keeps running and
		// still populates the cache for everyone else.
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		fr := res.Val.(fillResult)
		return Result{Highlights: fr.entry.Highlights, RulesetVersion: version, ServedFromCache: fr.fromCache}, nil
	}
}

type fillResult struct {
	entry     cache.Entry
	fromCache bool
}

// fill runs once per composite key at a time. It is detached from any single
// caller's context: the engine call is bounded by the configured fill timeout
// and nothing else.
func (o *Orchestrator) fill(text string, baseKey cache.Key, version, key string) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.fillTimeout)
	defer cancel()

	// Another flight may have completed between the caller's miss and this
	// flight winning the key.
	if entry, ok, err := o.store.Lookup(ctx, key); err == nil && ok {
		return fillResult{entry: entry, fromCache: true}, nil
	}

	if entry, ok := o.fetchDurable(ctx, key, version); ok {
		if err := o.store.Store(ctx, key, entry); err != nil {
			o.logger.Warn("cache readmit failed", slog.Any("error", err))
		}
		return fillResult{entry: entry, fromCache: true}, nil
	}

	scanStart := time.Now()
	highlights, err := o.engine.Scan(ctx, text, version)
	scanDuration := time.Since(scanStart)
	if err != nil {
		o.metrics.ObserveEngineScan(metrics.EngineScanError, scanDuration)
		o.logger.Error("engine scan failed",
			slog.String("ruleset_version", version),
			slog.Duration("duration", scanDuration),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("runtime: engine scan: %w", err)
	}
	o.metrics.ObserveEngineScan(metrics.EngineScanOK, scanDuration)

	now := time.Now().UTC()
	entry := cache.Entry{
		Key:            baseKey,
		RulesetVersion: version,
		Highlights:     highlights,
		ScannedAt:      now,
		ExpiresAt:      now.Add(o.ttl),
	}

	storeStart := time.Now()
	if err := o.store.Store(ctx, key, entry); err != nil {
		o.metrics.ObserveCacheStore(metrics.CacheStoreError, time.Since(storeStart))
		o.logger.Warn("cache store failed", slog.Any("error", err))
	} else {
		o.metrics.ObserveCacheStore(metrics.CacheStoreStored, time.Since(storeStart))
	}

	o.persistAsync(key, entry)
	return fillResult{entry: entry}, nil
}

// fetchDurable lazily consults the durable tier on a memory miss (cold-start
// replay). Only unexpired entries recorded under the same version qualify.
func (o *Orchestrator) fetchDurable(ctx context.Context, key, version string) (cache.Entry, bool) {
	if o.durable == nil {
		return cache.Entry{}, false
	}
	entry, ok, err := o.durable.Fetch(ctx, key)
	if err != nil {
		o.metrics.ObserveDurableFetch(metrics.DurableError)
		o.logger.Warn("durable fetch failed", slog.Any("error", err))
		return cache.Entry{}, false
	}
	if !ok {
		o.metrics.ObserveDurableFetch(metrics.DurableMiss)
		return cache.Entry{}, false
	}
	if entry.Expired(time.Now()) || entry.RulesetVersion != version {
		o.metrics.ObserveDurableFetch(metrics.DurableMiss)
		return cache.Entry{}, false
	}
	o.metrics.ObserveDurableFetch(metrics.DurableHit)
	return entry, true
}

// persistAsync is the durable half of the write-through: best-effort, off the
// request path, never able to fail the request or evict the memory entry.
func (o *Orchestrator) persistAsync(key string, entry cache.Entry) {
	if o.durable == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
		defer cancel()
		if err := o.durable.Persist(ctx, key, entry); err != nil {
			o.metrics.ObserveDurablePersist(metrics.DurableError)
			o.logger.Warn("durable persist failed",
				slog.String("ruleset_version", entry.RulesetVersion),
				slog.Any("error", err),
			)
			return
		}
		o.metrics.ObserveDurablePersist(metrics.DurableOK)
	}()
}

// ApplyRuleset swaps in an already-loaded ruleset (used by the file watcher).
func (o *Orchestrator) ApplyRuleset(rs engine.Ruleset) error {
	reloadable, ok := o.engine.(engine.Reloadable)
	if !ok {
		return ErrNoRulesetSource
	}
	previous := o.engine.CurrentVersion()
	if err := reloadable.Reload(rs); err != nil {
		o.metrics.ObserveRulesetReload(false)
		return err
	}
	o.metrics.ObserveRulesetReload(true)
	o.logger.Info("ruleset reloaded",
		slog.String("previous_version", previous),
		slog.String("ruleset_version", o.engine.CurrentVersion()),
	)
	return nil
}

// ReloadRuleset re-reads the configured ruleset source and swaps it in. This
// is the explicit administrative reload action; cached entries under the old
// version simply become unreachable.
func (o *Orchestrator) ReloadRuleset(ctx context.Context) (string, error) {
	if o.loadRuleset == nil {
		return "", ErrNoRulesetSource
	}
	rs, err := o.loadRuleset(ctx)
	if err != nil {
		o.metrics.ObserveRulesetReload(false)
		return "", err
	}
	if err := o.ApplyRuleset(rs); err != nil {
		return "", err
	}
	return o.engine.CurrentVersion(), nil
}

// CurrentVersion exposes the active ruleset version for diagnostics.
func (o *Orchestrator) CurrentVersion() string {
	return o.engine.CurrentVersion()
}
