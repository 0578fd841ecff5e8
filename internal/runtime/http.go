package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prosescan/prosescan/internal/metrics"
	"github.com/prosescan/prosescan/internal/runtime/cache"
)

// maxScanBytes bounds a single scan request body.
const maxScanBytes = 1 << 20

type scanRequest struct {
	Text string `json:"text"`
}

type scanResponse struct {
	Highlights      []cache.Highlight `json:"highlights"`
	RulesetVersion  string            `json:"rulesetVersion"`
	ServedFromCache bool              `json:"servedFromCache"`
}

// WriteError emits a JSON error payload consistent across scan/health/explain
// responses.
func (o *Orchestrator) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message}); err != nil {
		o.logger.Error("error response encode failed", slog.Any("error", err))
	}
}

// ServeScan handles one scan request and renders the highlight payload.
func (o *Orchestrator) ServeScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		o.WriteError(w, http.StatusMethodNotAllowed, "scan requires POST")
		return
	}

	var req scanRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBytes))
	if err := decoder.Decode(&req); err != nil {
		o.WriteError(w, http.StatusBadRequest, "invalid scan request body")
		return
	}

	start := time.Now()
	result, err := o.GetOrScan(r.Context(), req.Text)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// Caller disconnected while waiting; the shared fill continues.
			o.logger.Debug("scan request abandoned", slog.Duration("waited", duration))
			return
		}
		o.metrics.ObserveScan(metrics.ScanOutcomeError, false, duration)
		o.WriteError(w, http.StatusBadGateway, "scan failed")
		return
	}

	payload := scanResponse{
		Highlights:      result.Highlights,
		RulesetVersion:  result.RulesetVersion,
		ServedFromCache: result.ServedFromCache,
	}
	if payload.Highlights == nil {
		payload.Highlights = []cache.Highlight{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		o.logger.Error("scan response encode failed", slog.Any("error", err))
		return
	}

	o.metrics.ObserveScan(metrics.ScanOutcomeOK, result.ServedFromCache, duration)
	o.logger.Info("scan completed",
		slog.String("ruleset_version", result.RulesetVersion),
		slog.Int("highlights", len(payload.Highlights)),
		slog.Bool("from_cache", result.ServedFromCache),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	)
}

// ServeHealth reports liveness plus the cache and ruleset state operators
// watch first.
func (o *Orchestrator) ServeHealth(w http.ResponseWriter, r *http.Request) {
	cacheSize, err := o.store.Size(r.Context())
	if err != nil {
		o.logger.Error("cache size query failed", slog.Any("error", err))
		cacheSize = 0
	}
	status := map[string]any{
		"status":         "ok",
		"cacheEntries":   cacheSize,
		"rulesetVersion": o.engine.CurrentVersion(),
		"observedAt":     time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		o.logger.Error("health encode failed", slog.Any("error", err))
	}
}

// ServeExplain reports the orchestrator's effective cache policy for
// diagnostics.
func (o *Orchestrator) ServeExplain(w http.ResponseWriter, r *http.Request) {
	cacheSize, err := o.store.Size(r.Context())
	if err != nil {
		o.logger.Error("cache size query failed", slog.Any("error", err))
		cacheSize = 0
	}
	payload := struct {
		Status         string    `json:"status"`
		ObservedAt     time.Time `json:"observedAt"`
		RulesetVersion string    `json:"rulesetVersion"`
		RulesetSource  string    `json:"rulesetSource,omitempty"`
		CacheEntries   int64     `json:"cacheEntries"`
		CacheCapacity  int       `json:"cacheCapacity,omitempty"`
		CacheShards    int       `json:"cacheShards,omitempty"`
		CacheNamespace string    `json:"cacheNamespace"`
		TTLSeconds     float64   `json:"ttlSeconds"`
		FillTimeoutMs  float64   `json:"fillTimeoutMs"`
		DurableEnabled bool      `json:"durableEnabled"`
	}{
		Status:         "ok",
		ObservedAt:     time.Now().UTC(),
		RulesetVersion: o.engine.CurrentVersion(),
		RulesetSource:  o.rulesetSource,
		CacheEntries:   cacheSize,
		CacheCapacity:  o.capacity,
		CacheShards:    o.shards,
		CacheNamespace: o.namespace,
		TTLSeconds:     o.ttl.Seconds(),
		FillTimeoutMs:  float64(o.fillTimeout) / float64(time.Millisecond),
		DurableEnabled: o.durable != nil,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		o.logger.Error("explain encode failed", slog.Any("error", err))
	}
}

// ServeReload triggers the explicit administrative ruleset reload.
func (o *Orchestrator) ServeReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		o.WriteError(w, http.StatusMethodNotAllowed, "reload requires POST")
		return
	}
	version, err := o.ReloadRuleset(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoRulesetSource) {
			o.WriteError(w, http.StatusConflict, "no ruleset source configured")
			return
		}
		o.logger.Error("ruleset reload failed", slog.Any("error", err))
		o.WriteError(w, http.StatusInternalServerError, "ruleset reload failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"rulesetVersion": version}); err != nil {
		o.logger.Error("reload encode failed", slog.Any("error", err))
	}
}
