package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
	"github.com/kirillkom/file-organiser/internal/observability/metrics"
)

const (
	DefaultMaxInFlightTriggers = 8
	DefaultTriggerQueueWait    = 2 * time.Second
)

type Options struct {
	Service        string
	Logger         *slog.Logger
	Metrics        *metrics.HTTPServerMetrics
	MetricsHandler http.Handler
	// MaxInFlightTriggers bounds concurrent synchronous process requests.
	MaxInFlightTriggers int
	TriggerQueueWait    time.Duration
}

type Router struct {
	trigger ports.TenantTrigger
	stats   ports.StatsReporter
	opts    Options
}

func NewRouter(trigger ports.TenantTrigger, stats ports.StatsReporter, opts Options) *Router {
	if opts.Service == "" {
		opts.Service = "worker"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxInFlightTriggers == 0 {
		opts.MaxInFlightTriggers = DefaultMaxInFlightTriggers
	}
	if opts.TriggerQueueWait <= 0 {
		opts.TriggerQueueWait = DefaultTriggerQueueWait
	}
	return &Router{trigger: trigger, stats: stats, opts: opts}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("POST /v1/tenants/{tenant}/process",
		backpressureMiddleware(http.HandlerFunc(rt.processTenant), rt.opts.MaxInFlightTriggers, rt.opts.TriggerQueueWait))
	mux.HandleFunc("GET /v1/tenants/{tenant}/stats", rt.tenantStats)
	mux.HandleFunc("GET /v1/tenants/stats", rt.allStats)
	if rt.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", rt.opts.MetricsHandler)
	}

	var handler http.Handler = mux
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(rt.opts.Logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// processTenant runs the tenant synchronously, or queues it when async=true.
func (rt *Router) processTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := domain.ParseTenant(r.PathValue("tenant"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		if err := rt.trigger.TriggerAsync(tenant); err != nil {
			rt.recordTrigger("rejected")
			rt.writeError(w, r, err)
			return
		}
		rt.recordTrigger("queued")
		writeJSON(w, http.StatusAccepted, map[string]string{"tenant": tenant.String(), "status": "queued"})
		return
	}

	report, err := rt.trigger.Trigger(r.Context(), tenant)
	if err != nil {
		rt.recordTrigger("rejected")
		rt.writeError(w, r, err)
		return
	}
	rt.recordTrigger("completed")
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) tenantStats(w http.ResponseWriter, r *http.Request) {
	tenant, err := domain.ParseTenant(r.PathValue("tenant"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	stats, err := rt.stats.Stats(r.Context(), tenant)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) allStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.stats.AllStats(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if stats == nil {
		stats = []domain.TenantStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": stats})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.opts.Logger.Error("request failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (rt *Router) recordTrigger(result string) {
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordTrigger(rt.opts.Service, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
