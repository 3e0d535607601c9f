// Package handler exposes the correlation engine over REST.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/threatscope/internal/adapter/notifier"
	"github.com/hive-corporation/threatscope/internal/adapter/taxonomy"
	"github.com/hive-corporation/threatscope/internal/cache"
	"github.com/hive-corporation/threatscope/internal/core/correlation"
	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const (
	correlateTimeout = 30 * time.Second
	maxBatchSize     = 50
	batchWorkers     = 4
)

// Correlator is the engine surface the handler depends on.
type Correlator interface {
	Correlate(ctx context.Context, raw string, typeHint domain.IOCType) (*domain.ThreatReport, bool, error)
	CacheStats() cache.Stats
	CorrelatorStats() correlation.IndexStats
}

type RestHandler struct {
	engine        Correlator
	kb            *taxonomy.AttackKB
	slackNotifier *notifier.SlackNotifier
	log           *logrus.Logger
}

func NewRestHandler(engine Correlator, kb *taxonomy.AttackKB, slackNotifier *notifier.SlackNotifier, log *logrus.Logger) *RestHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RestHandler{
		engine:        engine,
		kb:            kb,
		slackNotifier: slackNotifier,
		log:           log,
	}
}

// Router wires all routes and middleware.
func (h *RestHandler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")
	router.HandleFunc("/api/v1/correlate", h.Correlate).Methods("POST")
	router.HandleFunc("/api/v1/correlate/batch", h.CorrelateBatch).Methods("POST")
	router.HandleFunc("/api/v1/taxonomy/tactics", h.Tactics).Methods("GET")
	router.HandleFunc("/api/v1/taxonomy/techniques", h.Techniques).Methods("GET")
	router.HandleFunc("/api/v1/taxonomy/search", h.SearchTaxonomy).Methods("GET")
	router.HandleFunc("/api/v1/cache/stats", h.CacheStats).Methods("GET")
	router.HandleFunc("/api/v1/stats", h.Stats).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(h.loggingMiddleware)
	router.Use(authMiddleware)
	return router
}

// Health reports liveness.
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "threatscope-api",
		"taxonomy":  h.kb.Version(),
	})
}

type correlateRequest struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type correlateResponse struct {
	Report   *domain.ThreatReport `json:"report"`
	CacheHit bool                 `json:"cache_hit"`
}

// Correlate computes (or serves from cache) the threat report for one
// indicator.
func (h *RestHandler) Correlate(w http.ResponseWriter, r *http.Request) {
	var req correlateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "missing 'value' field")
		return
	}
	typeHint, err := parseTypeHint(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), correlateTimeout)
	defer cancel()

	report, hit, err := h.engine.Correlate(ctx, req.Value, typeHint)
	if err != nil {
		h.writeCorrelateError(w, req.Value, err)
		return
	}

	h.notify(report, hit)
	writeJSON(w, http.StatusOK, correlateResponse{Report: report, CacheHit: hit})
}

type batchRequest struct {
	Indicators []correlateRequest `json:"indicators"`
}

type batchItem struct {
	Value    string               `json:"value"`
	Report   *domain.ThreatReport `json:"report,omitempty"`
	CacheHit bool                 `json:"cache_hit,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// CorrelateBatch correlates up to maxBatchSize indicators with bounded
// concurrency. Per-indicator failures are reported in place; the batch
// itself always succeeds.
func (h *RestHandler) CorrelateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if len(req.Indicators) == 0 {
		writeError(w, http.StatusBadRequest, "missing 'indicators' field")
		return
	}
	if len(req.Indicators) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many indicators in one batch")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), correlateTimeout)
	defer cancel()

	results := make([]batchItem, len(req.Indicators))
	sem := make(chan struct{}, batchWorkers)
	var wg sync.WaitGroup
	for i, ind := range req.Indicators {
		wg.Add(1)
		go func(i int, ind correlateRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item := batchItem{Value: ind.Value}
			typeHint, err := parseTypeHint(ind.Type)
			if err == nil {
				item.Report, item.CacheHit, err = h.engine.Correlate(ctx, ind.Value, typeHint)
			}
			if err != nil {
				item.Error = err.Error()
			} else {
				h.notify(item.Report, item.CacheHit)
			}
			results[i] = item
		}(i, ind)
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

// Tactics lists the tactics of the bundled ATT&CK dataset.
func (h *RestHandler) Tactics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.kb.Version(),
		"tactics": h.kb.Tactics(),
	})
}

// Techniques lists techniques, optionally filtered by ?tactic=.
func (h *RestHandler) Techniques(w http.ResponseWriter, r *http.Request) {
	techniques := h.kb.Techniques(r.URL.Query().Get("tactic"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    h.kb.Version(),
		"count":      len(techniques),
		"techniques": techniques,
	})
}

// SearchTaxonomy searches techniques by name, alias or keyword.
func (h *RestHandler) SearchTaxonomy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing 'q' parameter")
		return
	}
	techniques := h.kb.Search(q)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    h.kb.Version(),
		"count":      len(techniques),
		"techniques": techniques,
	})
}

// CacheStats exposes cache effectiveness counters.
func (h *RestHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CacheStats())
}

// Stats combines cache counters with related-threat index counters.
func (h *RestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache":      h.engine.CacheStats(),
		"correlator": h.engine.CorrelatorStats(),
	})
}

// notify pushes freshly computed high-severity reports to Slack. Cached
// reports were already notified when first computed.
func (h *RestHandler) notify(report *domain.ThreatReport, cacheHit bool) {
	if h.slackNotifier == nil || report == nil || cacheHit {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.slackNotifier.NotifyThreatReport(ctx, report); err != nil {
			h.log.WithError(err).Warn("⚠️  failed to send Slack notification")
		}
	}()
}

func (h *RestHandler) writeCorrelateError(w http.ResponseWriter, value string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIOC):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "correlation timed out")
	default:
		h.log.WithFields(logrus.Fields{"value": value, "error": err}).Error("❌ correlation failed")
		writeError(w, http.StatusInternalServerError, "correlation failed")
	}
}

func parseTypeHint(s string) (domain.IOCType, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseIOCType(s)
}

// Middleware

func (h *RestHandler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Info("→ request handled")
	})
}

func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		expectedToken := os.Getenv("REST_API_AUTH_TOKEN")
		// No token configured means auth is disabled (development mode).
		if expectedToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+expectedToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
