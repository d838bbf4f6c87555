package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cryptobox-parser/internal/infra/cache"
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheInspector отдаёт снимок ключей кэша.
type CacheInspector interface {
	Detail(prefix string) []cache.ItemDetail
}

// Options задаёт зависимости служебных ручек. Нулевые поля отключают проверки.
type Options struct {
	Checks   map[string]Pinger
	Cache    CacheInspector
	CacheTTL time.Duration
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger
	opts   Options
	srv    *http.Server
}

// NewServer создаёт HTTP сервер со служебными ручками.
func NewServer(logger zerolog.Logger, opts Options) *Server {
	s := &Server{log: logger.With().Str("component", "http").Logger(), opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/debug/cache", s.handleCache)
	r.Get("/debug/cache/{namespace}", s.handleCache)
	s.Router = r
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	result := make(map[string]string, len(s.opts.Checks))
	for name, p := range s.opts.Checks {
		if err := p.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

type cacheDetail struct {
	TTL   float64            `json:"ttl"`
	Total int                `json:"total"`
	Items []cache.ItemDetail `json:"items"`
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "cache detail is available only for the memory backend"})
		return
	}
	prefix := strings.TrimSpace(chi.URLParam(r, "namespace"))
	if prefix != "" {
		prefix += ":"
	}
	items := s.opts.Cache.Detail(prefix)
	writeJSON(w, http.StatusOK, cacheDetail{
		TTL:   s.opts.CacheTTL.Seconds(),
		Total: len(items),
		Items: items,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start запускает http.Server и блокируется до его остановки.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("HTTP сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
