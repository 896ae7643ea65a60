package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/catalog"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/metrics"
	"github.com/engramdb/engram/pkg/plugins"
)

// httpServer serves the HTTP API: health, metrics, SQL, and the optional
// ingestion endpoints.
type httpServer struct {
	opts      HTTPOptions
	influxdb  bool
	promStore bool

	ex       *executor
	provider plugins.UserProvider
	issuer   *plugins.TokenIssuer

	srv *http.Server
	ln  net.Listener
}

func newHTTPServer(opts HTTPOptions, influxdb, promStore bool, ex *executor, p *plugins.Plugins) *httpServer {
	s := &httpServer{
		opts:      opts,
		influxdb:  influxdb,
		promStore: promStore,
		ex:        ex,
	}
	if provider, ok := plugins.Get[plugins.UserProvider](p); ok {
		s.provider = provider
	}
	if issuer, ok := plugins.Get[*plugins.TokenIssuer](p); ok {
		s.issuer = issuer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/sql", s.handleSQL)
			if s.influxdb {
				r.Post("/influxdb/write", s.handleInfluxWrite)
			}
			if s.promStore {
				r.Post("/prometheus/write", s.handlePromWrite)
			}
		})
	})

	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *httpServer) Name() string { return "http" }

func (s *httpServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server terminated", "error", err)
		}
	}()
	logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

func (s *httpServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, for tests that listen on port 0.
func (s *httpServer) Addr() string {
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}

// authMiddleware accepts basic auth against the user provider or a bearer
// token previously issued by /v1/login. With no provider configured every
// request passes.
func (s *httpServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.provider == nil {
			next.ServeHTTP(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok {
			if err := s.provider.Authenticate(r.Context(), user, pass); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		if s.issuer != nil {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				if _, err := s.issuer.Verify(token); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		writeError(w, http.StatusUnauthorized, plugins.ErrAuthFailed)
	})
}

func (s *httpServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil || s.issuer == nil {
		writeError(w, http.StatusNotFound, errors.New("authentication is not configured"))
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		writeError(w, http.StatusUnauthorized, plugins.ErrAuthFailed)
		return
	}
	if err := s.provider.Authenticate(r.Context(), user, pass); err != nil {
		writeError(w, http.StatusUnauthorized, plugins.ErrAuthFailed)
		return
	}
	token, err := s.issuer.Issue(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *httpServer) handleSQL(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stmt := strings.TrimSpace(string(body))
	if stmt == "" {
		stmt = r.URL.Query().Get("sql")
	}
	rs, err := s.ex.Execute(r.Context(), stmt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// handleInfluxWrite accepts line-protocol points and writes each one into
// the table named by its measurement.
func (s *httpServer) handleInfluxWrite(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		measurement, key, ok := parseInfluxLine(line)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed line %q", line))
			return
		}
		engine, region, err := s.ex.catalog.Route(r.Context(),
			catalog.DefaultCatalog, catalog.DefaultSchema, measurement)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.ex.regions.HandleWrite(r.Context(), engine, region, []byte(key), []byte(line)); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseInfluxLine extracts the measurement and a row key from one
// line-protocol point. The key is the trailing timestamp when present,
// otherwise the series part of the line.
func parseInfluxLine(line string) (measurement, key string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", false
	}
	measurement, _, _ = strings.Cut(parts[0], ",")
	if measurement == "" {
		return "", "", false
	}
	key = parts[0]
	if len(parts) >= 3 {
		if _, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err == nil {
			key = parts[0] + "@" + parts[len(parts)-1]
		}
	}
	return measurement, key, true
}

// handlePromWrite stores the raw remote-write payload in the basin engine.
// The payload is kept opaque; decoding happens at query time.
func (s *httpServer) handlePromWrite(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := s.ex.regions.HandleWrite(r.Context(), datanode.EngineBasin, "__prom", []byte(key), body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limited := http.MaxBytesReader(w, r.Body, s.opts.BodyLimit.Int64())
	defer limited.Close()
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
