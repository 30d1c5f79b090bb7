// mock-adspower emulates the AdsPower Local API for development and load
// testing: profile listing, browser start/stop with per-profile running
// state, and configurable failure injection.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port        string  `envconfig:"PORT" default:"50325"`
	APIKey      string  `envconfig:"MOCK_API_KEY" default:""`
	Profiles    int     `envconfig:"MOCK_PROFILES" default:"3"`
	FailureRate float64 `envconfig:"MOCK_FAILURE_RATE" default:"0"`
	DelayMs     int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	WSHost      string  `envconfig:"MOCK_WS_HOST" default:"127.0.0.1:9222"`
}

type server struct {
	cfg config

	mu      sync.Mutex
	running map[string]bool
	rng     *rand.Rand
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock adspower config load failed", "err", err)
		os.Exit(1)
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	s := &server{
		cfg:     cfg,
		running: make(map[string]bool),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/user/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/user/list", s.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/browser/start", s.handleStart).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/browser/stop", s.handleStop).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/browser/status", s.handleBrowserStatus).Methods(http.MethodGet)

	slog.Info("mock adspower listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, loggingMiddleware(router)); err != nil {
		slog.Error("mock adspower server failed", "err", err)
		os.Exit(1)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock adspower request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) gate(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.DelayMs > 0 {
		time.Sleep(time.Duration(s.cfg.DelayMs) * time.Millisecond)
	}
	if s.cfg.APIKey != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.cfg.APIKey {
			writeEnvelope(w, -1, "invalid api key", nil)
			return false
		}
	}
	s.mu.Lock()
	fail := s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate
	s.mu.Unlock()
	if fail {
		writeEnvelope(w, -1, "injected failure", nil)
		return false
	}
	return true
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	writeEnvelope(w, 0, "success", map[string]any{})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	list := make([]map[string]any, 0, s.cfg.Profiles)
	for i := 1; i <= s.cfg.Profiles; i++ {
		list = append(list, map[string]any{
			"user_id": fmt.Sprintf("mockp%d", i),
			"name":    fmt.Sprintf("mock-profile-%d", i),
		})
	}
	writeEnvelope(w, 0, "success", map[string]any{"list": list, "total": len(list)})
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	id := r.URL.Query().Get("user_id")
	if id == "" {
		writeEnvelope(w, -1, "user_id required", nil)
		return
	}
	s.mu.Lock()
	s.running[id] = true
	s.mu.Unlock()

	writeEnvelope(w, 0, "success", map[string]any{
		"ws": map[string]any{
			"puppeteer": fmt.Sprintf("ws://%s/devtools/browser/%s", s.cfg.WSHost, id),
		},
	})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	id := r.URL.Query().Get("user_id")
	if id == "" {
		writeEnvelope(w, -1, "user_id required", nil)
		return
	}
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	writeEnvelope(w, 0, "success", map[string]any{})
}

func (s *server) handleBrowserStatus(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	id := r.URL.Query().Get("user_id")
	s.mu.Lock()
	active := s.running[id]
	s.mu.Unlock()
	status := "Inactive"
	if active {
		status = "Active"
	}
	writeEnvelope(w, 0, "success", map[string]any{"status": status})
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": code,
		"msg":  msg,
		"data": data,
	})
}
