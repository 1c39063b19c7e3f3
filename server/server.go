// Package server serves package bundles to the fetch backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
	"github.com/chenyanchen/lazypkg/store"
)

// Getter looks up a bundle by package name.
type Getter interface {
	Get(ctx context.Context, name string) (bundle.Bundle, error)
}

type config struct {
	logger   *log.Logger
	manifest lazypkg.Manifest
}

// Option configures a Server.
type Option func(*config)

// WithLogger sets the request logger.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithManifest sets the initial manifest.
func WithManifest(m lazypkg.Manifest) Option {
	return func(cfg *config) {
		cfg.manifest = m
	}
}

// Server answers package requests:
//
//	GET /packages/{a;b}?t=stamp  bundle.Payload as JSON
//	GET /manifest                lazypkg.Manifest as JSON
type Server struct {
	bundles Getter
	logger  *log.Logger
	mux     *http.ServeMux

	mu       sync.RWMutex
	manifest lazypkg.Manifest
}

// New returns a server reading bundles from bundles.
func New(bundles Getter, opts ...Option) (*Server, error) {
	if bundles == nil {
		return nil, errors.New("new server: nil bundle store")
	}
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = log.New(io.Discard)
	}

	s := &Server{
		bundles:  bundles,
		logger:   cfg.logger,
		mux:      http.NewServeMux(),
		manifest: cfg.manifest,
	}
	s.mux.HandleFunc("GET /packages/{names}", s.handlePackages)
	s.mux.HandleFunc("GET /manifest", s.handleManifest)
	return s, nil
}

// SetManifest replaces the advertised manifest.
func (s *Server) SetManifest(m lazypkg.Manifest) {
	s.mu.Lock()
	s.manifest = m
	s.mu.Unlock()
}

// Manifest returns the advertised manifest.
func (s *Server) Manifest() lazypkg.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	names := bundle.SplitNames(r.PathValue("names"))
	if len(names) == 0 {
		http.Error(w, "no package requested", http.StatusBadRequest)
		return
	}

	seen := make(map[string]struct{}, len(names))
	payload := bundle.Payload{Packages: make([]bundle.Bundle, 0, len(names))}
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		b, err := s.bundles.Get(r.Context(), name)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, fmt.Sprintf("package not found: %s", name), http.StatusNotFound)
			return
		}
		if err != nil {
			s.logger.Error("load bundle failed", "package", name, "err", err)
			http.Error(w, "load bundle failed", http.StatusInternalServerError)
			return
		}
		b.Name = name
		payload.Packages = append(payload.Packages, b)
	}

	// A stamped URL names one immutable build of the batch.
	if r.URL.Query().Get("t") != "" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	s.logger.Debug("serve packages", "packages", names, "stamp", r.URL.Query().Get("t"))
	writeJSON(w, s.logger, payload)
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, s.logger, s.Manifest())
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", "err", err)
	}
}
