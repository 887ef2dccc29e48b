package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/bytebufferpool"

	"github.com/juergengeck/esp32/pkg/actor"
	"github.com/juergengeck/esp32/pkg/config"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/metrics"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// Server exposes a loopback-oriented, read-only debug surface over a
// running node: trust verdicts, rights, health, and Prometheus metrics.
type Server struct {
	logger          log.Logger
	cfg             *config.Config
	node            *actor.Actor
	metricsRegistry *metrics.Registry
	router          *mux.Router
	httpServer      *http.Server
}

// New builds a debug server bound to an already-started node.
func New(cfg *config.Config, logger log.Logger, node *actor.Actor, metricsRegistry *metrics.Registry) *Server {
	s := &Server{
		logger:          logger,
		cfg:             cfg,
		node:            node,
		metricsRegistry: metricsRegistry,
		router:          mux.NewRouter(),
	}

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.metricsRegistry != nil {
		s.router.Use(s.metricsMiddleware)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc(s.cfg.Server.HealthCheckPath, s.handleHealth).Methods("GET")
	s.router.HandleFunc("/verdict/{keyID}", s.handleVerdict).Methods("GET")
	s.router.HandleFunc("/rights/{personID}", s.handleRights).Methods("GET")

	if s.metricsRegistry != nil {
		s.router.Handle(s.cfg.Server.MetricsPath, promhttp.HandlerFor(
			s.metricsRegistry.GetRegistry(),
			promhttp.HandlerOpts{},
		)).Methods("GET")
	}
}

// Run starts the HTTP server and blocks until ctx is canceled, then shuts
// down gracefully within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(map[string]interface{}{"address": s.httpServer.Addr}).Info("debug server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down debug server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) rootMode(r *http.Request) rootset.Mode {
	if r.URL.Query().Get("fleet") == "true" {
		return rootset.All
	}
	return rootset.MainIdentity
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	keyID := identity.KeyID(mux.Vars(r)["keyID"])

	verdict := s.node.IsKeyTrusted(r.Context(), keyID, s.rootMode(r))

	path := make([]string, 0, len(verdict.Path))
	for _, c := range verdict.Path {
		path = append(path, string(c))
	}

	s.writeResponse(w, http.StatusOK, VerdictResponse{
		KeyID:         string(keyID),
		Trusted:       verdict.Trusted,
		Reason:        verdict.Reason.String(),
		EndorsingCert: string(verdict.EndorsingCert),
		Path:          path,
	})
}

func (s *Server) handleRights(w http.ResponseWriter, r *http.Request) {
	personID := identity.PersonID(mux.Vars(r)["personID"])

	rights := s.node.RightsOf(r.Context(), personID, s.rootMode(r))

	s.writeResponse(w, http.StatusOK, RightsResponse{
		PersonID:               string(personID),
		MayEndorseForEverybody: rights.MayEndorseForEverybody,
		MayEndorseForSelf:      rights.MayEndorseForSelf,
	})
}

// responsePool recycles encode buffers across requests; verdict polling by
// an operator dashboard produces identical bodies at a high rate.
var responsePool bytebufferpool.Pool

// writeResponse encodes data through a pooled buffer and tags the body with
// a weak ETag so pollers can cheaply detect an unchanged verdict.
func (s *Server) writeResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	buf := responsePool.Get()
	defer responsePool.Put(buf)

	if err := json.NewEncoder(buf).Encode(data); err != nil {
		s.logger.Error("failed to encode response", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(buf.B)))
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.B); err != nil {
		s.logger.Error("failed to write response", err)
	}
}
