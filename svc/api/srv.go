package api

import (
	"context"
	"net/http"
	"time"

	"rujukan/cfg"
	"rujukan/svc/db"
	"rujukan/svc/svc"
	"rujukan/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

// NewServer wires routes. rdb may be nil when reveals are kept in process.
func NewServer(c *cfg.Cfg, p *svc.Paste, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	s := &Server{
		paste: p,
		cfg:   c,
		db:    sqlDB,
		rdb:   rdb,
	}
	r := chi.NewRouter()
	mw := NewMw(c)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", util.RedactLogLine(req.URL.String())).
				Str("client_ip", util.RedactIP(req.RemoteAddr)).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.Session)
		hdl := &Hdl{paste: p, cfg: c}
		r.Get("/pastes", hdl.ListPastes)
		r.Post("/pastes", hdl.CreatePaste)
		r.Get("/pastes/{id}", hdl.GetPaste)
		r.Get("/pastes/{id}/raw", hdl.RawPaste)
		r.Get("/pastes/{id}/token/{token}", hdl.RevealToken)
		r.Post("/pastes/{id}/delete/{token}", hdl.DeletePasteLink)
		r.Delete("/pastes/{id}", hdl.DeletePaste)
		r.Get("/config/expirations", hdl.GetExpirations)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
