package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/url-shortener/internal/handler"
	"github.com/angeloszaimis/url-shortener/internal/metrics"
)

func setupRouter(log *slog.Logger, urlHandler *handler.URLHandler, collector *metrics.Collector, service string) http.Handler {
	r := chi.NewRouter()

	r.Use(handler.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.Observe(log, collector))
	r.Use(middleware.Recoverer)

	r.Get("/metrics", collector.Handler(service))
	urlHandler.Register(r)

	return r
}
