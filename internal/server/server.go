// Package server exposes the research engine over HTTP: a streaming SSE
// research endpoint, archived run lookup, health and prometheus metrics.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quester-ai/quester/config"
	"github.com/quester-ai/quester/internal/engine"
	"github.com/quester-ai/quester/internal/llm"
	"github.com/quester-ai/quester/internal/store"
	"github.com/quester-ai/quester/internal/telemetry"
	"github.com/quester-ai/quester/tools/web_fetch"
	"github.com/quester-ai/quester/tools/web_search"
)

// Run builds the full dependency graph from configuration and serves until
// the listener fails.
func Run(addr string, cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	gateway, err := llm.NewGateway(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := web_search.NewSearcher(cfg.Search)
	if err != nil {
		return err
	}
	fetcher, err := web_fetch.NewWebFetcher(cfg.Fetch)
	if err != nil {
		return err
	}
	archive, err := store.NewArchive(cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()

	eng := engine.New(cfg.Engine, gateway, searcher, fetcher, tele)

	rh := &ResearchHandler{
		Engine:     eng,
		Archive:    archive,
		MaxRunTime: cfg.General.MaxRunTime,
		Logger:     baseLogger,
	}
	rh.Register(e.Group("/api"))

	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
