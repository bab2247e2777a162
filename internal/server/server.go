package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/agent"
	"github.com/linkforge/linkforge/internal/llm"
	"github.com/linkforge/linkforge/internal/orchestration"
	"github.com/linkforge/linkforge/internal/outline"
	"github.com/linkforge/linkforge/internal/progress"
	"github.com/linkforge/linkforge/internal/runtime"
	"github.com/linkforge/linkforge/internal/store"
	"github.com/linkforge/linkforge/tools/webfetch"
	"github.com/linkforge/linkforge/tools/websearch"
)

func authMiddleware(secret []byte) echo.MiddlewareFunc {
	return runtime.EchoAuthMiddleware(secret)
}

func newEcho(logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Run wires every dependency and serves the API until the process exits.
func Run(cfg *config.Config, addr string) error {
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e := newEcho(httpLogger)

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	runner := agent.NewRunner(provider, log.New(log.Writer(), "[AGENT] ", log.LstdFlags), cfg.Agents.AgentTimeout)

	// Redis-backed progress fan-out when configured, in-process otherwise.
	var broker progress.Broker
	if cfg.Storage.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		broker = progress.NewRedis(rdb, nil)
	} else {
		broker = progress.NewMemory()
	}

	var fetcher *webfetch.Fetcher
	if cfg.Fetch.Enabled {
		fetcher = webfetch.New(cfg.Fetch)
	}
	var searcher outline.Searcher
	if cfg.Search.SerperAPIKey != "" {
		searcher = &serperSearcher{client: websearch.NewSerper(cfg.Search)}
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	var orchFetcher orchestration.PageFetcher
	var outlineFetcher outline.PageFetcher
	if fetcher != nil {
		orchFetcher = fetcher
		outlineFetcher = fetcher
	}
	linkSvc, err := orchestration.NewService(st, runner, broker, orchFetcher, cfg.LLM.Routing, cfg.Agents, orchLogger)
	if err != nil {
		return err
	}
	outlineSvc := outline.NewService(st, runner, searcher, outlineFetcher, cfg.LLM.Routing, cfg.Search, nil)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	lh := &LinkSessionsHandler{Svc: linkSvc, Sessions: st, Broker: broker, Cfg: cfg.Server, Logger: httpLogger}
	lh.Register(api.Group("/link-sessions"), secret)

	oh := &OutlinesHandler{Svc: outlineSvc}
	oh.Register(api.Group("/outlines"), secret)

	if cfg.Retention.Enabled {
		sweeper := &Sweeper{Store: st, Cfg: cfg.Retention, Stop: make(chan struct{})}
		sweeper.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// serperSearcher adapts the serper client to the outline service contract.
type serperSearcher struct {
	client *websearch.Serper
}

func (s *serperSearcher) Search(ctx context.Context, query string, max int) ([]outline.SearchResult, error) {
	hits, err := s.client.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	out := make([]outline.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, outline.SearchResult{Title: h.Title, URL: h.URL, Snippet: h.Snippet})
	}
	return out, nil
}
