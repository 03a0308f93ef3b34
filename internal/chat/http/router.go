package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"orderchat.com/pkg/middleware"
	"orderchat.com/pkg/ratelimit"
)

type RouterConfig struct {
	Addr        string
	ServiceName string
	RPS         float64 // 每个 ip+route 的限流
	Burst       int
	Sentinel    bool
}

// NewEngine builds the gin engine with the shared middleware chain.
// The rate limit janitor lives as long as ctx.
func NewEngine(ctx context.Context, cfg RouterConfig, h *Handler, authRequired gin.HandlerFunc) *gin.Engine {
	if cfg.RPS <= 0 {
		cfg.RPS = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	store := ratelimit.NewStore(rate.Limit(cfg.RPS), cfg.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	// 监控
	p := ginprom.NewPrometheus("orderchat")
	p.Use(r)

	r.Use(
		otelgin.Middleware(cfg.ServiceName),
		middleware.ReqId(),
		cors.New(corsConfig()),
		middleware.Recover(),
		middleware.RateLimit(store),
	)
	if cfg.Sentinel {
		r.Use(middleware.Sentinel())
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	h.Register(r, authRequired)
	return r
}

func NewServer(engine *gin.Engine, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("Authorization", "X-Request-Id")
	c.AddExposeHeaders("X-Request-Id")
	return c
}
