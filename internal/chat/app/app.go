// Package app wires config, storage, realtime and HTTP into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"orderchat.com/internal/chat/auth"
	"orderchat.com/internal/chat/broadcast"
	chatcfg "orderchat.com/internal/chat/config"
	"orderchat.com/internal/chat/domain"
	chathttp "orderchat.com/internal/chat/http"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/internal/chat/repo"
	"orderchat.com/internal/chat/repo/memory"
	chatmysql "orderchat.com/internal/chat/repo/mysql"
	"orderchat.com/internal/chat/service"
	"orderchat.com/internal/chat/ws"
	"orderchat.com/pkg/config"
	"orderchat.com/pkg/governance"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/orm"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/trace"
	"orderchat.com/pkg/xredis"
)

const DefaultConfigName = "chat-service"

type App struct {
	cfg  *chatcfg.Cfg
	chat *service.Chat
	srv  *http.Server

	// 逆序关闭
	closers []func(context.Context) error
}

// Run loads config/<configName>.yaml, starts the service and blocks until ctx is done.
func Run(ctx context.Context, configName string) error {
	if configName == "" {
		configName = DefaultConfigName
	}
	cfg := &chatcfg.Cfg{}
	if _, err := config.LoadAndWatch(configName, cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = configName
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	a, err := New(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "build app failed", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}

// New builds every component. On error whatever was already opened is closed.
func New(ctx context.Context, cfg *chatcfg.Cfg) (_ *App, err error) {
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdownTrace, err := trace.InitTrace(ctx, cfg.Name, cfg.Trace)
	if err != nil {
		return nil, fmt.Errorf("init trace: %w", err)
	}
	a.onClose(shutdownTrace)

	if err := governance.InitSentinel(&cfg.Sentinel); err != nil {
		return nil, err
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	breakers := ratelimit.NewManager(cfg.Breaker.Rule(), nil)
	guarded := repo.NewGuarded(store, breakers)

	cache, err := a.buildCache(ctx)
	if err != nil {
		return nil, err
	}
	relay, err := a.buildRelay()
	if err != nil {
		return nil, err
	}

	a.chat = service.New(guarded, service.Options{
		Cache:            cache,
		Relay:            relay,
		NodeID:           cfg.Nats.NodeID,
		MaxContentLength: cfg.Chat.MaxContentLength,
		IdleChannelTTL:   time.Duration(cfg.Chat.IdleChannelSec) * time.Second,
	})

	jwt := auth.NewJWT(cfg.Auth.Secret, time.Duration(cfg.Auth.ExpiryHours)*time.Hour)
	engine := chathttp.NewEngine(ctx, chathttp.RouterConfig{
		ServiceName: cfg.Name,
		RPS:         cfg.RateLimit.RPS,
		Burst:       cfg.RateLimit.Burst,
		Sentinel:    cfg.Sentinel.Active(),
	}, chathttp.NewHandler(a.chat, a.buildWS(ctx)), auth.Required(jwt))
	a.srv = chathttp.NewServer(engine, cfg.HTTP.Addr)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (domain.Store, error) {
	switch a.cfg.Storage.Driver {
	case "", "memory":
		st := memory.New()
		for _, s := range a.cfg.Seed {
			st.PutUser(s.UserID, s.Email)
			o, ch, err := st.CreateOrder(ctx, s.UserID, s.Description)
			if err != nil {
				return nil, err
			}
			logger.Info(ctx, "seeded order", zap.Int64("order_id", o.ID), zap.Int64("channel_id", ch.ID), zap.Int64("user_id", s.UserID))
		}
		return st, nil
	case "mysql":
		db, err := orm.NewMySQL(&a.cfg.MySQL)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		orm.ObservePool(ctx, db, 5*time.Second)

		r := chatmysql.New(db)
		if a.cfg.Storage.Migrate {
			if err := r.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		if len(a.cfg.Seed) > 0 {
			logger.Warn(ctx, "seed is only applied to the memory store")
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *App) buildCache(ctx context.Context) (registry.Cache, error) {
	rc := a.cfg.Redis
	if !rc.Enabled {
		return registry.NopCache{}, nil
	}
	rdb, err := xredis.NewRedis(ctx, rc.Conn())
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return rdb.Close() })
	xredis.ObservePool(ctx, rdb, 5*time.Second)
	return newCache(rdb, time.Duration(rc.CacheTTLSec)*time.Second), nil
}

func newCache(rdb *redis.Client, ttl time.Duration) registry.Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return registry.NewRedisCache(rdb, ttl)
}

func (a *App) buildRelay() (broadcast.Broker, error) {
	if a.cfg.Nats.URL == "" {
		return nil, nil
	}
	b, err := broadcast.NewNatsBroker(a.cfg.Nats.URL,
		nats.Name(a.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	a.onClose(func(context.Context) error { return b.Close() })
	return b, nil
}

func (a *App) buildWS(ctx context.Context) *ws.Server {
	wc := a.cfg.WS
	s := ws.NewServer(ctx, a.chat)
	if wc.SendBuf > 0 {
		s.SendBuf = wc.SendBuf
	}
	if wc.ReadLimit > 0 {
		s.ReadLimit = wc.ReadLimit
	}
	if wc.PongWaitSec > 0 {
		s.PongWait = time.Duration(wc.PongWaitSec) * time.Second
	}
	if wc.PingPeriodSec > 0 {
		s.PingPeriod = time.Duration(wc.PingPeriodSec) * time.Second
	}
	if wc.MsgRPS > 0 {
		s.Limiter = ratelimit.NewStore(rate.Limit(wc.MsgRPS), wc.MsgBurst, 10*time.Minute)
		s.Limiter.StartJanitor(ctx, time.Minute)
	}
	return s
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Run serves HTTP and the relay until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.chat.Start(gctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	g.Go(func() error {
		logger.Info(ctx, "http listening", zap.String("addr", a.srv.Addr), zap.String("node_id", a.chat.NodeID()))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		wait := time.Duration(a.cfg.HTTP.ShutdownSeconds) * time.Second
		if wait <= 0 {
			wait = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		err := a.srv.Shutdown(sctx)
		a.Close(sctx)
		return err
	})

	err := g.Wait()
	logger.Info(context.Background(), "service stopped", zap.Error(err))
	return err
}

// Close releases everything New opened, newest first.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn(ctx, "close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// Handler exposes the HTTP handler, used by tests.
func (a *App) Handler() http.Handler { return a.srv.Handler }
