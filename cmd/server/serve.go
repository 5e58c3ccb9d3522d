// cmd/server/serve.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jason-s-yu/dyad/internal/auth"
	"github.com/jason-s-yu/dyad/internal/cache"
	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/channels"
	"github.com/jason-s-yu/dyad/internal/consumer"
	"github.com/jason-s-yu/dyad/internal/database"
	"github.com/jason-s-yu/dyad/internal/handlers"
	"github.com/jason-s-yu/dyad/internal/matchmaking"
	"github.com/jason-s-yu/dyad/internal/middleware"
	"github.com/jason-s-yu/dyad/internal/presence"
	"github.com/jason-s-yu/dyad/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func newLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// components are the collaborators built from a Config.
type components struct {
	deps     consumer.Deps
	verifier auth.Verifier
	closers  []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func build(ctx context.Context, cfg *Config, logger *logrus.Logger) (*components, error) {
	comp := &components{}
	cat := catalog.Default()
	terminal, _ := cat.At(len(cat) - 1)

	var store *database.Store
	if cfg.databaseURL != "" {
		s, err := database.Connect(ctx, cfg.databaseURL, terminal.ID)
		if err != nil {
			return nil, err
		}
		comp.closers = append(comp.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			comp.close()
			return nil, err
		}
		store = s
		logger.Info("connected to database")
	}

	var rdb *redis.Client
	if cfg.needsRedis() {
		c, err := cache.ConnectRedis(ctx, cfg.redisAddr, cfg.redisDB)
		if err != nil {
			comp.close()
			return nil, err
		}
		comp.closers = append(comp.closers, func() { c.Close() })
		rdb = c
		logger.Infof("connected to redis at %s", cfg.redisAddr)
	}

	var (
		presenceStore presence.Store
		layer         channels.Layer
	)
	switch cfg.backend {
	case "redis":
		presenceStore = presence.NewRedisStore(rdb, presence.DefaultKeyPrefix, logger)
		layer = channels.NewRedisLayer(rdb, "dyad", logger)
	default:
		presenceStore = presence.NewMemoryStore()
		layer = channels.NewMemoryLayer(logger)
	}
	registry := presence.NewRegistry(presenceStore, presence.WithTTL(cfg.presenceTTL))

	var recorder session.Recorder
	switch {
	case cfg.recordMode == "queue":
		recorder = cache.NewRecordQueue(rdb, cfg.recordQueue)
	case store != nil:
		recorder = store
	default:
		logger.Warn("no database configured, game records are not kept")
	}

	var history matchmaking.History
	var directory auth.Directory
	if store != nil {
		history = store
		directory = store
	}

	verifier, err := newVerifier(cfg, directory, logger)
	if err != nil {
		comp.close()
		return nil, err
	}
	comp.verifier = verifier

	info, _ := cfg.pairingInfoTypes()
	comp.deps = consumer.Deps{
		Layer:     layer,
		Registry:  registry,
		Matcher:   matchmaking.NewMatcher(registry, history, cfg.development, logger),
		Sequencer: session.NewSequencer(cat, recorder, logger),
		InfoType:  info,
		Logger:    logger,
	}
	return comp, nil
}

func newVerifier(cfg *Config, dir auth.Directory, logger *logrus.Logger) (auth.Verifier, error) {
	if cfg.publicKey != "" {
		key, err := auth.LoadPublicKey(cfg.publicKey)
		if err != nil {
			return nil, err
		}
		return auth.NewJWTVerifier(key, dir), nil
	}
	_, pub, err := auth.NewIssuer(0)
	if err != nil {
		return nil, err
	}
	logger.Warn("no --public-key given, using a throwaway key pair; no external token will verify")
	return auth.NewJWTVerifier(pub, dir), nil
}

func newMux(cfg *Config, comp *components, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler)
	mux.Handle("/ws", handlers.SessionWSHandler(logger, comp.verifier, comp.deps, handlers.Options{
		OriginPatterns: cfg.origins,
		Rate:           rate.Limit(cfg.rate),
		Burst:          cfg.burst,
	}))
	return middleware.LogMiddleware(logger, "/healthz")(mux)
}

func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)
	logger.Infof("starting dyad-server v%s", releaseVersion)

	comp, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comp.close()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           newMux(cfg, comp, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       10 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	logger.Info("server stopped")
	return err
}
