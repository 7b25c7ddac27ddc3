package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep"
	fiberadapter "github.com/lborres/gatekeep/adapters/fiber"
	"github.com/lborres/gatekeep/config"
	"github.com/lborres/gatekeep/pkg/crypto"
)

// Request bodies and credentials are never part of the access log.
func logFormat() string {
	format := []string{
		"${time}",
		"${status}|${latency}",
		"${ip}",
		"${method}|${path}",
		"${error}",
	}
	return strings.Join(format, "|") + "\n"
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer st.Close()

	hasher, err := crypto.NewPasswordHasher(cfg.Auth.Hasher)
	if err != nil {
		log.Fatalf("password hasher: %v", err)
	}

	app := fiber.New(fiber.Config{AppName: "gatekeep"})
	app.Use(recoverer.New())
	app.Use(logger.New(logger.Config{
		Format:     logFormat(),
		TimeFormat: "2006/01/02 15:04:05",
		TimeZone:   "Local",
	}))
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	cacheConfig := cfg.CacheConfig()
	cookie := cfg.CookieConfig()
	sessionConfig := cfg.SessionConfig()

	g, err := gatekeep.New(gatekeep.Config{
		Secret:         cfg.Auth.Secret,
		Users:          st.users,
		Sessions:       st.sessions,
		HTTP:           fiberadapter.New(app, log),
		CacheConfig:    &cacheConfig,
		DisableCache:   !cfg.Cache.Enabled,
		SessionConfig:  &sessionConfig,
		Cookie:         &cookie,
		Limiter:        cfg.LimiterConfig(),
		PasswordHasher: hasher,
		BasePath:       cfg.Auth.BasePath,
		Logger:         log,
	})
	if err != nil {
		log.Fatalf("could not create gatekeep instance: %v", err)
	}

	sweeperDone := g.StartSweeper(ctx, cfg.Session.SweepInterval)

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.Server.Addr,
			"users":    cfg.Storage.Users,
			"sessions": cfg.Storage.Sessions,
			"env":      cfg.Env,
		}).Info("listening")
		serveErr <- app.Listen(cfg.Server.Addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("http server: %v", err)
		}
		stop()
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	<-sweeperDone

	log.Info("bye")
}
