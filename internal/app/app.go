// Package app wires configuration into the object graph shared by wardend
// and wardenctl: stores, source registry, pullers, session manager and
// authenticator. Everything is held by this struct and passed by reference;
// nothing lives in package-level globals.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"database/sql"

	"github.com/redis/go-redis/v9"

	"warden/internal/auth"
	"warden/internal/platform/config"
	"warden/internal/platform/metrics"
	"warden/internal/platform/postgres"
	"warden/internal/principal"
	"warden/internal/session"
	"warden/internal/source"
	"warden/internal/source/directory"
	"warden/internal/source/pull"
	"warden/pkg/audit"
)

// CombinedStore is what both store implementations satisfy.
type CombinedStore interface {
	principal.Store
	principal.GroupStore
}

type App struct {
	Cfg    *config.Config
	Logger *slog.Logger

	DB         *sql.DB
	Principals CombinedStore
	Registry   *source.Registry
	Pulls      *pull.Manager
	Sessions   *session.Manager
	Authn      *auth.Authenticator
	Tokens     *auth.TokenIssuer
	Metrics    *metrics.Metrics
	Audit      *audit.Publisher

	Snapshotter *session.RedisSnapshotter
	redisClient *redis.Client
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Cfg:      cfg,
		Logger:   logger,
		Registry: source.NewRegistry(),
		Pulls:    pull.NewManager(),
		Metrics:  metrics.New(),
	}

	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Principals = principal.NewPostgres(db)
	} else {
		a.Principals = principal.NewInMemoryStore()
	}

	if err := a.Registry.LoadDir(cfg.SourcesDir); err != nil {
		return nil, err
	}

	if err := a.initAudit(); err != nil {
		return nil, err
	}

	binders := map[string]auth.Binder{
		principal.SourceSystem: auth.LocalBinder{},
	}
	for _, srcCfg := range a.Registry.List() {
		client := directory.NewLDAPClient(srcCfg)
		binders[srcCfg.Name] = auth.NewFeedBinder(client)

		opts := []pull.Option{
			pull.WithLogger(logger),
			pull.WithMetrics(a.Metrics),
		}
		if a.DB != nil {
			opts = append(opts, pull.WithDB(a.DB))
		}
		puller, err := pull.New(srcCfg, client, a.Principals, a.Principals, opts...)
		if err != nil {
			return nil, err
		}
		if err := a.Pulls.Register(puller); err != nil {
			return nil, err
		}
	}

	a.Sessions = session.NewManager(
		session.Config{SessionTTL: cfg.SessionTTL, AnonymousTTL: cfg.AnonymousTTL},
		session.WithLogger(logger),
		session.WithMetrics(a.Metrics),
		session.WithChecker(a.checkPrincipal),
	)

	a.Tokens = auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.TokenTTL)
	authn, err := auth.New(a.Principals, binders,
		auth.WithLogger(logger),
		auth.WithMetrics(a.Metrics),
		auth.WithTokenIssuer(a.Tokens),
		auth.WithLockout(auth.NewLockout(auth.DefaultLockoutConfig())),
		auth.WithPostAuthHook(a.afterLogin),
		auth.WithAnonymousLogin(cfg.AnonymousLogin),
	)
	if err != nil {
		return nil, err
	}
	a.Authn = authn

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		a.Snapshotter = session.NewRedisSnapshotter(a.redisClient, "warden:sessions", 0)
	}

	return a, nil
}

func (a *App) initAudit() error {
	if len(a.Cfg.KafkaBrokers) > 0 {
		store, err := audit.NewKafkaStore(a.Cfg.KafkaBrokers, a.Cfg.KafkaTopic, a.Logger)
		if err != nil {
			return err
		}
		a.Audit = audit.NewPublisher(store,
			audit.WithAsyncBuffer(1024),
			audit.WithLogger(a.Logger),
		)
		return nil
	}
	a.Audit = audit.NewPublisher(audit.NewInMemoryStore(), audit.WithLogger(a.Logger))
	return nil
}

// checkPrincipal re-validates a session's principal on every session use. A
// principal that vanished or was deactivated mid-session invalidates the
// session on its next validation check.
func (a *App) checkPrincipal(ctx context.Context, login string) error {
	p, err := a.Principals.ByLogin(ctx, login)
	if err != nil {
		return fmt.Errorf("principal %q: %w", login, err)
	}
	if p.State == principal.StateDeactivated {
		return fmt.Errorf("principal %q is deactivated", login)
	}
	return nil
}

// afterLogin is the post-authentication hook: last-login bookkeeping and the
// audit record. Only non-anonymous successful logins reach it.
func (a *App) afterLogin(ctx context.Context, p *principal.Principal) {
	now := time.Now()
	p.LastLogin = &now
	p.UpdatedAt = now
	if err := a.Principals.Update(ctx, p); err != nil {
		a.Logger.Warn("last-login update failed",
			slog.String("login", p.Login),
			slog.String("error", err.Error()),
		)
	}

	e := audit.NewEvent(audit.EventLoginSucceeded)
	e.Login = p.Login
	e.Source = p.Source
	_ = a.Audit.Emit(ctx, e)
}

func (a *App) Close() {
	if a.Audit != nil {
		a.Audit.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
