package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"campusvote/config"
	"campusvote/internal/accounts"
	"campusvote/internal/admin"
	"campusvote/internal/api"
	"campusvote/internal/db"
	"campusvote/internal/health"
	"campusvote/internal/logs"
	"campusvote/internal/mailer"
	"campusvote/internal/metrics"
	"campusvote/internal/middleware"
	"campusvote/internal/repo"
	"campusvote/internal/secrets"
	"campusvote/internal/sessions"
	"campusvote/internal/voting"
)

// интервал чистки просроченных сессий (бэкенд db)
const sessionPurgeInterval = 15 * time.Minute

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	metrics  *metrics.Metrics
	sessions sessions.Store
	flows    *accounts.Service

	ctx    context.Context
	cancel context.CancelFunc
}

// InitLogs настраивает logrus по секции logs.
func InitLogs(cfg *config.Config) {
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
}

// OpenDB подключает БД и накатывает схему.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open failed: %w", err)
	}
	if err := db.Migrate(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	InitLogs(cfg)

	/* 2) DB + схема + конфиг выборов (строка создаётся при старте) */
	d, err := OpenDB(cfg)
	if err != nil {
		return err
	}
	a.db = d
	elections := repo.NewElectionStore(d)
	if _, err := elections.GetOrCreateConfig(context.Background()); err != nil {
		return fmt.Errorf("election config: %w", err)
	}

	/* 3) Метрики */
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.metrics = metrics.New(reg)

	/* 4) Сессии, почта, OTP */
	store, err := a.sessionStore()
	if err != nil {
		return err
	}
	a.sessions = store
	mgr := sessions.NewManager(store, cfg.Sessions.CookieName,
		time.Duration(cfg.Sessions.TTL)*time.Second, cfg.Sessions.SecureCookie)

	mail, err := mailer.New(cfg.Mail.Driver, mailer.SMTPOptions{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
	if err != nil {
		return err
	}

	sec := secrets.New(repo.NewSecretStore(d), secrets.Options{
		Length:         cfg.OTP.Length,
		ValidityPeriod: cfg.OTP.ValidityPeriod,
		Tolerance:      cfg.OTP.Tolerance,
	})
	sec.Metrics = a.metrics

	a.flows = accounts.NewService(d, sec, mail)
	a.flows.TokenTTL = time.Duration(cfg.Tokens.ExchangeTTL) * time.Second

	accountStore := repo.NewAccountStore(d)
	studentStore := repo.NewStudentStore(d)
	ledger := voting.NewLedger(d)
	ledger.Metrics = a.metrics
	matric := regexp.MustCompile(cfg.Students.MatriculationPattern)

	/* 5) Router + middleware */
	auth := &middleware.Auth{Sessions: mgr, Accounts: accountStore}
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.ClientIP(cfg.Server.TrustProxyHeaders),
		middleware.Logger(a.metrics),
		auth.Load,
	)

	/* 6) Health */
	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz

	/* 7) API */
	api.Attach(a.Router, api.Dependencies{
		Flows:         a.flows,
		Authenticator: &accounts.Authenticator{Accounts: accountStore, Students: studentStore},
		Sessions:      mgr,
		Elections:     elections,
		Students:      studentStore,
		Ledger:        ledger,
		Matriculation: matric,
		OTPLength:     cfg.OTP.Length,
		Now:           time.Now,
	})
	admin.Attach(a.Router, admin.Dependencies{
		Elections:     elections,
		Students:      studentStore,
		Ledger:        ledger,
		Matriculation: matric,
	})
	if cfg.Metrics.Enabled {
		a.Router.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) sessionStore() (sessions.Store, error) {
	switch a.cfg.Sessions.Backend {
	case "redis":
		rs := sessions.NewRedisStore(a.cfg.Sessions.RedisAddr, a.cfg.Sessions.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis sessions: %w", err)
		}
		return rs, nil
	default:
		return sessions.NewDBStore(a.db), nil
	}
}

// purgeSessions периодически удаляет просроченные строки сессий.
func (a *App) purgeSessions(store *sessions.DBStore) {
	t := time.NewTicker(sessionPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-t.C:
			n, err := store.Purge(a.ctx)
			if err != nil {
				logs.Logger.WithError(err).Warn("session purge failed")
				continue
			}
			if n > 0 {
				logs.Logger.Debugf("purged %d expired sessions", n)
			}
		}
	}
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	if ds, ok := a.sessions.(*sessions.DBStore); ok {
		go a.purgeSessions(ds)
	}

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	if rs, ok := a.sessions.(*sessions.RedisStore); ok {
		_ = rs.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
