package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitymap"
	"github.com/goliatone/go-portal-auth/guard"
	"github.com/goliatone/go-portal-auth/metrics"
	"github.com/goliatone/go-portal-auth/phone"
	"github.com/goliatone/go-portal-auth/phone/redisotp"
	"github.com/goliatone/go-portal-auth/repository"
	"github.com/goliatone/go-portal-auth/session"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config   auth.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	rdb      *redis.Client
	repo     repository.Manager
	verifier *session.FirebaseVerifier
	sink     *metrics.Sink
	srv      router.Server[*fiber.App]
	metrics  *http.Server
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	cfg, err := auth.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := glog.Info
	if cfg.Debug {
		level = glog.Debug
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("portal-auth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	if cfg.Debug {
		redacted := cfg
		redacted.SessionSigningKey = "***"
		redacted.RedisPassword = "***"
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(redacted))
		fmt.Println("============")
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithRedis(ctx, app); err != nil {
		panic(err)
	}

	if err := WithMetrics(app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(app); err != nil {
		panic(err)
	}

	app.srv.Serve(cfg.HTTPAddr)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
	app.Close()
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DatabaseDSN)
	if err != nil {
		return err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := repository.CreateSchema(ctx, db); err != nil {
		return err
	}

	app.db = db
	app.repo = repository.NewManager(db)
	app.repo.MustValidate()
	return nil
}

func WithRedis(ctx context.Context, app *App) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return auth.WrapError(auth.ErrProviderUnavailable, err, map[string]any{
			"redis_addr": app.config.RedisAddr,
		})
	}

	app.rdb = rdb
	return nil
}

func WithMetrics(app *App) error {
	activityLogger := app.GetLogger("activity")
	sink, err := metrics.NewSink(metrics.WithNext(activitymap.Sink(func(n activitymap.Normalized) error {
		activityLogger.Info("activity",
			"actor", n.ActorID,
			"verb", n.Verb,
			"object", n.ObjectID,
			"metadata", print.MaybePrettyJSON(n.Metadata),
		)
		return nil
	})))
	if err != nil {
		return err
	}
	app.sink = sink

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sink.Registry(), promhttp.HandlerOpts{}))
	app.metrics = &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.GetLogger("metrics").Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

func WithHTTPServer(app *App) error {
	cfg := app.config

	verifier, err := session.NewFirebaseVerifierFromJWKS(
		cfg.FirebaseProjectID,
		cfg.FirebaseJWKSURL,
		app.GetLogger("firebase"),
	)
	if err != nil {
		return err
	}
	app.verifier = verifier

	issuer, err := session.NewIssuer(verifier, []byte(cfg.SessionSigningKey),
		session.WithTTL(cfg.SessionTTL),
	)
	if err != nil {
		return err
	}

	cookie := auth.DefaultCookieOptions()
	cookie.Secure = cfg.CookieSecure

	users := app.repo.Users()

	sessionCtrl := session.NewHTTPController(issuer, session.HTTPConfig{
		Cookie:       &cookie,
		Registration: users,
		Logger:       app.GetLogger("session"),
		ActivitySink: app.sink,
	})

	otp := redisotp.New(app.rdb, redisotp.LogSender{Logger: app.GetLogger("otp:sender")}, redisotp.Config{
		CodeTTL:     cfg.PhoneCodeTTL,
		MaxAttempts: cfg.PhoneMaxAttempts,
		SendLimit:   cfg.PhoneSendLimit,
		SendWindow:  cfg.PhoneSendWindow,
	}, redisotp.WithLogger(app.GetLogger("otp")))

	phoneCtrl := phone.NewHTTPController(otp, users, sessionCtrl.Identify, phone.HTTPConfig{
		Region:       cfg.PhoneDefaultRegion,
		Logger:       app.GetLogger("phone"),
		ActivitySink: app.sink,
	})

	registrationCtrl := auth.NewRegistrationController(verifier, users,
		auth.WithRegistrationLogger(app.GetLogger("registration")),
		auth.WithRegistrationActivitySink(app.sink),
	)

	rules := guard.DefaultRules()
	if cfg.RouteRulesPath != "" {
		if rules, err = guard.LoadRules(cfg.RouteRulesPath); err != nil {
			return err
		}
	}
	routeGuard := guard.New(
		guard.WithRules(rules),
		guard.WithLogger(app.GetLogger("guard")),
		guard.WithActivitySink(app.sink),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: cfg.Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	srv.Router().Use(sessionCtrl.SnapshotMiddleware())
	srv.Router().Use(routeGuard.Middleware())

	api := srv.Router().Group("/api")
	sessionCtrl.RegisterRoutes(api)
	registrationCtrl.RegisterRoutes(api)
	phoneCtrl.RegisterRoutes(api.Group("/phone"))

	srv.Router().Get("/healthz", func(ctx router.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})

	app.srv = srv
	return nil
}

func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if a.verifier != nil {
		a.verifier.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
