package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokligence/chatrelay/internal/adapter/groq"
	"github.com/tokligence/chatrelay/internal/adapter/loopback"
	adapterrouter "github.com/tokligence/chatrelay/internal/adapter/router"
	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/bootstrap"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/graphql"
	"github.com/tokligence/chatrelay/internal/health"
	"github.com/tokligence/chatrelay/internal/hooks"
	"github.com/tokligence/chatrelay/internal/httpserver"
	"github.com/tokligence/chatrelay/internal/ledger"
	ledgerasync "github.com/tokligence/chatrelay/internal/ledger/async"
	ledgerpg "github.com/tokligence/chatrelay/internal/ledger/postgres"
	ledgersql "github.com/tokligence/chatrelay/internal/ledger/sqlite"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/ratelimit"
	"github.com/tokligence/chatrelay/internal/telemetry"
	"github.com/tokligence/chatrelay/internal/upload"
	"github.com/tokligence/chatrelay/internal/upstream"
	"github.com/tokligence/chatrelay/internal/userstore"
	userstorepg "github.com/tokligence/chatrelay/internal/userstore/postgres"
	userstoresqlite "github.com/tokligence/chatrelay/internal/userstore/sqlite"
	"github.com/tokligence/chatrelay/internal/version"
)

func main() {
	root := flag.String("config-root", ".", "directory containing config/setting.ini")
	initOnly := flag.Bool("init", false, "write a starter config tree under -config-root and exit")
	initEnv := flag.String("env", "dev", "environment name used with -init")
	force := flag.Bool("force", false, "overwrite existing files with -init")
	flag.Parse()

	if *initOnly {
		if err := bootstrap.Init(bootstrap.InitOptions{Root: *root, Environment: *initEnv, Force: *force}); err != nil {
			log.Fatalf("init config: %v", err)
		}
		log.Printf("wrote config tree under %s/config", *root)
		return
	}

	cfg, err := config.Load(*root)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logs, err := logging.NewSet("chatd", cfg.LogFile, cfg.LogMaxMB, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init log: %v", err)
	}
	defer logs.Close()
	log.SetOutput(logs.Writer())
	log.SetFlags(logging.Flags)
	log.SetPrefix("[chatd] ")
	log.Printf("chatd %s environment=%s upstream=%s", version.FullInfo(), cfg.Environment, cfg.Upstream)

	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "chatd",
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		Exporter:       cfg.Tracing,
		Writer:         logs.Writer(),
	})
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	users, closeUsers, err := openUserStore(cfg)
	if err != nil {
		log.Fatalf("open user store: %v", err)
	}
	defer closeUsers()

	ledgerStore, err := openLedger(cfg, logs)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer ledgerStore.Close()

	r, err := buildRouter(cfg, logs.Logger("router"))
	if err != nil {
		log.Fatalf("build adapter router: %v", err)
	}
	log.Printf("adapters registered: %v", r.ListAdapters())

	up := upstream.New(r,
		upstream.WithRecorder(ledgerStore),
		upstream.WithLogger(logs.Logger("upstream")),
	)

	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open upload store: %v", err)
	}
	defer closeBlobs()

	verifier, err := buildVerifier(cfg)
	if err != nil {
		log.Fatalf("configure auth: %v", err)
	}
	dispatcher := &hooks.Dispatcher{}
	if hc := (hooks.Config{ScriptPath: cfg.HookScript, Timeout: cfg.HookTimeout}); hc.Enabled() {
		dispatcher.Register(hooks.NewScriptHandler(hc))
		log.Printf("hooks enabled script=%s", hc.ScriptPath)
	}
	provisioner := auth.NewProvisioner(users, cfg.DefaultBalance, logs.Logger("auth"))
	provisioner.SetHooks(dispatcher)

	resolver := &graphql.Resolver{
		Upstream: up,
		Users:    users,
		Usage:    ledgerStore,
		Catalog:  cfg.Models,
		Defaults: chat.Defaults{Model: cfg.DefaultModel, MaxTokens: cfg.DefaultMaxTokens},
		Hooks:    dispatcher,
		Logger:   logs.Logger("graphql"),
	}

	httpSrv := httpserver.New(graphql.NewHandler(resolver), upload.NewService(blobs, cfg.UploadLimitBytes), verifier, provisioner)
	httpSrv.SetLogger(cfg.LogLevel, logs.Logger("http"))
	httpSrv.SetAuthRequired(cfg.AuthRequired)
	httpSrv.SetAdapters(r.ListAdapters())
	httpSrv.SetPlaygroundEnabled(cfg.PlaygroundEnabled)
	if cfg.UploadStore == "local" {
		httpSrv.SetUploadDir(cfg.UploadDir)
	}
	checker := health.New(health.Config{})
	if p, ok := users.(health.Pinger); ok {
		checker.AddDatabase("users", p)
	}
	if p, ok := ledgerStore.(health.Pinger); ok {
		checker.AddDatabase("ledger", p)
	}
	if cfg.Upstream == "groq" {
		checker.AddEndpoint("groq", cfg.GroqBaseURL+"/models")
	}
	httpSrv.SetHealthChecker(checker)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:             ratelimit.NewMemoryStore(),
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	defer limiter.Close()
	httpSrv.SetRateLimiter(limiter)

	// no WriteTimeout: streamed responses stay open for the length of the generation
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("chatd listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openUserStore(cfg config.Config) (userstore.Store, func(), error) {
	if config.UsesPostgres(cfg.DatabaseURL) {
		s, err := userstorepg.New(cfg.DatabaseURL, userstorepg.DefaultConfig())
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := userstoresqlite.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func openLedger(cfg config.Config, logs *logging.Set) (ledger.Store, error) {
	var base ledger.Store
	if config.UsesPostgres(cfg.LedgerURL) {
		s, err := ledgerpg.New(cfg.LedgerURL, ledgerpg.PoolConfig{MaxOpen: 10, MaxIdle: 5, ConnMaxLifetime: 30 * time.Minute})
		if err != nil {
			return nil, err
		}
		base = s
	} else {
		s, err := ledgersql.New(cfg.LedgerURL)
		if err != nil {
			return nil, err
		}
		base = s
	}
	var logger *log.Logger
	if logs.Debug() {
		logger = logs.Logger("ledger")
	}
	return ledgerasync.New(base, ledgerasync.Config{Logger: logger}), nil
}

func buildRouter(cfg config.Config, logger *log.Logger) (*adapterrouter.Router, error) {
	r := adapterrouter.New()
	if err := r.RegisterAdapter("loopback", loopback.New()); err != nil {
		return nil, err
	}
	gq, err := groq.New(groq.Config{
		APIKey:         cfg.GroqAPIKey,
		BaseURL:        cfg.GroqBaseURL,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := r.RegisterAdapter("groq", gq); err != nil {
		return nil, err
	}
	if err := r.RegisterRoute("loopback*", "loopback"); err != nil {
		return nil, err
	}
	if err := r.SetFallback(cfg.Upstream); err != nil {
		return nil, err
	}
	for _, m := range cfg.Models {
		name, err := r.GetAdapterForModel(m.ID)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		logger.Printf("model %s served by %s", m.ID, name)
	}
	return r, nil
}

func openBlobStore(ctx context.Context, cfg config.Config) (upload.BlobStore, func(), error) {
	if cfg.UploadStore == "gcs" {
		s, err := upload.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := upload.NewLocalStore(cfg.UploadDir, "/uploads")
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

func buildVerifier(cfg config.Config) (auth.Verifier, error) {
	verifiers := auth.Verifiers{auth.NewManager(cfg.AuthSecret)}
	if cfg.AuthJWTSecret != "" || cfg.AuthJWTPublicKeyFile != "" {
		v, err := auth.NewJWTVerifier(auth.JWTConfig{
			PublicKeyFile: cfg.AuthJWTPublicKeyFile,
			Secret:        cfg.AuthJWTSecret,
			Issuer:        cfg.AuthJWTIssuer,
		})
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
	}
	return verifiers, nil
}
