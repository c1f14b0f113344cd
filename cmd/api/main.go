package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/config"
	"sitesafe.app/internal/httpapi"
	"sitesafe.app/internal/obs"
	"sitesafe.app/internal/store/memory"
	"sitesafe.app/internal/store/pg"
	"sitesafe.app/internal/store/redisstore"
	"sitesafe.app/internal/stream"
	"sitesafe.app/internal/tenancy"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := obs.Configure(os.Stdout, cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

// backends groups the store implementations chosen from config.
type backends struct {
	tx       auth.TxRunner
	tenants  auth.TenantStore
	users    auth.UserStore
	grants   auth.GrantStore
	sessions auth.SessionStore
	audit    audit.Store
	probe    httpapi.ReadyProbe
	closers  []func() error
}

func (b *backends) close(log zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close backend")
		}
	}
}

func openBackends(cfg config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.tx, b.tenants, b.users, b.grants, b.audit = db, db, db, db, db
		b.probe.DB = db
		log.Info().Msg("using postgres store")
	} else {
		mem := memory.New()
		b.tx, b.tenants, b.users, b.grants, b.audit = mem, mem, mem, mem, mem
		b.sessions = mem
		b.probe.DB = mem
		log.Warn().Msg("SITESAFE_PG_DSN not set; data lives in memory and is lost on restart")
	}

	switch {
	case cfg.RedisAddr != "":
		client, err := redisstore.NewClient(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			b.close(log)
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		sessions := redisstore.NewSessionStore(client, "")
		b.sessions = sessions
		b.probe.Sessions = sessions
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis session store")
	case b.sessions == nil:
		b.sessions = memory.New()
		log.Warn().Msg("SITESAFE_REDIS_ADDR not set; sessions are kept in process")
	}
	return b, nil
}

func tokenSecret(cfg config.Config, log zerolog.Logger) (string, error) {
	if cfg.TokenSecret != "" || !cfg.Dev() {
		return cfg.TokenSecret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	log.Warn().Msg("SITESAFE_TOKEN_SECRET not set; generated an ephemeral secret")
	return hex.EncodeToString(buf), nil
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	secret, err := tokenSecret(cfg, log)
	if err != nil {
		return err
	}
	signer, err := auth.NewTokenSigner(secret, cfg.TokenIssuer, cfg.Dev())
	if err != nil {
		return err
	}
	hasher := auth.NewHasher(auth.DefaultPasswordParams())

	sessions, err := auth.NewSessionService(b.users, b.tenants, b.sessions, signer,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithHasher(hasher),
		auth.WithLogger(log.With().Str("component", "sessions").Logger()),
	)
	if err != nil {
		return err
	}
	perms, err := auth.NewPermissionService(b.grants)
	if err != nil {
		return err
	}
	authz, err := auth.NewAuthorizer(perms)
	if err != nil {
		return err
	}
	users, err := auth.NewUserService(b.tx, b.users, b.tenants, sessions, hasher)
	if err != nil {
		return err
	}
	provisioner, err := tenancy.NewProvisioner(b.tx, b.tenants, b.users, b.grants,
		tenancy.WithHasher(hasher),
		tenancy.WithLogger(log.With().Str("component", "tenancy").Logger()),
	)
	if err != nil {
		return err
	}
	admin, err := tenancy.NewAdmin(b.tenants)
	if err != nil {
		return err
	}

	hub := stream.New()
	api, err := httpapi.New(httpapi.Deps{
		Sessions:    sessions,
		Authorizer:  authz,
		Permissions: perms,
		Users:       users,
		Provisioner: provisioner,
		Admin:       admin,
		Audit:       audit.NewRecorder(b.audit, log, audit.WithPublisher(hub)),
		Ready:       b.probe,
		Stream:      hub,
	},
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RatePerSec, cfg.RateBurst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	if err != nil {
		return err
	}

	srv := api.Server(cfg.HTTPAddr)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("env", cfg.Env).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		reporter := httpapi.NewHealthReporter(b.probe)
		reporter.Register(grpcSrv)
		reflection.Register(grpcSrv)
		go reporter.Run(ctx, 15*time.Second)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("starting grpc health server")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Info().Msg("stopped")
	return runErr
}
