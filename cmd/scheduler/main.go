package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"klinika-scheduler/internal/api"
	"klinika-scheduler/internal/auth"
	"klinika-scheduler/internal/config"
	gweb "klinika-scheduler/internal/grpcweb"
	"klinika-scheduler/internal/handler"
	"klinika-scheduler/internal/logger"
	"klinika-scheduler/internal/metrics"
	"klinika-scheduler/internal/middleware"
	"klinika-scheduler/internal/model"
	"klinika-scheduler/internal/schedule"
	"klinika-scheduler/internal/session"
	"klinika-scheduler/internal/store"
	"klinika-scheduler/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("timezone: %v", err)
	}
	model.Zone = loc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// session
	tokens, closeTokens, err := tokenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("token store: %v", err)
	}
	defer closeTokens()

	sess := session.New(tokens)
	sess.Subscribe(func(ev session.Event, c *auth.Claims) {
		e := log.WithComponent("session")
		if c != nil {
			e = log.WithUserID(c.UserID).WithFields(logrus.Fields{"component": "session", "role": c.Role()})
		}
		e.WithField("event", ev.String()).Info("session changed")
	})
	if err := sess.Restore(ctx); err != nil && !errors.Is(err, session.ErrNoToken) {
		log.WithError(err).Warn("stored token not restored")
	}

	m := metrics.New()
	client, err := api.New(sess, api.Options{
		BaseURL: cfg.APIURL,
		Timeout: cfg.HTTPTimeout,
		RPS:     cfg.APIRPS,
		Burst:   cfg.APIBurst,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		log.Fatalf("api client: %v", err)
	}

	// the daemon's own credentials, used again whenever the backend drops
	// the session
	var relogin func(ctx context.Context) error
	if cfg.Email != "" {
		relogin = func(ctx context.Context) error {
			_, err := client.Login(ctx, cfg.Email, cfg.Password)
			return err
		}
	}
	if !sess.LoggedIn() && relogin != nil {
		if err := relogin(ctx); err != nil {
			log.WithError(err).Warn("login with KLINIKA_EMAIL failed")
		}
	}
	if !sess.IsAdmin() {
		log.Warn("session is not an admin, the sweep cannot cancel appointments until one logs in")
	}

	hours := schedule.DefaultHours
	hours.Exclusive = cfg.SlotEndExclusive
	finder := schedule.NewFinder(client, schedule.WithHours(hours))

	// sweep, with the ledger when a database is configured
	var sw handler.Sweeper
	if cfg.SweepEnabled {
		opts := []sweep.Option{sweep.WithLogger(log), sweep.WithMetrics(m)}
		if relogin != nil {
			opts = append(opts, sweep.WithReauth(relogin))
		}
		if cfg.DatabaseURL != "" {
			st, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				log.Fatalf("%v", err)
			}
			defer st.Close()
			log.Info("connected to postgres")

			// run migrations
			if err := st.Migrate(ctx, store.MigrationFile); err != nil {
				log.WithError(err).Warn("migration not applied")
			} else {
				log.Info("migration applied")
			}
			opts = append(opts, sweep.WithLedger(st))
		}
		s := sweep.New(client, opts...)
		if err := s.Start(ctx, cfg.SweepSchedule); err != nil {
			log.Fatalf("%v", err)
		}
		defer s.Stop()
		sw = s
	}

	h := handler.New(client, finder, sw, handler.WithLocation(loc))

	// without a secret the backend vouches for each bearer
	var check *middleware.BackendCheck
	if cfg.JWTSecret == "" {
		check = middleware.NewBackendCheck(client, time.Minute)
	}

	// grpc server
	rl := middleware.NewRateLimiter(5, 10)
	defer rl.Stop()
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.Logging(log),
			middleware.RateLimit(rl),
			middleware.Auth(cfg.JWTSecret, check),
		),
	)
	handler.RegisterSchedulerServer(srv, h)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go func() {
		log.Infof("grpc on :%s", cfg.GRPCPort)
		if err := srv.Serve(lis); err != nil {
			log.WithError(err).Error("grpc")
		}
	}()

	var servers []*http.Server

	// grpc-web bridge -> forwards browser requests to grpc on localhost
	if cfg.WebPort != "" {
		bridge, err := gweb.New("localhost:"+cfg.GRPCPort, gweb.Options{Logger: log, Origins: cfg.Origins()})
		if err != nil {
			log.Fatalf("bridge: %v", err)
		}
		defer bridge.Close()
		servers = append(servers, serve(log, "grpc-web", ":"+cfg.WebPort, bridge.Handler()))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	servers = append(servers, serve(log, "metrics", cfg.MetricsAddr, mux))

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info("shutting down")
	cancel()

	srv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}
}

func serve(log *logger.Logger, name, addr string, h http.Handler) *http.Server {
	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("%s on %s", name, addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("%s server", name)
		}
	}()
	return s
}

func tokenStore(ctx context.Context, cfg *config.Config) (session.TokenStore, func(), error) {
	switch cfg.TokenStore {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "file":
		return session.NewFileStore(cfg.TokenFile, cfg.TokenKey), func() {}, nil
	case "redis":
		rs, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "klinika:scheduler:",
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
}
