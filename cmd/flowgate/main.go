package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/flowgate/internal/api"
	"github.com/sungwon/flowgate/internal/auth"
	"github.com/sungwon/flowgate/internal/config"
	"github.com/sungwon/flowgate/internal/credentials"
	"github.com/sungwon/flowgate/internal/dlq"
	"github.com/sungwon/flowgate/internal/logger"
	"github.com/sungwon/flowgate/internal/payload"
	"github.com/sungwon/flowgate/internal/processing"
	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/queuestore"
	"github.com/sungwon/flowgate/internal/storage"
	"github.com/sungwon/flowgate/internal/vm"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-key" {
		hash, err := auth.HashKey(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration from the "config" directory.
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("flowgate exited with error")
		os.Exit(1)
	}
	log.Info().Msg("flowgate stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("starting flowgate")
	checks := make(map[string]api.Pinger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		checks["redis"] = api.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var db *storage.DB
	if cfg.Store.Type == "postgres" {
		var err error
		db, err = storage.NewDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		checks["database"] = db
		log.Info().Msg("database connection established")
	}

	// Queues
	durable, err := queuestore.New(ctx, cfg.Store, queuestore.Deps{Redis: redisClient, DB: db}, logger.Component(log, "queuestore"))
	if err != nil {
		return err
	}
	opts := []queue.Option{queue.WithDefaultConfig(cfg.Queue.Default)}
	if durable != nil {
		opts = append(opts, queue.WithDurableBackend(durable))
	}
	mgr := queue.NewManager(logger.Component(log, "queue"), opts...)
	for name, qc := range cfg.Queue.Queues {
		if err := mgr.SetQueueConfig(name, qc); err != nil {
			return err
		}
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start queue manager: %w", err)
	}
	checks["queues"] = mgr

	// Dispatch, dead letters and receivers
	payloads, err := payload.New(ctx, cfg.Payload, logger.Component(log, "payload"))
	if err != nil {
		return err
	}
	dispatcher := vm.NewDispatcher(mgr, cfg.Dispatch, payloads, logger.Component(log, "vm"))

	deadLetters, err := dlq.New(ctx, cfg.DLQ, redisClient, dispatcher, logger.Component(log, "dlq"))
	if err != nil {
		return err
	}

	strategy, err := processing.NewFactory(logger.Component(log, "processing")).Create(cfg.Processing)
	if err != nil {
		return err
	}

	var receivers []*vm.Receiver
	for _, b := range cfg.Bridges {
		var dl vm.DeadLetterQueue
		if deadLetters != nil {
			dl = deadLetters
		}
		r, err := vm.NewReceiver(mgr, dispatcher, strategy, bridge(dispatcher, b.Target), dl, b.ReceiverConfig, logger.Component(log, "receiver"))
		if err != nil {
			return err
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		receivers = append(receivers, r)
	}

	// Credentials
	var creds api.CredentialService
	if cfg.Credentials.Transport.TokenURL != "" {
		var store credentials.Store = credentials.NewMemoryStore()
		if cfg.Credentials.Store == "redis" {
			store = credentials.NewRedisStore(redisClient, cfg.Credentials.KeyPrefix)
		}
		transport := credentials.NewHTTPTransport(cfg.Credentials.Transport,
			credentials.NewHTTPClient(cfg.Credentials.Transport.Timeout))
		creds = credentials.NewCoordinator(cfg.Credentials.Config, store, transport,
			credentials.NewLockRegistry(), logger.Component(log, "credentials"))
	} else {
		log.Warn().Msg("credentials.transport.token_url not set; credential routes disabled")
	}

	// Admin API
	jwtService := auth.NewJWTService(cfg.Auth.JWT)
	apiKeys, err := auth.NewAPIKeySet(cfg.Auth.APIKeys)
	if err != nil {
		return err
	}
	if jwtService == nil && apiKeys.Len() == 0 {
		log.Warn().Msg("no JWT signing key or API keys configured; /api/v1 will reject every request")
	}

	deps := api.Deps{
		Queues:      mgr,
		Credentials: creds,
		JWT:         jwtService,
		APIKeys:     apiKeys,
		Checks:      maps.Clone(checks),
	}
	if deadLetters != nil {
		deps.DLQ = deadLetters
	}
	srv := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      api.NewRouter(deps, logger.Component(log, "api")),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		timeout := cfg.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		for _, r := range receivers {
			if err := r.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop receiver %s: %w", r.Endpoint(), err))
			}
		}
		if err := mgr.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if durable != nil {
			if err := durable.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// bridge forwards each message to target in the receiving session, so the
// move commits or rolls back with the take.
func bridge(d *vm.Dispatcher, target string) vm.Handler {
	return func(ctx context.Context, msg *vm.Message) (*vm.Message, error) {
		fwd := vm.NewMessage(msg.Payload)
		fwd.CorrelationID = msg.ID
		fwd.Headers = maps.Clone(msg.Headers)
		return nil, d.Dispatch(ctx, target, fwd)
	}
}
