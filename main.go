// Command autoreply runs the WhatsApp auto-reply engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaot623/autoreply/internal/adapter/llm"
	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/config"
	"github.com/xiaot623/autoreply/internal/hub"
	"github.com/xiaot623/autoreply/internal/logging"
	"github.com/xiaot623/autoreply/internal/repository"
	"github.com/xiaot623/autoreply/internal/service"
	handler "github.com/xiaot623/autoreply/internal/transport/http"
	"github.com/xiaot623/autoreply/internal/transport/http/webhook"
	"github.com/xiaot623/autoreply/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pairingSweepInterval = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:           "autoreply",
	Short:         "WhatsApp auto-reply engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// serveCmd is the default command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and session engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting autoreply",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("transport", cfg.Transport),
		zap.String("llm_provider", cfg.LLMProvider))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tr, closeTransport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	completer, err := llm.NewCompleter(ctx, llm.Options{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		GenAIAPIKey: cfg.GenAIAPIKey,
		Timeout:     cfg.LLMTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	var relay hub.Relay
	if cfg.RedisURL != "" {
		redisRelay, err := hub.NewRedisRelay(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer redisRelay.Close()
		relay = redisRelay
		logger.Info("status relay enabled")
	}
	events := hub.NewHub(relay, logger)

	svc := service.New(store, tr, completer, events, cfg, policyEngine, logger)
	defer svc.Close()

	var twilio webhook.TwilioReceiver
	if t, ok := tr.(*transport.TwilioTransport); ok {
		twilio = t
	}
	server := handler.NewServer(cfg, svc, events, twilio, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunPairingMonitor(gctx, pairingSweepInterval)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("API started", zap.String("addr", addr))
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown server gracefully", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("autoreply stopped")
	return err
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return repository.NewSQLiteStore(cfg.DatabaseURL)
	case config.DriverPostgres, config.DriverGormSQLite:
		return repository.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.DatabaseDriver)
	}
}

// openTransport returns the configured backend and its release function.
func openTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (transport.Transport, func(), error) {
	switch cfg.Transport {
	case config.TransportWhatsmeow:
		t, err := transport.NewWhatsmeowTransport(ctx, cfg.WhatsmeowStoreDSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize whatsmeow: %w", err)
		}
		return t, func() {
			if err := t.Close(); err != nil {
				logger.Warn("failed to close whatsmeow store", zap.Error(err))
			}
		}, nil
	case config.TransportTwilio:
		t, err := transport.NewTwilioTransport(transport.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			Timeout:    cfg.SendTimeout,
		}, logger.Named("twilio"))
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	case config.TransportMock:
		logger.Warn("using mock transport, no messages leave this process")
		return transport.NewMockTransport(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}
