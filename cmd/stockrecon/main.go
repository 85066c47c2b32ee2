package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockrecon/internal/app"
	"github.com/odyssey-erp/stockrecon/internal/stock"
	"github.com/odyssey-erp/stockrecon/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Default().Error("stockrecon", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "reconcile":
		opts, err := parseReconcileFlags(args)
		if err != nil {
			return err
		}
		return withService(ctx, cfg, logger, func(svc *stock.Service) error {
			return runReconcile(ctx, svc, opts, out)
		})
	case "drift":
		opts, err := parseDriftFlags(args)
		if err != nil {
			return err
		}
		return withService(ctx, cfg, logger, func(svc *stock.Service) error {
			return runDrift(ctx, svc, opts, out)
		})
	case "enqueue-sweep":
		opts, err := parseEnqueueFlags(args)
		if err != nil {
			return err
		}
		return enqueueSweep(ctx, cfg, opts, out)
	default:
		return fmt.Errorf("unknown command %q (want serve, reconcile, drift or enqueue-sweep)", cmd)
	}
}

func withService(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*stock.Service) error) error {
	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()
	return fn(container.Service)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracing, err := app.SetupTracing(ctx, cfg)
	if err != nil {
		return err
	}

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		StockHandler: stock.NewHandler(logger, container.Service, stock.HandlerConfig{
			SweepsPerMinute: cfg.SweepsPerMinute,
			SweepTimeout:    cfg.SweepTimeout,
		}),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    container.Metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", slog.Any("error", err))
	}
	return nil
}

type enqueueOptions struct {
	products []string
}

func parseEnqueueFlags(args []string) (enqueueOptions, error) {
	var (
		opts     enqueueOptions
		products string
	)
	fs := flag.NewFlagSet("enqueue-sweep", flag.ContinueOnError)
	fs.StringVar(&products, "products", "", "comma separated product ids (default: all)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.products = splitList(products)
	return opts, nil
}

func enqueueSweep(ctx context.Context, cfg *app.Config, opts enqueueOptions, out io.Writer) error {
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer client.Close()
	info, err := client.EnqueueReconcile(ctx, opts.products)
	if err != nil {
		return fmt.Errorf("enqueue sweep: %w", err)
	}
	_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return err
}
