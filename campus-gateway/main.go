package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	healthgo "github.com/hellofresh/health-go/v5"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
	"github.com/taldoflemis/campusdarpio/pacchetto/telemetry"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

// @title		Campus Gateway
// @version		1.0
// @description	REST facade over the Campusdarpio backend with cached reads and live orders.
// @host		localhost:8080
// @BasePath	/
func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()
	retcode := 0
	defer func() {
		os.Exit(retcode)
	}()

	slog.InfoContext(ctx, "Launching campus-gateway")

	slog.InfoContext(ctx, "Loading config")
	settings, err := LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("err", err))
		retcode = 1
		return
	}

	slog.InfoContext(ctx, "Setting up opentelemetry")
	otelShutdown, err := telemetry.SetupOTelSDK(ctx, settings.App, settings.OpenTelemetry)
	if err != nil {
		slog.Error("failed to setup telemetry", slog.Any("err", err))
		retcode = 1
		return
	}

	defer func() {
		err = errors.Join(err, otelShutdown(context.Background()))
		if err != nil {
			slog.ErrorContext(
				ctx,
				"failed to shutdown opentelemetry providers",
				slog.Any("err", err),
			)
			retcode = 1
		}
	}()

	client, err := transport.New(transport.Config{
		BaseURL:   settings.Backend.BaseURL,
		Timeout:   settings.Backend.Timeout(),
		Headers:   settings.Backend.Headers,
		UserAgent: settings.App.Name + "/" + settings.App.Version,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create backend client", slog.Any("err", err))
		retcode = 1
		return
	}

	cache := querycache.New(querycache.Options{StaleTime: settings.Cache.StaleTime()})
	defer cache.Close()

	opts := darpio.Options{
		Policy: retry.FromSettings(settings.Retry),
		Cache:  cache,
	}

	var orders OrderFeed = NewGoChannelOrderFeed()
	checks := []healthgo.Config{{
		Name:    "backend",
		Timeout: 5 * time.Second,
		Check: func(ctx context.Context) error {
			return client.Get(ctx, darpio.Paths[darpio.ResourceCampi], nil, nil)
		},
	}}

	if settings.Nats.Enabled {
		slog.InfoContext(ctx, "Connecting to NATS server")
		nc, err := settings.Nats.GetNatsClient(settings.App.Name)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to NATS server", slog.Any("err", err))
			retcode = 1
			return
		}
		defer nc.Drain()

		pub := darpio.NewNATSPublisher(nc, settings.Nats.Subject)
		opts.Publisher = pub
		if _, err := darpio.SubscribeInvalidations(nc, settings.Nats.Subject, pub.Origin(), cache); err != nil {
			slog.ErrorContext(ctx, "failed to subscribe to invalidations", slog.Any("err", err))
			retcode = 1
			return
		}
		orders = NewNATSOrderFeed(nc, settings.Nats.Subject+".pedidos")
		checks = append(checks, natsCheck(nc))
	}

	svc, err := darpio.New(client, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create services", slog.Any("err", err))
		retcode = 1
		return
	}

	slog.InfoContext(ctx, "Setting up health checker")
	health, err := healthgo.New(
		healthgo.WithComponent(healthgo.Component{
			Name:    settings.App.Name,
			Version: settings.App.Version,
		}),
		healthgo.WithChecks(checks...),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create health checker", slog.Any("err", err))
		retcode = 1
		return
	}

	errChan := make(chan error)
	server := echo.New()

	NewMainHandler(server, settings, svc, orders, health)
	server.GET("/swagger/*", echoSwagger.WrapHandler)
	pprof.Register(server)

	go func() {
		slog.InfoContext(ctx, "listening for requests", slog.String("ip", settings.HTTP.IP), slog.String("port", settings.HTTP.Port))
		errChan <- server.Start(fmt.Sprintf("%s:%s", settings.HTTP.IP, settings.HTTP.Port))
	}()

	select {
	case err = <-errChan:
		slog.ErrorContext(ctx, "error when running server", slog.Any("err", err))
		retcode = 1
		return
	case <-ctx.Done():
		// Wait for first Signal arrives
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to shutdown gracefully the server", slog.Any("err", err))
	}
}

func natsCheck(nc *nats.Conn) healthgo.Config {
	return healthgo.Config{
		Name: "nats",
		Check: func(ctx context.Context) error {
			if !nc.IsConnected() {
				return errors.New("NATS connection is not active")
			}
			return nil
		},
	}
}
