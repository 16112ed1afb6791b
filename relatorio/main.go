package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/taldoflemis/campusdarpio/darpio"
	"github.com/taldoflemis/campusdarpio/pacchetto/querycache"
	"github.com/taldoflemis/campusdarpio/pacchetto/retry"
	"github.com/taldoflemis/campusdarpio/pacchetto/telemetry"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

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

	settings, err := LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("err", err))
		retcode = 1
		return
	}

	// stdout carries the tables
	otelShutdown, err := telemetry.SetupOTelSDK(ctx, settings.App, settings.OpenTelemetry, telemetry.WithLogOutput(os.Stderr))
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

	// one run only, so nothing goes stale before exit
	cache := querycache.New(querycache.Options{})
	defer cache.Close()

	svc, err := darpio.New(client, darpio.Options{Policy: retry.FromSettings(settings.Retry), Cache: cache})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create services", slog.Any("err", err))
		retcode = 1
		return
	}

	var nc *nats.Conn
	if settings.Nats.Enabled {
		nc, err = settings.Nats.GetNatsClient(settings.App.Name)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to NATS server", slog.Any("err", err))
			retcode = 1
			return
		}
		defer nc.Close()
	}

	cli, err := newCLI(svc, nc, settings.Nats.Subject)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create cli", slog.Any("err", err))
		retcode = 1
		return
	}

	// cobra already printed the command error
	if cmdErr := cli.root().ExecuteContext(ctx); cmdErr != nil {
		retcode = 1
	}
}
