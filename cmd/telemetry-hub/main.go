package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raymondelooff/probe-telemetry-hub/gateway"
	"github.com/raymondelooff/probe-telemetry-hub/telemetry"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("error: config file location not specified")
	}

	c, err := telemetry.LoadConfig(os.Args[1])
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	// Set up logger
	var logger *zap.Logger
	if c.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up gateway
	var gw telemetry.Gateway
	switch c.Gateway.Kind {
	case telemetry.GatewayHardware:
		hw, err := gateway.NewHardware(c.Gateway, c.Sensors, sugar)
		if err != nil {
			sugar.Fatalf("gateway: %s", err)
		}
		defer hw.Close()
		gw = hw
	default:
		gw = gateway.NewSimulated(c.SensorIDs(), time.Now().UnixNano(), sugar)
	}

	// Set up core
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	store := telemetry.NewStore(c.HistoryCapacity)
	hub := telemetry.NewHub(c.Hub.QueueSize, sugar, metrics)
	table := telemetry.NewActuatorTable()
	sampler := telemetry.NewSampler(c.SamplerConfig(), gw, store, hub, table, sugar, metrics)
	commander := telemetry.NewCommander(gw, table, sugar, metrics)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("telemetry-hub: worker stopped", "worker", name, "error", err)
			}
		}()
	}

	// Set up optional sinks
	if c.AMQP.DSN != "" {
		publisher, err := telemetry.NewPublisher(c.AMQP, hub, sugar)
		if err != nil {
			sugar.Fatalf("publisher: %s", err)
		}
		if err := publisher.Connect(); err != nil {
			sugar.Errorw("publisher: disabled", "error", err)
		} else {
			defer publisher.Shutdown()
			run("publisher", publisher.Run)
		}
	}

	if c.MySQL.DSN != "" {
		db, err := telemetry.NewDbConnection(c.MySQL)
		if err != nil {
			sugar.Errorw("writer: disabled", "error", err)
		} else {
			defer db.Close()
			writer := telemetry.NewWriter(c.MySQL, db, hub, sugar)
			defer writer.Close()
			run("writer", writer.Run)
		}
	}

	run("sampler", sampler.Run)

	srv := &http.Server{
		Addr:    c.HTTP.Addr,
		Handler: telemetry.NewServer(c, store, hub, commander, reg, sugar),
	}
	go func() {
		sugar.Infow("telemetry-hub: listening", "addr", c.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("telemetry-hub: http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Info("telemetry-hub: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("telemetry-hub: http shutdown", "error", err)
	}

	hub.Close()
	wg.Wait()

	sugar.Info("telemetry-hub: shutdown OK")
}
