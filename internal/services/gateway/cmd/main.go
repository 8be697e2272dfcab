package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/sensorlink/internal/config"
	"github.com/LeonardoBeccarini/sensorlink/internal/metrics"
	"github.com/LeonardoBeccarini/sensorlink/internal/sensor"
	"github.com/LeonardoBeccarini/sensorlink/internal/services/aggregator"
	"github.com/LeonardoBeccarini/sensorlink/internal/services/device"
	"github.com/LeonardoBeccarini/sensorlink/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/sensorlink/internal/services/persistence"
	"github.com/LeonardoBeccarini/sensorlink/internal/store"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfgFile := flag.String("config", "", "path to sensorlink.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// === Store + adapter ===
	st, connected, err := store.Open(ctx, cfg, m)
	if err != nil {
		log.Fatalf("gateway: open store: %v", err)
	}
	adapter := sensor.NewAdapter(st,
		sensor.WithMetrics(m),
		sensor.WithBreaker(cfg.Breaker.Failures, cfg.Breaker.OpenFor, cfg.Breaker.Interval),
		sensor.WithWriteTimeout(cfg.Write.Timeout),
	)

	gwCfg := app.Config{
		Connected:      connected,
		Metrics:        m,
		IdempotencyTTL: cfg.Write.IdempotencyTTL,
	}

	var (
		wg         sync.WaitGroup
		windowSink func(aggregator.Window)
	)

	// === InfluxDB (optional) ===
	ic := persistence.InfluxConfig{
		InfluxURL:    cfg.Influx.URL,
		InfluxToken:  cfg.Influx.Token,
		InfluxOrg:    cfg.Influx.Org,
		InfluxBucket: cfg.Influx.Bucket,
		Measurement:  cfg.Influx.Measurement,
	}
	if ic.Enabled() {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(cfg.Influx.BatchSize).
			SetFlushInterval(uint(cfg.Influx.FlushInterval.Milliseconds()))
		influx := influxdb2.NewClientWithOptions(ic.InfluxURL, ic.InfluxToken, opts)
		defer influx.Close()
		writeAPI := influx.WriteAPI(ic.InfluxOrg, ic.InfluxBucket)
		defer writeAPI.Flush()

		writer := persistence.NewWriter(writeAPI, func(error) { m.InfluxWriteFailed() })
		gwCfg.WriteErrorAge = writer.LastErrorAge
		gwCfg.History = persistence.NewHistoryHandler(influx.QueryAPI(ic.InfluxOrg), ic.InfluxBucket, ic.Measurement)

		windowMeasurement := ic.Measurement + "_window"
		windowSink = func(w aggregator.Window) { writer.WritePoint(w.Point(windowMeasurement)) }

		rec := persistence.NewService(adapter.SensorData(), writer, ic.Measurement, sensor.Path)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Start(ctx)
		}()
	} else {
		log.Printf("gateway: influx not configured, history disabled")
	}

	// === Snapshot windows ===
	if cfg.Aggregator.Interval > 0 {
		agg := aggregator.NewDataAggregatorService(adapter.SensorData(), cfg.Aggregator.Interval, windowSink)
		gwCfg.Stats = agg
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Start(ctx)
		}()
	}

	gw := app.NewGateway(adapter, gwCfg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.Start(ctx)
	}()

	// === HTTP ===
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("gateway: HTTP listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway: http server error: %v", err)
		}
	}()

	// === gRPC ===
	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		log.Fatalf("gateway: grpc listen: %v", err)
	}
	gs := grpc.NewServer()
	device.RegisterSensorServiceServer(gs, device.NewGrpcHandler(adapter, cfg.Write.IdempotencyTTL))
	go func() {
		log.Printf("gateway: gRPC listening on %s", lis.Addr())
		if err := gs.Serve(lis); err != nil {
			log.Printf("gateway: grpc server stopped: %v", err)
		}
	}()

	// === Wait for signal ===
	<-ctx.Done()
	log.Printf("gateway: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shCancel()
	if err := hs.Shutdown(shCtx); err != nil {
		// open event streams do not end on their own
		_ = hs.Close()
	}

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shCtx.Done():
		gs.Stop()
	}

	wg.Wait()
	log.Printf("gateway: bye")
}
