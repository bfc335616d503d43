package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/api"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/config"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/predictor"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/transport/mqtt"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const programName = "air-guardian"

func init() {
	prometheus.MustRegister(versioncollector.NewCollector("air_guardian"))
}

func main() {
	var (
		configPath  string
		showVersion bool
	)

	klog.InitFlags(nil)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (environment variables are used when empty)")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.Print(programName))
		os.Exit(0)
	}

	klog.InfoS("Starting air-guardian", "version", version.Info(), "build", version.BuildContext())

	cfg, err := config.Load(configPath)
	if err != nil {
		klog.ErrorS(err, "Failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		var contractErr *predictor.ModelContractError
		if errors.As(err, &contractErr) {
			klog.ErrorS(err, "Refusing to start with an incompatible model", "source", contractErr.Source)
		} else {
			klog.ErrorS(err, "air-guardian exited with error")
		}
		klog.Flush()
		os.Exit(1)
	}
	klog.InfoS("air-guardian stopped")
	klog.Flush()
}

func run(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if c.archive != nil {
		restored, err := c.orchestrator.WarmStart(ctx)
		if err != nil {
			klog.ErrorS(err, "Warm start failed, starting with empty windows")
		} else {
			klog.InfoS("Warm start complete", "devices", restored)
		}
		go c.archive.RunCleanup(ctx, cfg.Archive.Retention, cfg.Archive.CleanupInterval)
	}

	var subscriber *mqtt.Subscriber
	if c.mqttClient != nil {
		handler := func(ctx context.Context, r types.Reading) {
			if _, err := c.orchestrator.ProcessAndLog(ctx, r); err != nil {
				klog.ErrorS(err, "Rejected reading", "device", r.DeviceID)
			}
		}
		subscriber = mqtt.NewSubscriber(c.mqttClient.Native(), mqtt.SubscriberConfig{
			Topic: cfg.MQTT.ReadingTopic,
			QoS:   byte(cfg.MQTT.QoS),
		}, handler, c.clock)
		if err := subscriber.Start(ctx); err != nil {
			return err
		}
	}

	opts := []api.Option{
		api.WithClock(c.clock),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithMetrics(cfg.Observability.MetricsEnabled),
	}
	if c.archive != nil {
		opts = append(opts, api.WithAnalytics(c.archive))
	}
	server := api.NewServer(c.orchestrator, opts...).HTTPServer(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	serveErr := make(chan error, 1)
	go func() {
		klog.InfoS("Starting HTTP server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		klog.InfoS("Shutting down", "timeout", cfg.Server.ShutdownTimeout)
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "HTTP server shutdown did not complete")
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	return nil
}
