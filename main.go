package main

import (
	"context"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Uranury/hommie-node/config"
	"github.com/Uranury/hommie-node/firebase"
	"github.com/Uranury/hommie-node/metrics"
	"github.com/Uranury/hommie-node/netup"
	"github.com/Uranury/hommie-node/scheduler"
	"github.com/Uranury/hommie-node/sinks"
	"github.com/Uranury/hommie-node/status"
)

func NewLogger(level string, outputPaths []string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
	}
	return cfg.Build()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "configFile", "config.yaml", "Path to the config.yaml File.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Sugar().Fatalw("Invalid configuration", "error", err)
	}

	logger, err := NewLogger(cfg.Log.Level, cfg.Log.OutputPaths)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Sugar().Fatalw("Cannot build logger", "error", err)
	}
	defer logger.Sync() // flushes buffer, if any
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("Starting sensor node",
		"device", cfg.Device.UID,
		"location", cfg.Device.Location,
		"profile", cfg.Device.Profile,
		"interval", cfg.Scheduler.Interval)

	hw := realHardware
	if cfg.Sensors.Simulate {
		sugar.Warn("Using simulated sensors")
		hw = simulatedHardware(cfg)
	}
	l, err := buildLayout(cfg, hw, time.Now())
	if err != nil {
		sugar.Fatalw("Cannot open sensors", "error", err)
	}
	defer l.close()
	for _, src := range l.sources {
		sugar.Infof("  - %s", src.Sensor.Name())
	}

	if !cfg.Network.Skip {
		boot := netup.New(netup.Config{
			SSID:      cfg.WiFi.SSID,
			Password:  cfg.WiFi.Password,
			Interface: cfg.WiFi.Interface,
			ProbeHost: probeHost(cfg.Backend.DatabaseURL),
			Timeout:   cfg.Network.ConnectTimeout,
		}, sugar)
		if _, err := boot.Connect(ctx); err != nil {
			sugar.Fatalw("Network unavailable", "error", err)
		}
	}

	session := firebase.NewSession(firebase.Config{
		APIKey:        cfg.Backend.APIKey,
		DatabaseURL:   cfg.Backend.DatabaseURL,
		RefreshMargin: cfg.Backend.TokenRefreshMargin,
		Timeout:       cfg.Backend.WriteTimeout,
	}, sugar)
	if err := session.SignUp(ctx); err != nil {
		// Not retried: the node keeps serving diagnostics but never publishes.
		sugar.Errorw("Authentication failed, publishing disabled until restart", "error", err)
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	hub := status.NewHub(sugar)

	var srv *status.Server
	if cfg.Status.Enabled {
		srv = status.NewServer(status.Config{
			Addr:           cfg.Status.Addr,
			AllowedOrigins: cfg.Status.AllowedOrigins,
		}, l.state, session, reg, hub, sugar)
		srv.Start()
	}

	out := []scheduler.Sink{session}
	if cfg.Influx.Enabled {
		influx := sinks.NewInflux(sinks.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		})
		defer influx.Close()
		if err := influx.Ping(ctx); err != nil {
			sugar.Warnw("InfluxDB not healthy, writes will be retried each cycle", "error", err)
		}
		out = append(out, influx)
	}
	if cfg.MQTT.Enabled {
		mq, err := sinks.NewMQTT(sinks.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retained:    cfg.MQTT.Retained,
			Timeout:     cfg.MQTT.Timeout,
		})
		if err != nil {
			sugar.Errorw("MQTT mirror disabled", "error", err)
		} else {
			defer mq.Close()
			out = append(out, mq)
		}
	}

	mode, _ := scheduler.ParseRefreshMode(cfg.Scheduler.RefreshMode)
	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		PollPeriod:   cfg.Scheduler.PollPeriod,
		WriteTimeout: cfg.Backend.WriteTimeout,
		Mode:         mode,
	}, l.state, session, l.sources, out, sugar, m, hub)

	if err := sched.Run(ctx); err != nil {
		sugar.Errorw("Scheduler failed", "error", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("Status server shutdown", "error", err)
		}
	}
	sugar.Info("Sensor node stopped")
}

func probeHost(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
