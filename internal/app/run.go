package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/besir660/ruuvi-particle/internal/ble"
	"github.com/besir660/ruuvi-particle/internal/config"
	"github.com/besir660/ruuvi-particle/internal/mqtt"
	"github.com/besir660/ruuvi-particle/internal/particle"
	"github.com/besir660/ruuvi-particle/internal/sensor"
	"github.com/besir660/ruuvi-particle/internal/tokenstore"
)

// Scanner runs one discovery cycle. *ble.Listener implements it.
type Scanner interface {
	Discover(ctx context.Context, d time.Duration) ([]ble.Advertisement, error)
}

// StatusFunc receives the outcome of every scan cycle.
type StatusFunc func(st ble.BatchStats, at time.Time)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.CheckCredentials(); err != nil {
		return err
	}

	slog.Info("initializing gateway",
		"adapter", cfg.BLEAdapter,
		"ruuvi_mac", cfg.RuuviMAC,
		"scan_duration", cfg.ScanDuration,
		"scan_interval", cfg.ScanInterval,
		"particle_api", cfg.ParticleAPIURL,
		"mqtt_broker", cfg.MQTTBroker,
	)

	var store TokenStore
	if cfg.TokenStorePath != "" {
		var opts []tokenstore.Option
		if cfg.LogLevel <= slog.LevelDebug {
			opts = append(opts, tokenstore.WithSQLTrace(logger))
		}
		s, err := tokenstore.Open(ctx, cfg.TokenStorePath, opts...)
		if err != nil {
			slog.Warn("token store unavailable; continuing without it", "path", cfg.TokenStorePath, "error", err)
		} else {
			defer s.Close()
			store = s
		}
	}

	base := particle.NewClient(particle.Options{
		BaseURL: cfg.ParticleAPIURL,
		Timeout: cfg.ParticleTimeout,
	})
	session := NewSession(base, store, cfg.ParticleUsername, cfg.ParticlePassword)

	client, err := session.Bootstrap(ctx, cfg.ParticleToken)
	if err != nil {
		return fmt.Errorf("particle session: %w", err)
	}

	opts := ble.HandlerOptions{
		Filter:    ble.Filter{MAC: cfg.RuuviMAC, CompanyID: cfg.RuuviCompanyID},
		EventName: cfg.ParticleEventName,
		Private:   cfg.ParticleEventPrivate,
		Publisher: client,
	}
	if cfg.HasLogin() {
		opts.Refresh = func(ctx context.Context) (ble.EventPublisher, error) {
			c, err := session.Refresh(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	var status StatusFunc
	if cfg.MQTTBroker != "" {
		mqttClient := mqtt.NewClient(cfg, logger)
		defer mqttClient.Disconnect()

		go func() {
			if err := mqttClient.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mqtt connect failed", "error", err)
			}
		}()

		opts.Mirror = mqttClient
		status = func(st ble.BatchStats, at time.Time) {
			err := mqttClient.PublishStatus(mqtt.Status{
				LastScan:  at,
				Seen:      st.Seen,
				Decoded:   st.Decoded,
				Published: st.Published,
				Failed:    st.Failed,
			})
			if err != nil {
				slog.Debug("mqtt status not published", "error", err)
			}
		}
	}

	handler := ble.NewHandler(opts)

	if cfg.LocalSensorEnabled {
		dev, err := sensor.Open(cfg.BME280Address)
		if err != nil {
			slog.Warn("local sensor could not be initialized; gateway continues without it", "error", err)
		} else {
			defer dev.Close()
			go func() {
				err := sensor.Poll(ctx, dev, cfg.LocalSensorName, cfg.SensorPollInterval, handler.Publish)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("local sensor stopped", "error", err)
				}
			}()
		}
	}

	listener := ble.NewListener(ble.Options{Adapter: cfg.BLEAdapter})
	err = scanLoop(ctx, listener, handler, cfg.ScanDuration, cfg.ScanInterval, status)

	slog.Info("gateway shutting down")
	return err
}

// scanLoop runs discovery cycles until ctx is done. With interval 0 it runs
// exactly one cycle and returns its scan error, if any.
func scanLoop(ctx context.Context, sc Scanner, h *ble.Handler, duration, interval time.Duration, status StatusFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		advs, err := sc.Discover(ctx, duration)
		if err != nil {
			if interval == 0 {
				return err
			}
			slog.Warn("ble scan failed", "error", err)
		} else {
			st := h.ProcessBatch(ctx, advs)
			slog.Info("scan cycle finished",
				"seen", st.Seen,
				"decoded", st.Decoded,
				"published", st.Published,
				"failed", st.Failed,
			)
			if status != nil {
				status(st, time.Now())
			}
		}

		if interval == 0 {
			return nil
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
