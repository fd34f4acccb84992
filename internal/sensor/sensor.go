// Package sensor polls a BME280 attached to the gateway and turns each sample
// into a reading that goes through the same publish path as beacon data.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/besir660/ruuvi-particle/internal/ruuvi"
)

// FormatLocal tags readings that come from the gateway's own sensor.
const FormatLocal uint8 = 0

// Sampler reads one environmental sample. *bmxx80.Dev implements it.
type Sampler interface {
	Sense(env *physic.Env) error
}

// PublishFunc receives every plausible sample.
type PublishFunc func(ctx context.Context, r ruuvi.Reading) error

// Device is an opened BME280 on the default I2C bus.
type Device struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// Open initializes the host drivers and the sensor at addr.
func Open(addr uint16) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open("") // default bus, usually /dev/i2c-1
	if err != nil {
		return nil, fmt.Errorf("i2c open: %w", err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at %#x: %w", addr, err)
	}
	return &Device{bus: bus, dev: dev}, nil
}

func (d *Device) Sense(env *physic.Env) error {
	return d.dev.Sense(env)
}

func (d *Device) Close() error {
	herr := d.dev.Halt()
	if err := d.bus.Close(); err != nil {
		return err
	}
	return herr
}

// ToReading converts a sample. Out-of-range values are rejected with
// ruuvi.ErrOutOfRange.
func ToReading(env physic.Env, name string, at time.Time) (ruuvi.Reading, error) {
	temperature := env.Temperature.Celsius()
	humidity := float64(env.Humidity) / float64(physic.PercentRH)
	// physic.Pressure is in nPa; 1 hPa = 100 Pa.
	pressure := float64(env.Pressure) / float64(physic.Pascal) / 100

	m, err := ruuvi.NewMeasurement(FormatLocal, temperature, humidity, pressure)
	if err != nil {
		return ruuvi.Reading{}, err
	}
	return ruuvi.Normalize(m, name, name, at), nil
}

// Poll samples s every interval until ctx is done. Failed samples are logged
// and skipped.
func Poll(ctx context.Context, s Sampler, name string, interval time.Duration, publish PublishFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pollOnce(ctx, s, name, publish)
		}
	}
}

func pollOnce(ctx context.Context, s Sampler, name string, publish PublishFunc) {
	var env physic.Env
	if err := s.Sense(&env); err != nil {
		slog.Warn("sensor: sense failed", "error", err)
		return
	}

	r, err := ToReading(env, name, time.Now())
	if err != nil {
		slog.Warn("sensor: implausible sample dropped", "error", err)
		return
	}

	if err := publish(ctx, r); err != nil {
		slog.Warn("sensor: publish failed", "name", name, "error", err)
		return
	}
	slog.Info("sensor: local reading published",
		"name", name,
		"T", r.Temperature, "P", r.Pressure, "H", r.Humidity,
	)
}
