package ruuvi

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrPayloadTooShort is returned when a payload is smaller than the
	// minimum length of the decoder selected for it.
	ErrPayloadTooShort = errors.New("payload too short")
	// ErrNoPlausibleDecoding is returned when no heuristic hypothesis lands
	// inside the plausibility bounds.
	ErrNoPlausibleDecoding = errors.New("no plausible decoding")
	// ErrOutOfRange is returned when an exact decode produces values outside
	// the plausibility bounds (sensor sentinel values decode this way).
	ErrOutOfRange = errors.New("reading out of range")
)

// Plausibility bounds for environmental readings.
const (
	MinTemperature = -40.0
	MaxTemperature = 85.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
	MinPressure    = 300.0
	MaxPressure    = 1200.0
)

// Measurement is a decoded payload: temperature in °C, relative humidity in %
// and pressure in hPa, all rounded to two decimals. A Measurement only exists
// with values inside the plausibility bounds; use NewMeasurement to build one.
type Measurement struct {
	Format      uint8
	Temperature float64
	Humidity    float64
	Pressure    float64
	RawHex      string

	// Hypothesis is set when the heuristic decoder produced the values.
	Hypothesis *Hypothesis
}

// NewMeasurement rounds the values and checks them against the
// plausibility bounds.
func NewMeasurement(format uint8, temperature, humidity, pressure float64) (Measurement, error) {
	t, h, p := round2(temperature), round2(humidity), round2(pressure)
	if !plausible(t, h, p) {
		return Measurement{}, fmt.Errorf("%w: T=%.2f H=%.2f P=%.2f", ErrOutOfRange, t, h, p)
	}
	return Measurement{
		Format:      format,
		Temperature: t,
		Humidity:    h,
		Pressure:    p,
	}, nil
}

// Reading is a Measurement together with the beacon it came from.
type Reading struct {
	Measurement
	Address string
	Name    string
	SeenAt  time.Time
}

// Normalize attaches provenance to a successful decode.
func Normalize(m Measurement, address, name string, seenAt time.Time) Reading {
	return Reading{
		Measurement: m,
		Address:     address,
		Name:        name,
		SeenAt:      seenAt,
	}
}

func plausible(temperature, humidity, pressure float64) bool {
	return temperature >= MinTemperature && temperature <= MaxTemperature &&
		humidity >= MinHumidity && humidity <= MaxHumidity &&
		pressure >= MinPressure && pressure <= MaxPressure
}

// round2 rounds to two decimals and never returns negative zero.
func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}
