package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/besir660/ruuvi-particle/internal/ruuvi"
)

func env(celsius float64, rh float64, hpa float64) physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(celsius*float64(physic.Celsius)),
		Humidity:    physic.RelativeHumidity(rh * float64(physic.PercentRH)),
		Pressure:    physic.Pressure(hpa * 100 * float64(physic.Pascal)),
	}
}

func TestToReading(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	r, err := ToReading(env(21.5, 45.25, 1013.2), "gateway", at)
	require.NoError(t, err)

	assert.Equal(t, FormatLocal, r.Format)
	assert.Equal(t, "gateway", r.Address)
	assert.Equal(t, at, r.SeenAt)
	assert.InDelta(t, 21.5, r.Temperature, 0.01)
	assert.InDelta(t, 45.25, r.Humidity, 0.01)
	assert.InDelta(t, 1013.2, r.Pressure, 0.01)
}

func TestToReading_OutOfRange(t *testing.T) {
	_, err := ToReading(env(21.5, 45, 50), "gateway", time.Now())
	assert.ErrorIs(t, err, ruuvi.ErrOutOfRange)

	_, err = ToReading(env(120, 45, 1000), "gateway", time.Now())
	assert.ErrorIs(t, err, ruuvi.ErrOutOfRange)
}

type fakeSampler struct {
	envs []physic.Env
	err  error
}

func (f *fakeSampler) Sense(e *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	*e = f.envs[0]
	if len(f.envs) > 1 {
		f.envs = f.envs[1:]
	}
	return nil
}

func TestPollOnce(t *testing.T) {
	var got []ruuvi.Reading
	publish := func(_ context.Context, r ruuvi.Reading) error {
		got = append(got, r)
		return nil
	}

	pollOnce(context.Background(), &fakeSampler{envs: []physic.Env{env(20, 40, 1000)}}, "gw", publish)
	pollOnce(context.Background(), &fakeSampler{envs: []physic.Env{env(20, 40, 10)}}, "gw", publish)
	pollOnce(context.Background(), &fakeSampler{err: errors.New("i2c nack")}, "gw", publish)

	require.Len(t, got, 1)
	assert.Equal(t, "gw", got[0].Name)
}

func TestPoll_StopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	var n int
	ctx, cancel := context.WithCancel(context.Background())

	publish := func(context.Context, ruuvi.Reading) error {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 2 {
			cancel()
		}
		return nil
	}

	err := Poll(ctx, &fakeSampler{envs: []physic.Env{env(20, 40, 1000)}}, "gw", time.Millisecond, publish)
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, n, 2)
}
