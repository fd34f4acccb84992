package ble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiscover_CanceledContextDoesNotScan(t *testing.T) {
	l := NewListener(Options{Adapter: "hci-test"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	advs, err := l.Discover(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, advs)
	assert.NoError(t, l.enableErr, "adapter must not be enabled")
}
