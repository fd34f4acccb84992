package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

type Options struct {
	Adapter string // "hci0" by default
}

// Listener wraps BlueZ scanning in fixed-length discovery cycles.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options

	enableOnce sync.Once
	enableErr  error
}

func NewListener(opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}

	return &Listener{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
}

func (l *Listener) enable() error {
	l.enableOnce.Do(func() {
		slog.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
		if err := l.adapter.Enable(); err != nil {
			l.enableErr = fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
			return
		}
		slog.Info("ble: adapter enabled", "adapter", l.opts.Adapter)
	})
	return l.enableErr
}

// Discover scans for d (or until ctx is done) and returns the latest
// advertisement of every address seen, in first-seen order.
func (l *Listener) Discover(ctx context.Context, d time.Duration) ([]Advertisement, error) {
	// StopScan before Scan registers would leave Scan blocked.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.enable(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	go func() {
		<-scanCtx.Done()
		_ = l.adapter.StopScan()
	}()

	slog.Debug("ble: scanning started", "adapter", l.opts.Adapter, "duration", d)

	var c collector
	// adapter.Scan blocks until StopScan() or error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		c.add(toAdvertisement(r, time.Now()))
	})

	if ctx.Err() != nil {
		slog.Info("ble: scanning stopped (context canceled)")
		return c.list(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ble scan: %w", err)
	}

	advs := c.list()
	slog.Debug("ble: scanning stopped", "devices", len(advs))
	return advs, nil
}

func toAdvertisement(r bluetooth.ScanResult, seenAt time.Time) Advertisement {
	adv := Advertisement{
		Address:   r.Address.String(),
		RSSI:      r.RSSI,
		LocalName: r.LocalName(),
		SeenAt:    seenAt,
	}
	for _, md := range r.ManufacturerData() {
		adv.ManufacturerData = append(adv.ManufacturerData, ManufacturerData{
			CompanyID: md.CompanyID,
			Data:      append([]byte(nil), md.Data...),
		})
	}
	for _, sd := range r.ServiceData() {
		adv.ServiceData = append(adv.ServiceData, ServiceData{
			UUID: sd.UUID.String(),
			Data: append([]byte(nil), sd.Data...),
		})
	}
	return adv
}

// collector keeps the latest advertisement per address. A later
// advertisement without manufacturer data (e.g. a scan response) does not
// replace one that has it.
type collector struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Advertisement
}

func (c *collector) add(adv Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byID == nil {
		c.byID = make(map[string]Advertisement)
	}
	prev, ok := c.byID[adv.Address]
	if !ok {
		c.order = append(c.order, adv.Address)
		c.byID[adv.Address] = adv
		return
	}
	if len(adv.ManufacturerData) == 0 && len(prev.ManufacturerData) > 0 {
		if adv.LocalName != "" && prev.LocalName == "" {
			prev.LocalName = adv.LocalName
			c.byID[adv.Address] = prev
		}
		return
	}
	if adv.LocalName == "" {
		adv.LocalName = prev.LocalName
	}
	c.byID[adv.Address] = adv
}

func (c *collector) list() []Advertisement {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Advertisement, 0, len(c.order))
	for _, addr := range c.order {
		out = append(out, c.byID[addr])
	}
	return out
}
