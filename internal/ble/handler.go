package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/besir660/ruuvi-particle/internal/particle"
	"github.com/besir660/ruuvi-particle/internal/ruuvi"
	"github.com/besir660/ruuvi-particle/internal/utils"
)

// EventPublisher submits cloud events. *particle.Client implements it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev particle.Event) (particle.PublishResult, error)
}

// Mirror receives a copy of every published reading. *mqtt.Client
// implements it.
type Mirror interface {
	PublishReading(r ruuvi.Reading) error
}

// RefreshFunc re-authenticates and returns a publisher bound to fresh
// credentials.
type RefreshFunc func(ctx context.Context) (EventPublisher, error)

type HandlerOptions struct {
	Filter    Filter
	EventName string
	Private   bool

	Publisher EventPublisher
	// Refresh, when set, is called once after a *particle.LoginError and
	// the reading is retried with the returned publisher.
	Refresh RefreshFunc
	// Mirror is optional.
	Mirror Mirror
}

// BatchStats summarizes one ProcessBatch call.
type BatchStats struct {
	Seen      int
	Decoded   int
	Published int
	Failed    int
}

// Handler runs advertisements through extract, decode, normalize and
// publish.
type Handler struct {
	extractor Extractor
	eventName string
	private   bool
	refresh   RefreshFunc
	mirror    Mirror

	mu        sync.RWMutex
	publisher EventPublisher
}

func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		extractor: NewExtractor(opts.Filter),
		eventName: opts.EventName,
		private:   opts.Private,
		refresh:   opts.Refresh,
		mirror:    opts.Mirror,
		publisher: opts.Publisher,
	}
}

// Decode extracts and decodes one advertisement. Decode failures are normal
// and only logged at debug level.
func (h *Handler) Decode(adv Advertisement) (ruuvi.Reading, bool) {
	p, ok := h.extractor.Extract(adv)
	if !ok {
		return ruuvi.Reading{}, false
	}

	m, err := ruuvi.Decode(p.Data)
	if err != nil {
		slog.Debug("ble: ignore undecodable payload",
			"addr", adv.Address,
			"company", utils.Hex4(p.CompanyID),
			"data", utils.BytesToHex(p.Data),
			"error", err,
		)
		return ruuvi.Reading{}, false
	}
	return ruuvi.Normalize(m, adv.Address, adv.LocalName, adv.SeenAt), true
}

// ProcessBatch handles advertisements one by one. A failure on one never
// stops the rest.
func (h *Handler) ProcessBatch(ctx context.Context, advs []Advertisement) BatchStats {
	var st BatchStats
	for _, adv := range advs {
		if ctx.Err() != nil {
			break
		}
		st.Seen++

		r, ok := h.Decode(adv)
		if !ok {
			continue
		}
		st.Decoded++

		if err := h.Publish(ctx, r); err != nil {
			st.Failed++
			slog.Warn("ble: failed to publish reading", "addr", r.Address, "error", err)
			continue
		}
		st.Published++
		slog.Info("ble: sensor reading published",
			"addr", r.Address,
			"name", r.Name,
			"format", r.Format,
			"T", r.Temperature, "P", r.Pressure, "H", r.Humidity,
			"data", r.RawHex,
		)
	}
	return st
}

// Publish mirrors r (best effort) and submits it as a cloud event. On a
// login error it refreshes the session once and retries.
func (h *Handler) Publish(ctx context.Context, r ruuvi.Reading) error {
	if h.mirror != nil {
		if err := h.mirror.PublishReading(r); err != nil {
			slog.Warn("ble: mirror publish failed", "addr", r.Address, "error", err)
		}
	}

	ev := particle.Event{
		Name:    h.eventName,
		Data:    r.EventData(),
		Private: h.private,
	}

	err := h.publishEvent(ctx, h.currentPublisher(), ev)
	var loginErr *particle.LoginError
	if err == nil || !errors.As(err, &loginErr) || h.refresh == nil {
		return err
	}

	slog.Info("ble: credentials rejected, refreshing session", "addr", r.Address)
	pub, rerr := h.refresh(ctx)
	if rerr != nil {
		return fmt.Errorf("refresh session: %w (after %v)", rerr, err)
	}
	h.setPublisher(pub)
	return h.publishEvent(ctx, pub, ev)
}

func (h *Handler) publishEvent(ctx context.Context, pub EventPublisher, ev particle.Event) error {
	if pub == nil {
		return errors.New("no publisher configured")
	}
	res, err := pub.PublishEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%w: event not acknowledged", particle.ErrPublishFailed)
	}
	return nil
}

func (h *Handler) currentPublisher() EventPublisher {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.publisher
}

func (h *Handler) setPublisher(p EventPublisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}
