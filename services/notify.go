package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// Notifier is the boundary to the external notification transport. The
// gate only hands over requests; delivery, formatting and retries are the
// collaborator's problem.
type Notifier interface {
	Notify(ctx context.Context, req models.NotificationRequest) error
}

// TriggerGate decides which freshly recorded events warrant an outbound
// notification. Only price drops at or past the configured threshold
// qualify; description and availability changes stay queryable through
// the summary aggregator but never page anyone.
type TriggerGate struct {
	store     Store
	notifier  Notifier
	threshold int64
	log       zerolog.Logger
}

func NewTriggerGate(store Store, notifier Notifier, threshold int64, log zerolog.Logger) *TriggerGate {
	return &TriggerGate{
		store:     store,
		notifier:  notifier,
		threshold: threshold,
		log:       log.With().Str("component", "trigger_gate").Logger(),
	}
}

// Evaluate inspects the units persisted by one check pass and emits one
// notification request per qualifying price event. The dedupe key is
// derived from the event's own identity, so re-running the gate over the
// same pass, or overlapping passes, can never notify twice for one
// physical event. Delivery failures are logged and dropped; the event
// itself is already durable.
func (g *TriggerGate) Evaluate(ctx context.Context, units []*models.CheckUnit) (int, error) {
	emitted := 0
	for _, unit := range units {
		for _, e := range unit.PriceChanges {
			if e.Delta > -g.threshold {
				continue
			}

			key := fmt.Sprintf("price_drop:%s:%d", e.ListingID, e.DetectedAt.Unix())
			claimed, err := g.store.ClaimNotification(ctx, key)
			if err != nil {
				return emitted, fmt.Errorf("claim notification %s: %w", key, err)
			}
			if !claimed {
				continue
			}

			payload, _ := json.Marshal(map[string]any{
				"listing_id":  e.ListingID,
				"old_price":   e.OldPrice,
				"new_price":   e.NewPrice,
				"delta":       e.Delta,
				"detected_at": e.DetectedAt,
			})
			req := models.NotificationRequest{
				ID:        uuid.New(),
				ListingID: e.ListingID,
				EventType: models.EventTypePriceChange,
				Payload:   payload,
				DedupeKey: key,
				CreatedAt: time.Now(),
			}

			if err := g.notifier.Notify(ctx, req); err != nil {
				g.log.Warn().Err(err).Str("listing_id", e.ListingID).
					Str("dedupe_key", key).Msg("notification delivery failed, dropping")
				continue
			}
			emitted++
		}
	}
	return emitted, nil
}

// EmitDigest sends one summary request covering the period's significant
// drops, deduped per calendar day so a rescheduled job cannot double-send.
func (g *TriggerGate) EmitDigest(ctx context.Context, drops []models.PriceChangeEvent, windowDays int, minDrop int64) error {
	if len(drops) == 0 {
		return nil
	}

	key := fmt.Sprintf("price_digest:%s", time.Now().Format("2006-01-02"))
	claimed, err := g.store.ClaimNotification(ctx, key)
	if err != nil {
		return fmt.Errorf("claim digest: %w", err)
	}
	if !claimed {
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"window_days": windowDays,
		"min_drop":    minDrop,
		"drops":       drops,
	})
	req := models.NotificationRequest{
		ID:        uuid.New(),
		EventType: "price_drop_digest",
		Payload:   payload,
		DedupeKey: key,
		CreatedAt: time.Now(),
	}
	if err := g.notifier.Notify(ctx, req); err != nil {
		g.log.Warn().Err(err).Str("dedupe_key", key).Msg("digest delivery failed, dropping")
	}
	return nil
}

// ChannelNotifier buffers requests on a channel for an in-process
// consumer (the transport adapter drains it).
type ChannelNotifier struct {
	ch chan models.NotificationRequest
}

func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan models.NotificationRequest, buffer)}
}

func (n *ChannelNotifier) Notify(ctx context.Context, req models.NotificationRequest) error {
	select {
	case n.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("notification queue full")
	}
}

// Requests exposes the outbound queue for the transport collaborator.
func (n *ChannelNotifier) Requests() <-chan models.NotificationRequest {
	return n.ch
}

// LogNotifier writes requests to the log, for runs without a configured
// transport.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, req models.NotificationRequest) error {
	n.log.Info().Str("listing_id", req.ListingID).Str("event_type", req.EventType).
		Str("dedupe_key", req.DedupeKey).RawJSON("payload", req.Payload).
		Msg("notification request")
	return nil
}
