package outbox

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
)

const (
	DefaultRelayInterval  = time.Second
	DefaultRelayBatchSize = 100
)

// RelayConfig configures a Relay. Zero values take the defaults.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultRelayInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultRelayBatchSize
	}
	return c
}

// Relay periodically publishes parked records. A record that fails to
// publish stays pending and is tried again on the next tick.
type Relay struct {
	store     Store
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	cfg       RelayConfig

	// OnPublished is called with the number of records published per tick.
	OnPublished func(n int)
}

// NewRelay returns a relay moving records from store to publisher.
func NewRelay(store Store, publisher message.Publisher, logger loggingpkg.ServiceLogger, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Run relays on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.Error("Outbox relay failed", err, nil)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many records went out.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(records))
	for _, rec := range records {
		msg := message.NewMessage(rec.ID, rec.Payload)
		for k, v := range rec.Metadata {
			msg.Metadata.Set(k, v)
		}
		if err := r.publisher.Publish(rec.Topic, msg); err != nil {
			r.logger.Error("Failed to relay parked event", err, loggingpkg.LogFields{
				"event_id": rec.ID,
				"topic":    rec.Topic,
			})
			continue
		}
		published = append(published, rec.ID)
	}

	if err := r.store.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	if len(published) > 0 {
		r.logger.Debug("Relayed parked events", loggingpkg.LogFields{"count": len(published)})
		if r.OnPublished != nil {
			r.OnPublished(len(published))
		}
	}
	return len(published), nil
}
