package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/cml-project/cml/internal/types"
)

// SharedEntryPromotedSubject is the JetStream subject a NATSPublisher
// publishes to whenever a local entry crosses into shared knowledge.
const SharedEntryPromotedSubject = "cml.shared.entry.promoted"

// NATSPublisher fans promotions out to a JetStream stream. Publishing is
// fire-and-forget: a failed publish is logged but never unwinds the
// already-durable promotion that triggered it.
type NATSPublisher struct {
	js  nats.JetStreamContext
	log *slog.Logger
}

func NewNATSPublisher(js nats.JetStreamContext, log *slog.Logger) *NATSPublisher {
	return &NATSPublisher{js: js, log: log}
}

type promotedEnvelope struct {
	Entry types.SharedTroubleshootingEntry `json:"entry"`
}

func (p *NATSPublisher) PublishEntryPromoted(ctx context.Context, entry types.SharedTroubleshootingEntry) error {
	data, err := json.Marshal(promotedEnvelope{Entry: entry})
	if err != nil {
		return fmt.Errorf("shared: marshal promoted entry: %w", err)
	}

	ack, err := p.js.Publish(SharedEntryPromotedSubject, data)
	if err != nil {
		if p.log != nil {
			p.log.Warn("shared: jetstream publish failed", "subject", SharedEntryPromotedSubject, "error", err)
		}
		return err
	}
	if p.log != nil {
		p.log.Info("shared: entry promoted published",
			"subject", SharedEntryPromotedSubject, "stream", ack.Stream, "seq", ack.Sequence, "entry_id", entry.EntryID)
	}
	return nil
}
