package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
)

// LocalPublisher feeds collector batches straight into an Aggregator in the
// same process. It stands in for Kafka when no broker is configured.
type LocalPublisher struct {
	agg *Aggregator
}

func NewLocalPublisher(agg *Aggregator) *LocalPublisher {
	return &LocalPublisher{agg: agg}
}

// PublishBatch encodes each event as it would travel over Kafka so the
// aggregator sees identical payloads either way.
func (p *LocalPublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("marshaling event %q: %w", e.Key, err)
		}
		if err := p.agg.HandleEvent(ctx, []byte(e.Key), value); err != nil && !errors.Is(err, kafka.ErrSkip) {
			return err
		}
	}
	return nil
}
