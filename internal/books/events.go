package books

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
)

// Op is the kind of catalogue change carried on the change feed.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// ChangeEvent is one catalogue change. Book is set for upserts only.
type ChangeEvent struct {
	Op        Op        `json:"op"`
	ID        int64     `json:"id"`
	Book      *Book     `json:"book,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// ChangePublisher writes catalogue changes keyed by book id, so every change
// to one book lands on the same partition in order.
type ChangePublisher struct {
	pub BatchPublisher
	now func() time.Time
}

func NewChangePublisher(pub BatchPublisher) *ChangePublisher {
	return &ChangePublisher{pub: pub, now: time.Now}
}

func (p *ChangePublisher) PublishUpsert(ctx context.Context, books ...Book) error {
	events := make([]kafka.Event, 0, len(books))
	for i := range books {
		b := books[i]
		events = append(events, p.event(ChangeEvent{Op: OpUpsert, ID: b.ID, Book: &b}))
	}
	return p.pub.PublishBatch(ctx, events)
}

func (p *ChangePublisher) PublishDelete(ctx context.Context, ids ...int64) error {
	events := make([]kafka.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, p.event(ChangeEvent{Op: OpDelete, ID: id}))
	}
	return p.pub.PublishBatch(ctx, events)
}

func (p *ChangePublisher) event(ev ChangeEvent) kafka.Event {
	ev.Timestamp = p.now().UTC()
	return kafka.Event{Key: fmt.Sprint(ev.ID), Value: ev}
}
