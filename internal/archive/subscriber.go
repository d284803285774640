package archive

import (
	"context"
	"fmt"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// Subscriber journals every dispatched event into the archive store.
type Subscriber struct {
	store *GormStore
}

func NewSubscriber(store *GormStore) *Subscriber {
	return &Subscriber{store: store}
}

func (s *Subscriber) Name() string {
	return "archive"
}

func (s *Subscriber) Handle(ctx context.Context, event wire.Event) error {
	if _, err := s.store.RecordEvent(ctx, event); err != nil {
		return fmt.Errorf("archive event: %w", err)
	}
	return nil
}
