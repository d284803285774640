package subscribers

import (
	"context"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// Subscriber is an event sink fed every validated dashboard event.
type Subscriber interface {
	Name() string
	Handle(context.Context, wire.Event) error
}
