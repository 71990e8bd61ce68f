package events

import (
	"context"
	"errors"

	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
)

// Fanout publishes every event to all of its publishers. A failing publisher
// does not stop the others; their errors are joined.
type Fanout []interfaces.EventPublisher

func (f Fanout) Publish(ctx context.Context, topic, key string, event any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ interfaces.EventPublisher = Fanout(nil)
