package docker

import (
	"context"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

// reconnectInterval is the pause before resubscribing after the event
// stream drops.
const reconnectInterval = 5 * time.Second

// Watch subscribes to container lifecycle events and calls notify for
// each one. Blocks until the context is cancelled; stream errors
// trigger a resubscribe. Debouncing is the caller's concern.
func (d *Docker) Watch(ctx context.Context, notify func()) {
	for {
		if err := d.watch(ctx, notify); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("docker event stream error, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", reconnectInterval),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectInterval):
			}
		}
	}
}

func (d *Docker) watch(ctx context.Context, notify func()) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("type", string(events.ContainerEventType))
	for _, action := range []string{"start", "stop", "die", "destroy"} {
		filterArgs.Add("event", action)
	}

	eventsChan, errChan := d.api.Events(ctx, events.ListOptions{Filters: filterArgs})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case event := <-eventsChan:
			d.logger.Debug("docker event",
				slog.String("action", string(event.Action)),
				slog.String("container", event.Actor.Attributes["name"]),
			)
			notify()
		}
	}
}
