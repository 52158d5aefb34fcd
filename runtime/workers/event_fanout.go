package workers

import (
	"context"
	"fmt"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain/event"
)

// EventFanout hands every chat event to each sink, in order.
// It is best effort: a failing sink is logged and the others still run.
type EventFanout struct {
	log    *slog.Logger
	events <-chan event.Event
	sinks  []contract.EventSink
}

func NewEventFanout(log *slog.Logger, events <-chan event.Event, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinks: sinks}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fan-out")
			return nil
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		}
	}
}

func (w *EventFanout) Fanout(ctx context.Context, evt event.Event) {
	for _, sink := range w.sinks {
		if err := sink.Consume(ctx, evt); err != nil {
			w.log.Warn("Sink failed", "sink", fmt.Sprintf("%T", sink), "kind", evt.Kind(), "error", err)
		}
	}
}
