// Package queue drains the broker's per-connection event feed into the
// durable store and dispatches the persisted events to per-resource-type
// handlers. Events survive crashes between pull and processing; repeated
// failures park an event instead of wedging the queue.
package queue

import (
	"context"
	"fmt"
	"log"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/store"
)

// DefaultMaxFailures is how often an event may fail before it is parked.
const DefaultMaxFailures = 5

// A Handler processes one persisted event for its resource type. A nil
// return acknowledges the event. A transport-kind error aborts the pass
// and leaves the event untouched; any other error counts as one failure.
type Handler interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

type HandlerFunc func(ctx context.Context, ev domain.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

type Queue struct {
	Store    *store.Store
	Client   *ecs.Client
	ServerID int

	// MaxFailures overrides DefaultMaxFailures when positive.
	MaxFailures int

	handlers map[domain.ResourceType]Handler
}

func New(st *store.Store, client *ecs.Client, serverID int) *Queue {
	return &Queue{Store: st, Client: client, ServerID: serverID, handlers: map[domain.ResourceType]Handler{}}
}

func (q *Queue) Register(t domain.ResourceType, h Handler) {
	q.handlers[t] = h
}

func (q *Queue) maxFailures() int {
	if q.MaxFailures > 0 {
		return q.MaxFailures
	}
	return DefaultMaxFailures
}

// Pull peeks the broker feed, persists every event, and only then pops the
// feed. A crash between persist and pop redelivers; the dedupe key in the
// store makes that harmless. Returns how many events were newly persisted.
func (q *Queue) Pull(ctx context.Context) (int, error) {
	msgs, err := q.Client.PollEvents(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	added := 0
	for _, m := range msgs {
		t, id, ok := m.ResourceRef()
		if !ok {
			log.Printf("WARN: queue: connection %d: unparseable event resource %q, dropping", q.ServerID, m.Ressource)
			continue
		}
		fresh, err := q.Store.AddEvent(q.ServerID, id, t, m.Status)
		if err != nil {
			return added, err
		}
		if fresh {
			added++
		}
	}

	if _, err := q.Client.PollEvents(ctx, true); err != nil {
		// Already persisted; the next pull re-peeks and dedupes.
		return added, err
	}
	return added, nil
}

// Process runs every pending event oldest first. Handler success deletes
// the event, non-transport failure bumps its failure count and moves on,
// and a transport failure stops the pass so nothing gets charged for a
// dead broker or platform.
func (q *Queue) Process(ctx context.Context) error {
	pending, err := q.Store.PendingEvents(q.ServerID)
	if err != nil {
		return err
	}
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, ok := q.handlers[ev.Type]
		if !ok {
			log.Printf("WARN: queue: connection %d: no handler for %s events, skipping event %d", q.ServerID, ev.Type, ev.ID)
			continue
		}
		err := h.HandleEvent(ctx, ev)
		if err == nil {
			if err := q.Store.DeleteEvent(ev.ID); err != nil {
				return err
			}
			continue
		}
		if ecs.IsTransport(err) {
			return fmt.Errorf("queue: connection %d: transport failure on event %d: %w", q.ServerID, ev.ID, err)
		}
		count, parked, ferr := q.Store.RecordEventFailure(ev.ID, q.maxFailures())
		if ferr != nil {
			return ferr
		}
		if parked {
			log.Printf("WARN: queue: connection %d: event %d (%s %d %s) parked after %d failures: %v",
				q.ServerID, ev.ID, ev.Type, ev.ResourceID, ev.Status, count, err)
			continue
		}
		log.Printf("WARN: queue: connection %d: event %d failed (%d/%d): %v", q.ServerID, ev.ID, count, q.maxFailures(), err)
	}
	return nil
}

// Run is one full pass: pull then process.
func (q *Queue) Run(ctx context.Context) error {
	if _, err := q.Pull(ctx); err != nil {
		return err
	}
	return q.Process(ctx)
}

// Stats exposes the queue depth for operators.
func (q *Queue) Stats() (store.QueueStats, error) {
	return q.Store.EventStats(q.ServerID)
}
