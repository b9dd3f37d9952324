package coursesync

import (
	"context"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/participants"
)

// Handler feeds course events from the broker into the Sync.
type Handler struct {
	Sync      *Sync
	Client    *ecs.Client
	Directory *participants.Directory
	ServerID  int
}

func (h *Handler) HandleEvent(ctx context.Context, ev domain.Event) error {
	if ev.Status == domain.EventDestroyed {
		return h.Sync.Delete(ev.ResourceID)
	}

	details, err := h.Client.ResourceDetails(ctx, ev.ResourceID, domain.TypeCourse)
	if err != nil {
		return err
	}
	if mid, ok := details.SenderMID(); !ok || !h.Directory.ImportAllowed(mid) {
		return nil
	}

	var res domain.CourseResource
	if err := h.Client.FetchResource(ctx, ev.ResourceID, &res); err != nil {
		return err
	}
	return h.Sync.Apply(&res, ev.ResourceID, h.ServerID)
}
