package dirtree

import (
	"context"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/participants"
)

// Handler feeds directory tree events from the broker into the Sync.
type Handler struct {
	Sync      *Sync
	Client    *ecs.Client
	Directory *participants.Directory
	ServerID  int
}

func (h *Handler) HandleEvent(ctx context.Context, ev domain.Event) error {
	if ev.Status == domain.EventDestroyed {
		return h.destroy(ev.ResourceID)
	}

	details, err := h.Client.ResourceDetails(ctx, ev.ResourceID, domain.TypeDirectoryTree)
	if err != nil {
		return err
	}
	if mid, ok := details.SenderMID(); !ok || !h.Directory.ImportAllowed(mid) {
		// Not for us; acknowledged without applying.
		return nil
	}

	var res domain.DirectoryTreeResource
	if err := h.Client.FetchResource(ctx, ev.ResourceID, &res); err != nil {
		return err
	}
	return h.Sync.Refresh(&res, ev.ResourceID, h.ServerID)
}

func (h *Handler) destroy(resourceID int) error {
	trees, err := h.Sync.Store.Trees(h.ServerID)
	if err != nil {
		return err
	}
	for _, t := range trees {
		if t.ResourceID != resourceID || t.Mode == domain.TreeDeleted {
			continue
		}
		return h.Sync.Delete(t.RootID)
	}
	return nil
}
