package membership

import (
	"context"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/participants"
)

// Handler feeds course member events from the broker into the Sync.
type Handler struct {
	Sync      *Sync
	Client    *ecs.Client
	Directory *participants.Directory
	ServerID  int
}

// senderField resolves the identity field pinned on the sending
// participant, empty when the per-id-type mapping should decide.
func (h *Handler) senderField(mid int) string {
	p, ok := h.Directory.Participant(mid)
	if !ok {
		return ""
	}
	return p.IdentityField
}

func (h *Handler) HandleEvent(ctx context.Context, ev domain.Event) error {
	if ev.Status == domain.EventDestroyed {
		cmsID, ok, err := h.Sync.Store.MemberSource(ev.ResourceID)
		if err != nil || !ok {
			return err
		}
		if err := h.Sync.Delete(ctx, cmsID, ""); err != nil {
			return err
		}
		return h.Sync.Store.DeleteMemberSource(ev.ResourceID)
	}

	details, err := h.Client.ResourceDetails(ctx, ev.ResourceID, domain.TypeCourseMembers)
	if err != nil {
		return err
	}
	mid, ok := details.SenderMID()
	if !ok || !h.Directory.ImportAllowed(mid) {
		return nil
	}

	var res domain.CourseMembers
	if err := h.Client.FetchResource(ctx, ev.ResourceID, &res); err != nil {
		return err
	}
	if err := h.Sync.Apply(ctx, &res, h.senderField(mid)); err != nil {
		return err
	}
	return h.Sync.Store.SetMemberSource(ev.ResourceID, res.LectureID)
}
