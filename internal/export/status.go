package export

import (
	"context"
	"fmt"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
)

// Valid enrolment outcomes the CMS accepts.
const (
	StatusActive       = "active"
	StatusPending      = "pending"
	StatusRejected     = "rejected"
	StatusUnsubscribed = "unsubscribed"
)

// StatusReporter pushes member_status resources back to the owning CMS so
// it learns what became of the enrolments it requested.
type StatusReporter struct {
	Client *ecs.Client
	CMSMID int
}

func (r *StatusReporter) Report(ctx context.Context, e domain.EnrolmentStatusResource) (int, error) {
	switch e.Status {
	case StatusActive, StatusPending, StatusRejected, StatusUnsubscribed:
	default:
		return 0, fmt.Errorf("export: invalid enrolment status %q", e.Status)
	}
	if e.PersonID == "" || e.CMSCourseID == "" {
		return 0, fmt.Errorf("export: enrolment status needs person and course ids")
	}
	return r.Client.CreateResource(ctx, &e, ecs.Target{Participants: []int{r.CMSMID}})
}
