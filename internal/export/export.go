// Package export pushes local course state back to the broker: course_link
// resources advertising exported courses to partner participants, an
// aggregated course_urls resource for the owning CMS, and member_status
// resources reporting enrolment outcomes.
package export

import (
	"context"
	"fmt"
	"log"

	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

// Sync manages the export state machine for (course, participant) pairs.
// Marking only records intent; UpdateECS performs the broker writes and
// settles each pair back to up-to-date.
type Sync struct {
	Store *store.Store
	Local local.Platform

	// Organization and Lang annotate published course links.
	Organization string
	Lang         string
}

func NewSync(st *store.Store, platform local.Platform) *Sync {
	return &Sync{Store: st, Local: platform}
}

// Mark records that a local course's export to one participant changed.
// The transition depends on what the pair looked like before:
// a deleted-then-marked pair becomes updated, an unpushed pair stays
// created, anything pushed becomes updated.
func (s *Sync) Mark(localID int64, mid int) error {
	prev, ok, err := s.Store.Export(localID, mid)
	if err != nil {
		return err
	}
	next := domain.ExportRecord{LocalID: localID, MID: mid, Status: domain.ExportCreated}
	if ok {
		next.ResourceID = prev.ResourceID
		if prev.ResourceID != 0 {
			next.Status = domain.ExportUpdated
		}
	}
	return s.Store.SetExport(next)
}

// Unmark flags the pair for removal from the broker. Pairs that were never
// pushed are dropped immediately.
func (s *Sync) Unmark(localID int64, mid int) error {
	prev, ok, err := s.Store.Export(localID, mid)
	if err != nil || !ok {
		return err
	}
	if prev.ResourceID == 0 {
		return s.Store.DeleteExport(localID, mid)
	}
	prev.Status = domain.ExportDeleted
	return s.Store.SetExport(prev)
}

// SetTargets reconciles a course's export set against the wanted
// participant list: newly wanted pairs are marked, dropped ones unmarked.
func (s *Sync) SetTargets(localID int64, mids []int) error {
	want := make(map[int]bool, len(mids))
	for _, mid := range mids {
		want[mid] = true
	}
	existing, err := s.Store.Exports(false)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.LocalID != localID {
			continue
		}
		if want[e.MID] {
			delete(want, e.MID)
			continue
		}
		if err := s.Unmark(localID, e.MID); err != nil {
			return err
		}
	}
	for mid := range want {
		if err := s.Mark(localID, mid); err != nil {
			return err
		}
	}
	return nil
}

// Targets lists the participants a course is currently exported to,
// excluding pairs flagged for deletion.
func (s *Sync) Targets(localID int64) ([]int, error) {
	all, err := s.Store.Exports(false)
	if err != nil {
		return nil, err
	}
	var mids []int
	for _, e := range all {
		if e.LocalID == localID && e.Status != domain.ExportDeleted {
			mids = append(mids, e.MID)
		}
	}
	return mids, nil
}

func (s *Sync) linkFor(localID int64) (*domain.CourseLinkResource, error) {
	c, err := s.Local.Courses.Get(localID)
	if err != nil {
		return nil, err
	}
	return &domain.CourseLinkResource{
		URL:          s.Local.Courses.ViewURL(localID),
		Title:        c.Fullname,
		Organization: s.Organization,
		Lang:         s.Lang,
	}, nil
}

// UpdateECS pushes every pending export pair to the broker through pub.
// Transport failures stop the pass with the remaining pairs still marked;
// everything pushed before the failure is already settled.
func (s *Sync) UpdateECS(ctx context.Context, pub Publisher) error {
	pending, err := s.Store.Exports(true)
	if err != nil {
		return err
	}
	for _, e := range pending {
		switch e.Status {
		case domain.ExportCreated:
			link, err := s.linkFor(e.LocalID)
			if err != nil {
				return err
			}
			id, err := pub.CreateLink(ctx, link, e.MID)
			if err != nil {
				return err
			}
			e.ResourceID = id
		case domain.ExportUpdated:
			link, err := s.linkFor(e.LocalID)
			if err != nil {
				return err
			}
			if err := pub.UpdateLink(ctx, e.ResourceID, link, e.MID); err != nil {
				return err
			}
		case domain.ExportDeleted:
			if err := pub.DeleteLink(ctx, e.ResourceID); err != nil {
				return err
			}
			if err := s.Store.DeleteExport(e.LocalID, e.MID); err != nil {
				return err
			}
			continue
		default:
			log.Printf("WARN: export: pair (%d,%d) has unexpected status %q, skipping", e.LocalID, e.MID, e.Status)
			continue
		}
		e.Status = domain.ExportUpToDate
		if err := s.Store.SetExport(e); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the export state of one pair for admin surfaces.
func (s *Sync) Status(localID int64, mid int) (domain.ExportStatus, error) {
	e, ok, err := s.Store.Export(localID, mid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("export: course %d is not exported to participant %d", localID, mid)
	}
	return e.Status, nil
}
