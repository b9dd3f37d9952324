// Package membership applies course member resources to local enrolments
// and group memberships. People are matched through the sending
// participant's identity field; roles go through the configured role map.
package membership

import (
	"context"
	"fmt"
	"log"

	"campus-sync/internal/config"
	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

// StatusReporter pushes enrolment outcomes back to the owning CMS. Nil
// disables reporting.
type StatusReporter interface {
	Report(ctx context.Context, e domain.EnrolmentStatusResource) (int, error)
}

type Sync struct {
	Store    *store.Store
	Local    local.Platform
	Roles    config.RoleMap
	Identity config.IdentityMapping
	Reporter StatusReporter
}

func New(st *store.Store, platform local.Platform, roles config.RoleMap, identity config.IdentityMapping) *Sync {
	return &Sync{Store: st, Local: platform, Roles: roles, Identity: identity}
}

// resolve finds the local user for a member. senderField is the identity
// field the sending participant is configured with; it overrides the
// per-person-id-type mapping when set. A zero id means no match; an
// unmapped person id type also resolves to zero so one odd member never
// sinks the rest of the batch.
func (s *Sync) resolve(m domain.Member, senderField string) (int64, error) {
	field := senderField
	if field == "" {
		var ok bool
		field, ok = s.Identity.FieldFor(m.PersonIDType)
		if !ok {
			log.Printf("WARN: membership: no identity field for person id type %q, skipping %s", m.PersonIDType, m.PersonID)
			return 0, nil
		}
	}
	return s.Local.Users.FindByField(field, m.PersonID)
}

// Apply reconciles a member resource against every local course of the
// CMS course. Unresolvable people are skipped with a warning; everything
// else is diffed against the current enrolments so re-running changes
// nothing. senderField may be empty.
func (s *Sync) Apply(ctx context.Context, res *domain.CourseMembers, senderField string) error {
	if res.LectureID == "" {
		return fmt.Errorf("membership: member resource has no lecture id")
	}
	locals, err := s.Store.LocalCoursesByCMSID(res.LectureID)
	if err != nil {
		return err
	}
	if len(locals) == 0 {
		return fmt.Errorf("membership: no local course for cms course %s", res.LectureID)
	}
	course, ok, err := s.Store.CourseByCMSID(res.LectureID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("membership: cms course %s has no course record", res.LectureID)
	}

	records := make([]domain.MemberRecord, 0, len(res.Members))
	for _, m := range res.Members {
		rec := domain.MemberRecord{
			CMSCourseID:  res.LectureID,
			PersonID:     m.PersonID,
			PersonIDType: m.PersonIDType,
			Role:         s.Roles.Translate(m.Role),
			GroupRoles:   map[int]string{},
		}
		for _, g := range m.Groups {
			rec.GroupRoles[g.Num] = s.Roles.Translate(g.Role)
		}
		// Cached even when unresolvable, so AssignAllRoles can enrol the
		// person once their account shows up.
		records = append(records, rec)

		userID, err := s.resolve(m, senderField)
		if err != nil {
			return err
		}
		if userID == 0 {
			log.Printf("WARN: membership: course %s: no local user for %s (%s), skipping", res.LectureID, m.PersonID, m.PersonIDType)
			continue
		}

		for _, lc := range locals {
			if err := s.applyToCourse(lc, course.Scenario, userID, rec); err != nil {
				return err
			}
		}
		s.report(ctx, m.PersonID, m.PersonIDType, res.LectureID, "active")
	}

	if err := s.removeVanished(ctx, locals, records, senderField, res.LectureID); err != nil {
		return err
	}
	return s.Store.ReplaceMembers(res.LectureID, records)
}

// applyToCourse enrols one user into one local course, honoring the
// course's scenario split.
func (s *Sync) applyToCourse(lc domain.LocalCourse, scenario domain.Scenario, userID int64, rec domain.MemberRecord) error {
	if !lc.Real {
		return nil
	}

	split := scenario == domain.ScenarioSeparateCourses || scenario == domain.ScenarioSeparateLecturers
	if split && lc.GroupIndex >= 0 {
		// Split course: only members of its group belong in it. A member
		// without group assignments is treated as course staff and lands
		// everywhere.
		if len(rec.GroupRoles) > 0 {
			role, ok := rec.GroupRoles[lc.GroupIndex]
			if !ok {
				return s.Local.Enrolments.Unenrol(lc.LocalID, userID)
			}
			if role == "" {
				role = rec.Role
			}
			return s.Local.Enrolments.Enrol(lc.LocalID, userID, role)
		}
	}

	if err := s.Local.Enrolments.Enrol(lc.LocalID, userID, rec.Role); err != nil {
		return err
	}
	if scenario == domain.ScenarioSeparateGroups {
		return s.syncUserGroups(lc, userID, rec)
	}
	return nil
}

// syncUserGroups puts the user into the local groups matching their group
// assignments and out of the ones no longer assigned.
func (s *Sync) syncUserGroups(lc domain.LocalCourse, userID int64, rec domain.MemberRecord) error {
	groups, err := s.Store.ParallelGroups(lc.ID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		_, want := rec.GroupRoles[g.GroupIndex]
		members, err := s.Local.Groups.Members(g.LocalGroupID)
		if err != nil {
			return err
		}
		in := false
		for _, id := range members {
			if id == userID {
				in = true
				break
			}
		}
		switch {
		case want && !in:
			if err := s.Local.Groups.AddMember(g.LocalGroupID, userID); err != nil {
				return err
			}
		case !want && in:
			if err := s.Local.Groups.RemoveMember(g.LocalGroupID, userID); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeVanished unenrols people who were in the cached member list but
// are gone from the new resource.
func (s *Sync) removeVanished(ctx context.Context, locals []domain.LocalCourse, next []domain.MemberRecord, senderField, cmsCourseID string) error {
	prev, err := s.Store.Members(cmsCourseID)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(next))
	for _, r := range next {
		keep[r.PersonIDType+"\x00"+r.PersonID] = true
	}
	for _, r := range prev {
		if keep[r.PersonIDType+"\x00"+r.PersonID] {
			continue
		}
		userID, err := s.resolve(domain.Member{PersonID: r.PersonID, PersonIDType: r.PersonIDType}, senderField)
		if err != nil || userID == 0 {
			log.Printf("WARN: membership: course %s: cannot resolve departed member %s, leaving enrolment", cmsCourseID, r.PersonID)
			continue
		}
		for _, lc := range locals {
			if !lc.Real {
				continue
			}
			if err := s.Local.Enrolments.Unenrol(lc.LocalID, userID); err != nil {
				return err
			}
		}
		s.report(ctx, r.PersonID, r.PersonIDType, cmsCourseID, "unsubscribed")
	}
	return nil
}

// report is best-effort: a reporting failure never fails the event, the
// next full pass republishes current state anyway.
func (s *Sync) report(ctx context.Context, personID, personIDType, cmsCourseID, status string) {
	if s.Reporter == nil {
		return
	}
	_, err := s.Reporter.Report(ctx, domain.EnrolmentStatusResource{
		PersonID:     personID,
		PersonIDType: personIDType,
		CMSCourseID:  cmsCourseID,
		Status:       status,
	})
	if err != nil {
		log.Printf("WARN: membership: course %s: report %s for %s: %v", cmsCourseID, status, personID, err)
	}
}

// Delete drops all enrolments driven by a destroyed member resource.
func (s *Sync) Delete(ctx context.Context, cmsCourseID, senderField string) error {
	locals, err := s.Store.LocalCoursesByCMSID(cmsCourseID)
	if err != nil {
		return err
	}
	if err := s.removeVanished(ctx, locals, nil, senderField, cmsCourseID); err != nil {
		return err
	}
	return s.Store.DeleteMembers(cmsCourseID)
}

// AssignAllRoles re-applies the cached membership of every known course:
// role drift is corrected and cached members whose account did not exist
// when the resource arrived are enrolled now. Run once per pass.
func (s *Sync) AssignAllRoles(senderField string) error {
	courses, err := s.Store.MemberCourseIDs()
	if err != nil {
		return err
	}
	for _, cmsID := range courses {
		members, err := s.Store.Members(cmsID)
		if err != nil {
			return err
		}
		locals, err := s.Store.LocalCoursesByCMSID(cmsID)
		if err != nil {
			return err
		}
		course, ok, err := s.Store.CourseByCMSID(cmsID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for _, m := range members {
			userID, err := s.resolve(domain.Member{PersonID: m.PersonID, PersonIDType: m.PersonIDType}, senderField)
			if err != nil || userID == 0 {
				continue
			}
			for _, lc := range locals {
				if err := s.applyToCourse(lc, course.Scenario, userID, m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
