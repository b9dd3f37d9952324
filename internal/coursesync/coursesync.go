// Package coursesync reconciles remote course resources into local courses.
// A single remote course can fan out into several local ones depending on
// its parallel-group scenario and how many directory allocations it carries;
// surplus allocations are served by redirect courses pointing at the real one.
package coursesync

import (
	"fmt"
	"sort"
	"strings"

	"campus-sync/internal/dirtree"
	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

type Sync struct {
	Store *store.Store
	Local local.Platform
	Trees *dirtree.Sync

	// FallbackCategoryID receives courses whose directory allocation is
	// not mapped yet; 0 means such courses fail until the tree is mapped.
	FallbackCategoryID int64
}

func New(st *store.Store, platform local.Platform, trees *dirtree.Sync, fallbackCategoryID int64) *Sync {
	return &Sync{Store: st, Local: platform, Trees: trees, FallbackCategoryID: fallbackCategoryID}
}

// unit is one slice of a course after scenario expansion. Index is the
// stable parallel-group index, or -1 when the course is not split.
type unit struct {
	Index  int
	Title  string
	Groups []int // group indexes folded into this unit
}

// expandUnits turns the group list into course units per scenario.
func expandUnits(res *domain.CourseResource) []unit {
	switch res.GroupScenario {
	case domain.ScenarioSeparateCourses:
		units := make([]unit, 0, len(res.Groups))
		for i, g := range res.Groups {
			units = append(units, unit{Index: i, Title: g.Title, Groups: []int{i}})
		}
		if len(units) > 0 {
			return units
		}
	case domain.ScenarioSeparateLecturers:
		byKey := map[string]int{} // lecturer key -> index into units
		var units []unit
		for i, g := range res.Groups {
			key := lecturerKey(g.Lecturers)
			if at, ok := byKey[key]; ok {
				units[at].Groups = append(units[at].Groups, i)
				continue
			}
			byKey[key] = len(units)
			units = append(units, unit{Index: i, Title: unitTitle(g), Groups: []int{i}})
		}
		if len(units) > 0 {
			return units
		}
	}
	return []unit{{Index: -1}}
}

func lecturerKey(ls []domain.Lecturer) string {
	names := make([]string, 0, len(ls))
	for _, l := range ls {
		names = append(names, l.FirstName+" "+l.LastName)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func unitTitle(g domain.CourseGroup) string {
	if len(g.Lecturers) == 0 {
		return g.Title
	}
	names := make([]string, 0, len(g.Lecturers))
	for _, l := range g.Lecturers {
		names = append(names, l.FirstName+" "+l.LastName)
	}
	return strings.Join(names, ", ")
}

// target is one local course the remote resource asks for.
type target struct {
	DirectoryID string
	GroupIndex  int
	Real        bool
	Order       int
	Fullname    string
	Shortname   string
}

func targetKey(directoryID string, groupIndex int) string {
	return fmt.Sprintf("%s/%d", directoryID, groupIndex)
}

// desired expands allocations x units into the wanted local course set.
// Under NONE and SEPARATE_GROUPS only the first allocation gets a real
// course; the split scenarios put a real course in every allocation.
func desired(res *domain.CourseResource) []target {
	allocs := res.Allocations
	if len(allocs) == 0 {
		allocs = []domain.CourseAllocation{{}}
	}
	units := expandUnits(res)
	split := res.GroupScenario == domain.ScenarioSeparateCourses ||
		res.GroupScenario == domain.ScenarioSeparateLecturers

	var out []target
	for ai, alloc := range allocs {
		for _, u := range units {
			t := target{
				DirectoryID: alloc.ParentID,
				GroupIndex:  u.Index,
				Real:        split || ai == 0,
				Order:       alloc.Order,
				Fullname:    res.Title,
				Shortname:   res.LectureID,
			}
			if u.Title != "" {
				t.Fullname = fmt.Sprintf("%s (%s)", res.Title, u.Title)
				t.Shortname = fmt.Sprintf("%s/%d", res.LectureID, u.Index)
			}
			if ai > 0 {
				t.Shortname = fmt.Sprintf("%s~%d", t.Shortname, ai)
			}
			out = append(out, t)
		}
	}
	return out
}

// Apply reconciles a course resource: creates missing local courses, updates
// the ones still wanted and archives the rest, then points every redirect
// course at its real sibling. Idempotent.
func (s *Sync) Apply(res *domain.CourseResource, resourceID, serverID int) error {
	if res.LectureID == "" {
		return fmt.Errorf("coursesync: resource %d has no lecture id", resourceID)
	}
	if err := s.Store.UpsertCourse(domain.CourseRecord{
		ResourceID:  resourceID,
		ServerID:    serverID,
		CMSCourseID: res.LectureID,
		Scenario:    res.GroupScenario,
		Title:       res.Title,
	}); err != nil {
		return err
	}

	existing, err := s.Store.LocalCourses(resourceID)
	if err != nil {
		return err
	}
	have := make(map[string]domain.LocalCourse, len(existing))
	for _, lc := range existing {
		have[targetKey(lc.DirectoryID, lc.GroupIndex)] = lc
	}

	want := desired(res)
	seen := map[string]bool{}
	for _, t := range want {
		key := targetKey(t.DirectoryID, t.GroupIndex)
		seen[key] = true

		categoryID, err := s.categoryFor(t.DirectoryID)
		if err != nil {
			return err
		}

		if lc, ok := have[key]; ok {
			if err := s.updateLocal(lc, t, categoryID); err != nil {
				return err
			}
			continue
		}
		if err := s.createLocal(res, resourceID, t, categoryID); err != nil {
			return err
		}
	}

	// Allocations or units gone from the resource: when a real course with
	// the same group index survives, the dropped course lives on as a
	// redirect to it so old links keep working. Only courses with no real
	// sibling left are archived and unmapped.
	realByIndex := map[int]bool{}
	for _, t := range want {
		if t.Real {
			realByIndex[t.GroupIndex] = true
		}
	}
	for key, lc := range have {
		if seen[key] {
			continue
		}
		if realByIndex[lc.GroupIndex] {
			if lc.Real {
				lc.Real = false
				if err := s.Store.UpdateLocalCourse(lc); err != nil {
					return err
				}
				c, err := s.Local.Courses.Get(lc.LocalID)
				if err != nil {
					return err
				}
				c.Visible = false
				if err := s.Local.Courses.Update(c); err != nil {
					return err
				}
			}
			continue
		}
		if err := s.Local.Courses.Archive(lc.LocalID); err != nil {
			return err
		}
		if err := s.Store.DeleteLocalCourse(lc.ID); err != nil {
			return err
		}
	}

	if err := s.wireRedirects(resourceID); err != nil {
		return err
	}
	return s.syncParallelGroups(res, resourceID)
}

func (s *Sync) categoryFor(directoryID string) (int64, error) {
	if directoryID != "" {
		id, ok, err := s.Trees.CategoryFor(directoryID)
		if err != nil {
			return 0, err
		}
		if ok {
			return id, nil
		}
	}
	if s.FallbackCategoryID == 0 {
		return 0, fmt.Errorf("coursesync: no category for directory %q and no fallback configured", directoryID)
	}
	return s.FallbackCategoryID, nil
}

func (s *Sync) createLocal(res *domain.CourseResource, resourceID int, t target, categoryID int64) error {
	localID, err := s.Local.Courses.Create(local.Course{
		Fullname:   t.Fullname,
		Shortname:  t.Shortname,
		CategoryID: categoryID,
		Summary:    res.Comment,
		Visible:    t.Real,
	})
	if err != nil {
		return err
	}
	_, err = s.Store.AddLocalCourse(domain.LocalCourse{
		ResourceID:  resourceID,
		CMSCourseID: res.LectureID,
		LocalID:     localID,
		Real:        t.Real,
		DirectoryID: t.DirectoryID,
		GroupIndex:  t.GroupIndex,
		Order:       t.Order,
	})
	return err
}

func (s *Sync) updateLocal(lc domain.LocalCourse, t target, categoryID int64) error {
	c, err := s.Local.Courses.Get(lc.LocalID)
	if err != nil {
		return err
	}
	c.Fullname = t.Fullname
	c.Shortname = t.Shortname
	c.CategoryID = categoryID
	c.Archived = false
	c.Visible = t.Real
	if t.Real {
		c.RedirectTo = 0
	}
	if err := s.Local.Courses.Update(c); err != nil {
		return err
	}
	lc.Real = t.Real
	lc.Order = t.Order
	return s.Store.UpdateLocalCourse(lc)
}

// wireRedirects points every link course at the real course carrying the
// same group index.
func (s *Sync) wireRedirects(resourceID int) error {
	locals, err := s.Store.LocalCourses(resourceID)
	if err != nil {
		return err
	}
	realByIndex := map[int]int64{}
	for _, lc := range locals {
		if lc.Real {
			realByIndex[lc.GroupIndex] = lc.LocalID
		}
	}
	for _, lc := range locals {
		if lc.Real {
			continue
		}
		targetID, ok := realByIndex[lc.GroupIndex]
		if !ok {
			continue
		}
		c, err := s.Local.Courses.Get(lc.LocalID)
		if err != nil {
			return err
		}
		if c.RedirectTo == targetID {
			continue
		}
		c.RedirectTo = targetID
		if err := s.Local.Courses.Update(c); err != nil {
			return err
		}
	}
	return nil
}

// syncParallelGroups maintains local groups inside the real courses. Under
// SEPARATE_GROUPS every group index becomes a group in each real course;
// the split scenarios get no local groups since the split already happened
// at course level.
func (s *Sync) syncParallelGroups(res *domain.CourseResource, resourceID int) error {
	locals, err := s.Store.LocalCourses(resourceID)
	if err != nil {
		return err
	}
	wantGroups := res.GroupScenario == domain.ScenarioSeparateGroups

	for _, lc := range locals {
		if !lc.Real {
			continue
		}
		known, err := s.Store.ParallelGroups(lc.ID)
		if err != nil {
			return err
		}
		byIndex := make(map[int]domain.ParallelGroup, len(known))
		for _, g := range known {
			byIndex[g.GroupIndex] = g
		}

		seen := map[int]bool{}
		if wantGroups {
			for i, g := range res.Groups {
				seen[i] = true
				title := g.Title
				if title == "" {
					title = fmt.Sprintf("Group %d", i+1)
				}
				prev, ok := byIndex[i]
				if !ok {
					gid, err := s.Local.Groups.EnsureGroup(lc.LocalID, title)
					if err != nil {
						return err
					}
					if err := s.Store.UpsertParallelGroup(domain.ParallelGroup{
						LocalCourseID: lc.ID, GroupIndex: i, Title: title, LocalGroupID: gid,
					}); err != nil {
						return err
					}
					continue
				}
				if prev.Title != title {
					if err := s.Local.Groups.RenameGroup(prev.LocalGroupID, title); err != nil {
						return err
					}
					prev.Title = title
					if err := s.Store.UpsertParallelGroup(prev); err != nil {
						return err
					}
				}
			}
		}
		for i := range byIndex {
			if !seen[i] {
				if err := s.Store.DeleteParallelGroup(lc.ID, i); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Delete archives every local course of a destroyed resource and removes
// the bookkeeping rows.
func (s *Sync) Delete(resourceID int) error {
	locals, err := s.Store.LocalCourses(resourceID)
	if err != nil {
		return err
	}
	rec, ok, err := s.Store.Course(resourceID)
	if err != nil {
		return err
	}
	for _, lc := range locals {
		if err := s.Local.Courses.Archive(lc.LocalID); err != nil {
			return err
		}
		if err := s.Store.DeleteLocalCourse(lc.ID); err != nil {
			return err
		}
	}
	if ok {
		if err := s.Store.DeleteMembers(rec.CMSCourseID); err != nil {
			return err
		}
		if err := s.Store.DeleteCourse(resourceID); err != nil {
			return err
		}
	}
	return nil
}

// CheckRedirect resolves where a request for localID should land. ok is
// true when the course is a link course with a live real sibling.
func (s *Sync) CheckRedirect(localID int64) (int64, bool, error) {
	lc, found, err := s.Store.LocalCourseByLocalID(localID)
	if err != nil || !found || lc.Real {
		return 0, false, err
	}
	siblings, err := s.Store.LocalCourses(lc.ResourceID)
	if err != nil {
		return 0, false, err
	}
	for _, sib := range siblings {
		if sib.Real && sib.GroupIndex == lc.GroupIndex {
			return sib.LocalID, true, nil
		}
	}
	return 0, false, nil
}
