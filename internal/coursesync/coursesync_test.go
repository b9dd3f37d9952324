package coursesync

import (
	"testing"

	"campus-sync/internal/dirtree"
	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

func newTestSync(t *testing.T) (*Sync, *store.Store, *local.Memory) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mem := local.NewMemory()
	platform := mem.Platform()
	fallback, err := platform.Categories.Create("Imported courses", 0)
	if err != nil {
		t.Fatalf("create fallback category: %v", err)
	}
	trees := dirtree.New(st, platform)
	return New(st, platform, trees, fallback), st, mem
}

func twoGroups() []domain.CourseGroup {
	return []domain.CourseGroup{
		{Title: "Group A", Lecturers: []domain.Lecturer{{FirstName: "Ada", LastName: "Lovelace"}}},
		{Title: "Group B", Lecturers: []domain.Lecturer{{FirstName: "Alan", LastName: "Turing"}}},
	}
}

func courseRes(scenario domain.Scenario, groups []domain.CourseGroup, allocs ...domain.CourseAllocation) *domain.CourseResource {
	if len(allocs) == 0 {
		allocs = []domain.CourseAllocation{{ParentID: "d-1", Order: 1}}
	}
	return &domain.CourseResource{
		LectureID:     "L-100",
		Title:         "Algorithms",
		GroupScenario: scenario,
		Allocations:   allocs,
		Groups:        groups,
	}
}

func countReal(locals []domain.LocalCourse) (real, redirect int) {
	for _, lc := range locals {
		if lc.Real {
			real++
		} else {
			redirect++
		}
	}
	return
}

func TestScenarioExpansion(t *testing.T) {
	sameLecturer := []domain.CourseGroup{
		{Title: "Mon", Lecturers: []domain.Lecturer{{FirstName: "Ada", LastName: "Lovelace"}}},
		{Title: "Tue", Lecturers: []domain.Lecturer{{FirstName: "Ada", LastName: "Lovelace"}}},
		{Title: "Wed", Lecturers: []domain.Lecturer{{FirstName: "Alan", LastName: "Turing"}}},
	}
	cases := []struct {
		name      string
		scenario  domain.Scenario
		groups    []domain.CourseGroup
		wantReal  int
		wantLocal int // groups inside each real course
	}{
		{"none", domain.ScenarioNone, twoGroups(), 1, 0},
		{"separate groups", domain.ScenarioSeparateGroups, twoGroups(), 1, 2},
		{"separate courses", domain.ScenarioSeparateCourses, twoGroups(), 2, 0},
		{"separate lecturers merged", domain.ScenarioSeparateLecturers, sameLecturer, 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, st, mem := newTestSync(t)
			if err := s.Apply(courseRes(tc.scenario, tc.groups), 70, 1); err != nil {
				t.Fatalf("apply: %v", err)
			}
			locals, err := st.LocalCourses(70)
			if err != nil {
				t.Fatalf("local courses: %v", err)
			}
			real, redirects := countReal(locals)
			if real != tc.wantReal || redirects != 0 {
				t.Fatalf("got %d real, %d redirects; want %d real", real, redirects, tc.wantReal)
			}
			for _, lc := range locals {
				groups := mem.GroupsOf(lc.LocalID)
				if len(groups) != tc.wantLocal {
					t.Fatalf("course %d has %d groups, want %d", lc.LocalID, len(groups), tc.wantLocal)
				}
			}
		})
	}
}

func TestMultipleAllocationsRedirect(t *testing.T) {
	s, st, mem := newTestSync(t)
	res := courseRes(domain.ScenarioNone, nil,
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
		domain.CourseAllocation{ParentID: "d-2", Order: 3},
	)
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}

	locals, _ := st.LocalCourses(70)
	if len(locals) != 2 {
		t.Fatalf("got %d local courses, want 2", len(locals))
	}
	real, redirects := countReal(locals)
	if real != 1 || redirects != 1 {
		t.Fatalf("got %d real, %d redirects; want 1 and 1", real, redirects)
	}

	// Ordering puts the real course first.
	if !locals[0].Real {
		t.Fatal("real course not listed first")
	}
	link, err := mem.Platform().Courses.Get(locals[1].LocalID)
	if err != nil {
		t.Fatalf("get link course: %v", err)
	}
	if link.RedirectTo != locals[0].LocalID {
		t.Fatalf("redirect points at %d, want %d", link.RedirectTo, locals[0].LocalID)
	}

	target, ok, err := s.CheckRedirect(locals[1].LocalID)
	if err != nil || !ok || target != locals[0].LocalID {
		t.Fatalf("CheckRedirect = (%d,%v,%v), want %d", target, ok, err, locals[0].LocalID)
	}
	if _, ok, _ := s.CheckRedirect(locals[0].LocalID); ok {
		t.Fatal("real course must not redirect")
	}
}

func TestSeparateCoursesAllRealPerAllocation(t *testing.T) {
	s, st, _ := newTestSync(t)
	res := courseRes(domain.ScenarioSeparateCourses, twoGroups(),
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
		domain.CourseAllocation{ParentID: "d-2", Order: 2},
	)
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	locals, _ := st.LocalCourses(70)
	real, redirects := countReal(locals)
	if len(locals) != 4 || real != 4 || redirects != 0 {
		t.Fatalf("got %d courses (%d real, %d redirects), want 4 all real", len(locals), real, redirects)
	}
}

func TestUpdateDiffsByAllocationAndGroup(t *testing.T) {
	s, st, mem := newTestSync(t)
	res := courseRes(domain.ScenarioSeparateCourses, twoGroups())
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	before, _ := st.LocalCourses(70)
	keepID := before[0].LocalID

	// Group B disappears, Group C arrives, the title changes.
	res.Title = "Advanced Algorithms"
	res.Groups = []domain.CourseGroup{
		{Title: "Group A"},
		{Title: "Group C"},
	}
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	after, _ := st.LocalCourses(70)
	if len(after) != 2 {
		t.Fatalf("got %d courses after update, want 2", len(after))
	}
	kept, err := mem.Platform().Courses.Get(keepID)
	if err != nil {
		t.Fatalf("get kept course: %v", err)
	}
	if kept.Fullname != "Advanced Algorithms (Group A)" || kept.Archived {
		t.Fatalf("kept course = %+v", kept)
	}
	// Index 1 changed from Group B to Group C; the diff keys on the index,
	// so the existing course is retitled in place.
	for _, lc := range after {
		if lc.GroupIndex == 1 {
			c, _ := mem.Platform().Courses.Get(lc.LocalID)
			if c.Fullname != "Advanced Algorithms (Group C)" {
				t.Fatalf("replacement course = %+v", c)
			}
		}
	}
}

func TestReapplyIsIdempotent(t *testing.T) {
	s, st, _ := newTestSync(t)
	res := courseRes(domain.ScenarioSeparateGroups, twoGroups())
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first, _ := st.LocalCourses(70)
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second, _ := st.LocalCourses(70)
	if len(first) != len(second) {
		t.Fatalf("course count changed on reapply: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].LocalID != second[i].LocalID {
			t.Fatalf("local ids changed on reapply: %+v vs %+v", first[i], second[i])
		}
	}
}

func TestMappedDirectoryWinsOverFallback(t *testing.T) {
	s, st, mem := newTestSync(t)
	platform := mem.Platform()

	trees := dirtree.New(st, platform)
	err := trees.Refresh(&domain.DirectoryTreeResource{
		RootID: "tree-1", Title: "Faculties",
		Directory: []domain.DirectoryNode{
			{ID: "tree-1", Title: "Faculties"},
			{ID: "d-cs", Title: "Computer Science", Parent: domain.NodeParent{ID: "tree-1"}},
		},
	}, 40, 1)
	if err != nil {
		t.Fatalf("tree refresh: %v", err)
	}
	rootCat, _ := platform.Categories.Create("Faculties", 0)
	if err := trees.MapWhole("tree-1", rootCat); err != nil {
		t.Fatalf("map whole: %v", err)
	}

	res := courseRes(domain.ScenarioNone, nil, domain.CourseAllocation{ParentID: "d-cs", Order: 1})
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	locals, _ := st.LocalCourses(70)
	c, _ := platform.Courses.Get(locals[0].LocalID)
	wantCat, _, _ := trees.CategoryFor("d-cs")
	if c.CategoryID != wantCat {
		t.Fatalf("course category = %d, want mapped %d", c.CategoryID, wantCat)
	}
}

func TestDeleteArchivesEverything(t *testing.T) {
	s, st, mem := newTestSync(t)
	res := courseRes(domain.ScenarioNone, nil,
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
		domain.CourseAllocation{ParentID: "d-2", Order: 2},
	)
	if err := s.Apply(res, 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	locals, _ := st.LocalCourses(70)

	if err := s.Delete(70); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, lc := range locals {
		c, err := mem.Platform().Courses.Get(lc.LocalID)
		if err != nil {
			t.Fatalf("get archived course: %v", err)
		}
		if !c.Archived || c.Visible || c.RedirectTo != 0 {
			t.Fatalf("course %d not archived cleanly: %+v", lc.LocalID, c)
		}
	}
	if left, _ := st.LocalCourses(70); len(left) != 0 {
		t.Fatalf("%d local course rows survived delete", len(left))
	}
	if _, ok, _ := st.Course(70); ok {
		t.Fatal("course record survived delete")
	}
}

func TestRemovedAllocationBecomesRedirect(t *testing.T) {
	s, st, mem := newTestSync(t)
	if err := s.Apply(courseRes(domain.ScenarioNone, nil,
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
		domain.CourseAllocation{ParentID: "d-2", Order: 3},
	), 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The second allocation disappears from the resource.
	if err := s.Apply(courseRes(domain.ScenarioNone, nil,
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
	), 70, 1); err != nil {
		t.Fatalf("reapply: %v", err)
	}

	locals, _ := st.LocalCourses(70)
	if len(locals) != 2 {
		t.Fatalf("got %d local courses, want 2 (dropped allocation kept as redirect)", len(locals))
	}
	real, redirects := countReal(locals)
	if real != 1 || redirects != 1 {
		t.Fatalf("got %d real, %d redirects; want 1 and 1", real, redirects)
	}
	link, err := mem.Platform().Courses.Get(locals[1].LocalID)
	if err != nil {
		t.Fatalf("get link course: %v", err)
	}
	if link.Archived {
		t.Fatal("dropped allocation's course was archived, want live redirect")
	}
	if link.RedirectTo != locals[0].LocalID {
		t.Fatalf("redirect points at %d, want %d", link.RedirectTo, locals[0].LocalID)
	}
}

func TestRemovedRealAllocationDemotedToRedirect(t *testing.T) {
	s, st, mem := newTestSync(t)
	if err := s.Apply(courseRes(domain.ScenarioSeparateCourses, twoGroups(),
		domain.CourseAllocation{ParentID: "d-1", Order: 1},
		domain.CourseAllocation{ParentID: "d-2", Order: 3},
	), 70, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := s.Apply(courseRes(domain.ScenarioSeparateCourses, twoGroups(),
		domain.CourseAllocation{ParentID: "d-2", Order: 3},
	), 70, 1); err != nil {
		t.Fatalf("reapply: %v", err)
	}

	locals, _ := st.LocalCourses(70)
	real, redirects := countReal(locals)
	if real != 2 || redirects != 2 {
		t.Fatalf("got %d real, %d redirects; want 2 and 2", real, redirects)
	}
	for _, lc := range locals {
		if lc.Real {
			continue
		}
		c, err := mem.Platform().Courses.Get(lc.LocalID)
		if err != nil {
			t.Fatalf("get demoted course: %v", err)
		}
		if c.Archived || c.Visible {
			t.Fatalf("demoted course archived=%v visible=%v, want live hidden redirect", c.Archived, c.Visible)
		}
		if c.RedirectTo == 0 {
			t.Fatal("demoted course has no redirect target")
		}
	}
}
