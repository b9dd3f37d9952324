package dirtree

import (
	"errors"
	"testing"

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
	return New(st, mem.Platform()), st, mem
}

func sampleTree() *domain.DirectoryTreeResource {
	return &domain.DirectoryTreeResource{
		RootID: "tree-1",
		Title:  "Winter Term",
		Directory: []domain.DirectoryNode{
			{ID: "tree-1", Title: "Winter Term"},
			{ID: "d-law", Title: "Law", Order: 1, Parent: domain.NodeParent{ID: "tree-1"}},
			{ID: "d-civil", Title: "Civil Law", Order: 1, Parent: domain.NodeParent{ID: "d-law"}},
			{ID: "d-med", Title: "Medicine", Order: 2, Parent: domain.NodeParent{ID: "tree-1"}},
		},
	}
}

func TestRefreshCreatesAndPrunesNodes(t *testing.T) {
	s, st, _ := newTestSync(t)

	res := sampleTree()
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	tree, ok, err := st.Tree("tree-1")
	if err != nil || !ok {
		t.Fatalf("tree after refresh: ok=%v err=%v", ok, err)
	}
	if tree.Mode != domain.TreePending {
		t.Fatalf("new tree mode = %s, want pending", tree.Mode)
	}
	dirs, err := st.Directories("tree-1")
	if err != nil {
		t.Fatalf("directories: %v", err)
	}
	if len(dirs) != 3 {
		t.Fatalf("got %d nodes, want 3 (root excluded)", len(dirs))
	}

	civil, _, _ := st.Directory("d-civil")
	if civil.ParentID != "d-law" {
		t.Fatalf("d-civil parent = %q, want d-law", civil.ParentID)
	}
	law, _, _ := st.Directory("d-law")
	if law.ParentID != "" {
		t.Fatalf("top-level node parent = %q, want empty", law.ParentID)
	}

	// Second refresh drops Medicine and moves Civil Law to the top level.
	res.Directory = []domain.DirectoryNode{
		{ID: "tree-1", Title: "Winter Term"},
		{ID: "d-law", Title: "Law", Order: 1, Parent: domain.NodeParent{ID: "tree-1"}},
		{ID: "d-civil", Title: "Civil Law", Order: 2, Parent: domain.NodeParent{ID: "tree-1"}},
	}
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	med, ok, _ := st.Directory("d-med")
	if !ok || !med.Deleted {
		t.Fatalf("d-med = %+v, want soft-deleted but resolvable", med)
	}
	civil, _, _ = st.Directory("d-civil")
	if civil.ParentID != "" || civil.Order != 2 {
		t.Fatalf("d-civil after move = %+v", civil)
	}
}

func TestModeTransitions(t *testing.T) {
	s, st, _ := newTestSync(t)
	if err := s.Refresh(sampleTree(), 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := s.SetManual("tree-1"); err != nil {
		t.Fatalf("pending -> manual: %v", err)
	}
	if err := s.MapWhole("tree-1", 10); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("manual -> whole = %v, want ErrBadTransition", err)
	}
	if err := s.SetManual("tree-1"); err != nil {
		t.Fatalf("manual -> manual should be a no-op: %v", err)
	}
	if err := s.Delete("tree-1"); err != nil {
		t.Fatalf("manual -> deleted: %v", err)
	}
	if err := s.SetManual("tree-1"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("deleted -> manual = %v, want ErrBadTransition", err)
	}
	if err := s.Delete("tree-1"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("deleted is terminal, got %v", err)
	}

	dirs, _ := st.Directories("tree-1")
	for _, d := range dirs {
		if !d.Deleted {
			t.Fatalf("node %s survived tree deletion", d.ID)
		}
	}
}

func TestMapWholeMaterializesCategories(t *testing.T) {
	s, st, mem := newTestSync(t)
	if err := s.Refresh(sampleTree(), 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rootCat, err := mem.Platform().Categories.Create("Imported", 0)
	if err != nil {
		t.Fatalf("create root category: %v", err)
	}
	if err := s.MapWhole("tree-1", rootCat); err != nil {
		t.Fatalf("map whole: %v", err)
	}

	lawID, ok, err := s.CategoryFor("d-law")
	if err != nil || !ok {
		t.Fatalf("CategoryFor d-law: ok=%v err=%v", ok, err)
	}
	lawCat, err := mem.Platform().Categories.Get(lawID)
	if err != nil {
		t.Fatalf("get law category: %v", err)
	}
	if lawCat.Name != "Law" || lawCat.ParentID != rootCat {
		t.Fatalf("law category = %+v, want name Law under %d", lawCat, rootCat)
	}

	civilID, ok, _ := s.CategoryFor("d-civil")
	if !ok {
		t.Fatal("d-civil has no category")
	}
	civilCat, _ := mem.Platform().Categories.Get(civilID)
	if civilCat.ParentID != lawCat.ID {
		t.Fatalf("civil parent category = %d, want %d", civilCat.ParentID, lawCat.ID)
	}

	// A node arriving after the mapping is materialized on demand.
	res := sampleTree()
	res.Directory = append(res.Directory, domain.DirectoryNode{
		ID: "d-surgery", Title: "Surgery", Order: 1, Parent: domain.NodeParent{ID: "d-med"},
	})
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("refresh with new node: %v", err)
	}
	if _, ok, err := s.CategoryFor("d-surgery"); err != nil || !ok {
		t.Fatalf("late node got no category: ok=%v err=%v", ok, err)
	}

	d, _, _ := st.Directory("d-law")
	if d.CategoryID != lawID {
		t.Fatalf("mapping not persisted: %+v", d)
	}
}

func TestTitleTakeover(t *testing.T) {
	s, st, mem := newTestSync(t)
	if err := s.Refresh(sampleTree(), 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	rootCat, _ := mem.Platform().Categories.Create("Imported", 0)
	if err := s.MapWhole("tree-1", rootCat); err != nil {
		t.Fatalf("map whole: %v", err)
	}
	lawID, _, _ := s.CategoryFor("d-law")

	res := sampleTree()
	res.Directory[1].Title = "Law School"
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("refresh rename: %v", err)
	}
	cat, _ := mem.Platform().Categories.Get(lawID)
	if cat.Name != "Law School" {
		t.Fatalf("category name = %q, want takeover to Law School", cat.Name)
	}

	// With takeover off the local name is the administrator's business.
	if err := st.SetTreeTakeover("tree-1", false, true, true); err != nil {
		t.Fatalf("set takeover: %v", err)
	}
	res.Directory[1].Title = "Faculty of Law"
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("refresh rename 2: %v", err)
	}
	cat, _ = mem.Platform().Categories.Get(lawID)
	if cat.Name != "Law School" {
		t.Fatalf("category renamed despite takeover off: %q", cat.Name)
	}
}

func TestMapDirectoryRequiresManualMode(t *testing.T) {
	s, _, mem := newTestSync(t)
	if err := s.Refresh(sampleTree(), 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cat, _ := mem.Platform().Categories.Create("Law picks", 0)

	if err := s.MapDirectory("tree-1", "d-law", cat); err == nil {
		t.Fatal("mapping on a pending tree should fail")
	}
	if err := s.SetManual("tree-1"); err != nil {
		t.Fatalf("set manual: %v", err)
	}
	if err := s.MapDirectory("tree-1", "d-law", cat); err != nil {
		t.Fatalf("manual mapping: %v", err)
	}
	got, ok, err := s.CategoryFor("d-law")
	if err != nil || !ok || got != cat {
		t.Fatalf("CategoryFor = (%d,%v,%v), want %d", got, ok, err, cat)
	}
	if _, ok, _ := s.CategoryFor("d-med"); ok {
		t.Fatal("unmapped node resolved a category in manual mode")
	}
	if err := s.MapDirectory("tree-1", "d-nope", cat); err == nil {
		t.Fatal("mapping an unknown node should fail")
	}
}

func TestRefreshIgnoresDeletedTree(t *testing.T) {
	s, st, _ := newTestSync(t)
	if err := s.Refresh(sampleTree(), 40, 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := s.SetManual("tree-1"); err != nil {
		t.Fatalf("set manual: %v", err)
	}
	if err := s.Delete("tree-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res := sampleTree()
	res.Title = "Reborn"
	if err := s.Refresh(res, 40, 1); err != nil {
		t.Fatalf("refresh after delete: %v", err)
	}
	tree, _, _ := st.Tree("tree-1")
	if tree.Title == "Reborn" || tree.Mode != domain.TreeDeleted {
		t.Fatalf("deleted tree was revived: %+v", tree)
	}
}
