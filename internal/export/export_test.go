package export

import (
	"context"
	"testing"

	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

type pubCall struct {
	op  string
	id  int
	mid int
	url string
}

type fakePublisher struct {
	nextID int
	calls  []pubCall
	fail   error
}

func (p *fakePublisher) CreateLink(_ context.Context, link *domain.CourseLinkResource, mid int) (int, error) {
	if p.fail != nil {
		return 0, p.fail
	}
	p.nextID++
	p.calls = append(p.calls, pubCall{op: "create", id: p.nextID, mid: mid, url: link.URL})
	return p.nextID, nil
}

func (p *fakePublisher) UpdateLink(_ context.Context, id int, link *domain.CourseLinkResource, mid int) error {
	if p.fail != nil {
		return p.fail
	}
	p.calls = append(p.calls, pubCall{op: "update", id: id, mid: mid, url: link.URL})
	return nil
}

func (p *fakePublisher) DeleteLink(_ context.Context, id int) error {
	if p.fail != nil {
		return p.fail
	}
	p.calls = append(p.calls, pubCall{op: "delete", id: id})
	return nil
}

func newExportFixture(t *testing.T) (*Sync, *store.Store, int64) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mem := local.NewMemory()
	localID, err := mem.Platform().Courses.Create(local.Course{Fullname: "Algorithms", Visible: true})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	return NewSync(st, mem.Platform()), st, localID
}

func TestExportLifecycle(t *testing.T) {
	s, st, localID := newExportFixture(t)
	pub := &fakePublisher{}
	ctx := context.Background()

	if err := s.Mark(localID, 7); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got, _ := s.Status(localID, 7); got != domain.ExportCreated {
		t.Fatalf("status after mark = %s", got)
	}
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("push create: %v", err)
	}
	if got, _ := s.Status(localID, 7); got != domain.ExportUpToDate {
		t.Fatalf("status after push = %s", got)
	}
	if len(pub.calls) != 1 || pub.calls[0].op != "create" || pub.calls[0].mid != 7 {
		t.Fatalf("calls = %+v", pub.calls)
	}

	// Another push with nothing marked does nothing.
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("idle push: %v", err)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("idle push made broker calls: %+v", pub.calls)
	}

	// The course changed; a pushed pair re-marks as updated.
	if err := s.Mark(localID, 7); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if got, _ := s.Status(localID, 7); got != domain.ExportUpdated {
		t.Fatalf("status after re-mark = %s", got)
	}
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("push update: %v", err)
	}
	if last := pub.calls[len(pub.calls)-1]; last.op != "update" || last.id != 1 {
		t.Fatalf("update call = %+v", last)
	}

	if err := s.Unmark(localID, 7); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("push delete: %v", err)
	}
	if last := pub.calls[len(pub.calls)-1]; last.op != "delete" || last.id != 1 {
		t.Fatalf("delete call = %+v", last)
	}
	if _, err := s.Status(localID, 7); err == nil {
		t.Fatal("pair survived delete push")
	}
	if exports, _ := st.Exports(false); len(exports) != 0 {
		t.Fatalf("rows left: %+v", exports)
	}
}

func TestUnmarkUnpushedDropsImmediately(t *testing.T) {
	s, st, localID := newExportFixture(t)
	if err := s.Mark(localID, 7); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Unmark(localID, 7); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if exports, _ := st.Exports(false); len(exports) != 0 {
		t.Fatalf("unpushed pair kept: %+v", exports)
	}
}

func TestSetTargetsDiffs(t *testing.T) {
	s, _, localID := newExportFixture(t)
	pub := &fakePublisher{}
	ctx := context.Background()

	if err := s.SetTargets(localID, []int{7, 9}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("push: %v", err)
	}
	mids, _ := s.Targets(localID)
	if len(mids) != 2 {
		t.Fatalf("targets = %v", mids)
	}

	// 9 drops out, 11 comes in.
	if err := s.SetTargets(localID, []int{7, 11}); err != nil {
		t.Fatalf("retarget: %v", err)
	}
	if err := s.UpdateECS(ctx, pub); err != nil {
		t.Fatalf("push retarget: %v", err)
	}
	mids, _ = s.Targets(localID)
	if len(mids) != 2 {
		t.Fatalf("targets after retarget = %v", mids)
	}
	var deletes, creates int
	for _, c := range pub.calls {
		switch c.op {
		case "delete":
			deletes++
		case "create":
			creates++
		}
	}
	if creates != 3 || deletes != 1 {
		t.Fatalf("got %d creates, %d deletes; want 3 and 1", creates, deletes)
	}
}

func TestFailedPushKeepsPairsMarked(t *testing.T) {
	s, _, localID := newExportFixture(t)
	pub := &fakePublisher{fail: context.DeadlineExceeded}
	if err := s.Mark(localID, 7); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.UpdateECS(context.Background(), pub); err == nil {
		t.Fatal("push should fail")
	}
	if got, _ := s.Status(localID, 7); got != domain.ExportCreated {
		t.Fatalf("status after failed push = %s, want still created", got)
	}
}
