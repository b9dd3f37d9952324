package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

func newSnapshotFixture(t *testing.T) (*Snapshot, *local.Memory) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mem := local.NewMemory()

	localID, _ := mem.Platform().Courses.Create(local.Course{Fullname: "Algorithms", Visible: true})
	if err := st.UpsertCourse(domain.CourseRecord{
		ResourceID: 70, ServerID: 1, CMSCourseID: "L-100", Title: "Algorithms",
	}); err != nil {
		t.Fatalf("upsert course: %v", err)
	}
	if _, err := st.AddLocalCourse(domain.LocalCourse{
		ResourceID: 70, CMSCourseID: "L-100", LocalID: localID, Real: true,
		DirectoryID: "d-1", GroupIndex: -1,
	}); err != nil {
		t.Fatalf("add local course: %v", err)
	}
	mem.AddUser("username", "ada", 501)
	if err := mem.Platform().Enrolments.Enrol(localID, 501, "student"); err != nil {
		t.Fatalf("enrol: %v", err)
	}
	return &Snapshot{Store: st, Local: mem.Platform(), ServerID: 1}, mem
}

func TestSnapshotCSV(t *testing.T) {
	snap, _ := newSnapshotFixture(t)
	var buf bytes.Buffer
	if err := snap.WriteCSV(&buf); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	if rows[0][0] != "CMS_COURSE_ID" || len(rows[0]) != len(snapshotHeader) {
		t.Fatalf("header = %v", rows[0])
	}
	got := rows[1]
	if got[0] != "L-100" || got[3] != "Algorithms" || got[5] != "1" || got[8] != "1" {
		t.Fatalf("row = %v", got)
	}
}

func TestSnapshotBrotliRoundTrip(t *testing.T) {
	snap, _ := newSnapshotFixture(t)
	var buf bytes.Buffer
	if err := snap.WriteBrotli(&buf); err != nil {
		t.Fatalf("write brotli: %v", err)
	}

	plain, err := io.ReadAll(brotli.NewReader(&buf))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(plain)).ReadAll()
	if err != nil {
		t.Fatalf("parse decompressed csv: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "L-100" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSnapshotFilename(t *testing.T) {
	ts := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)
	if got := Filename(ts); got != "campus-catalog-20260901.csv.br" {
		t.Fatalf("filename = %s", got)
	}
}
