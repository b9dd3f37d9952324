package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"

	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

// Snapshot dumps the whole imported catalog as CSV for the nightly drop
// consumed by reporting. Keep header order EXACT.
var snapshotHeader = []string{
	"CMS_COURSE_ID",
	"RESOURCE_ID",
	"LOCAL_ID",
	"TITLE",
	"URL",
	"REAL",
	"DIRECTORY_ID",
	"GROUP_INDEX",
	"ENROLLED_COUNT",
}

type Snapshot struct {
	Store    *store.Store
	Local    local.Platform
	ServerID int
}

// WriteCSV writes one row per local course.
func (s *Snapshot) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(snapshotHeader); err != nil {
		return err
	}

	courses, err := s.Store.Courses(s.ServerID)
	if err != nil {
		return err
	}
	for _, c := range courses {
		locals, err := s.Store.LocalCourses(c.ResourceID)
		if err != nil {
			return err
		}
		for _, lc := range locals {
			enrolled, err := s.Local.Enrolments.Enrolled(lc.LocalID)
			if err != nil {
				return err
			}
			title := c.Title
			if pc, err := s.Local.Courses.Get(lc.LocalID); err == nil {
				title = pc.Fullname
			}
			row := []string{
				c.CMSCourseID,
				strconv.Itoa(c.ResourceID),
				strconv.FormatInt(lc.LocalID, 10),
				title,
				s.Local.Courses.ViewURL(lc.LocalID),
				boolCell(lc.Real),
				lc.DirectoryID,
				strconv.Itoa(lc.GroupIndex),
				strconv.Itoa(len(enrolled)),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBrotli writes the CSV through a brotli compressor, the format the
// drop host expects.
func (s *Snapshot) WriteBrotli(w io.Writer) error {
	bw := brotli.NewWriterLevel(w, brotli.BestCompression)
	if err := s.WriteCSV(bw); err != nil {
		return err
	}
	return bw.Close()
}

// Filename names a snapshot for one day, e.g. campus-catalog-20260901.csv.br
func Filename(now time.Time) string {
	return fmt.Sprintf("campus-catalog-%s.csv.br", now.Format("20060102"))
}

func boolCell(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
