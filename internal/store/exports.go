package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"campus-sync/internal/domain"
)

// SetExport writes one (course, participant) export pair.
func (s *Store) SetExport(r domain.ExportRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO exports (local_id, mid, status, resource_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (local_id, mid) DO UPDATE SET
			status = excluded.status,
			resource_id = excluded.resource_id`,
		r.LocalID, r.MID, string(r.Status), r.ResourceID)
	if err != nil {
		return fmt.Errorf("store: set export: %w", err)
	}
	return nil
}

// Export loads one export pair.
func (s *Store) Export(localID int64, mid int) (domain.ExportRecord, bool, error) {
	var r domain.ExportRecord
	var status string
	err := s.db.QueryRow(`
		SELECT local_id, mid, status, resource_id FROM exports
		WHERE local_id = ? AND mid = ?`, localID, mid).
		Scan(&r.LocalID, &r.MID, &status, &r.ResourceID)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return r, false, fmt.Errorf("store: load export: %w", err)
	}
	r.Status = domain.ExportStatus(status)
	return r, true, nil
}

// Exports lists every export pair, optionally restricted to pending work
// (anything not up to date).
func (s *Store) Exports(pendingOnly bool) ([]domain.ExportRecord, error) {
	q := `SELECT local_id, mid, status, resource_id FROM exports ORDER BY local_id, mid`
	if pendingOnly {
		q = `SELECT local_id, mid, status, resource_id FROM exports
			WHERE status != 'uptodate' ORDER BY local_id, mid`
	}
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("store: list exports: %w", err)
	}
	defer rows.Close()

	var out []domain.ExportRecord
	for rows.Next() {
		var r domain.ExportRecord
		var status string
		if err := rows.Scan(&r.LocalID, &r.MID, &status, &r.ResourceID); err != nil {
			return nil, fmt.Errorf("store: scan export: %w", err)
		}
		r.Status = domain.ExportStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteExport removes one export pair after its broker resource is gone.
func (s *Store) DeleteExport(localID int64, mid int) error {
	if _, err := s.db.Exec(`DELETE FROM exports WHERE local_id = ? AND mid = ?`, localID, mid); err != nil {
		return fmt.Errorf("store: delete export: %w", err)
	}
	return nil
}

func encodeURLs(m map[int64]string) (string, error) {
	tmp := make(map[string]string, len(m))
	for k, v := range m {
		tmp[strconv.FormatInt(k, 10)] = v
	}
	b, err := json.Marshal(tmp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeURLs(s string) (map[int64]string, error) {
	tmp := map[string]string{}
	if err := json.Unmarshal([]byte(s), &tmp); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(tmp))
	for k, v := range tmp {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// UpsertCourseURL writes one course-url aggregate record.
func (s *Store) UpsertCourseURL(r domain.CourseURLRecord) error {
	urls, err := encodeURLs(r.URLs)
	if err != nil {
		return fmt.Errorf("store: encode course urls: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO course_urls (server_id, cms_course_id, resource_id, urls)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (server_id, cms_course_id) DO UPDATE SET
			resource_id = excluded.resource_id,
			urls = excluded.urls`,
		r.ServerID, r.CMSCourseID, r.ResourceID, urls)
	if err != nil {
		return fmt.Errorf("store: upsert course url: %w", err)
	}
	return nil
}

// CourseURLs lists the course-url records of one connection.
func (s *Store) CourseURLs(serverID int) ([]domain.CourseURLRecord, error) {
	rows, err := s.db.Query(`SELECT server_id, cms_course_id, resource_id, urls FROM course_urls WHERE server_id = ? ORDER BY cms_course_id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: list course urls: %w", err)
	}
	defer rows.Close()

	var out []domain.CourseURLRecord
	for rows.Next() {
		var r domain.CourseURLRecord
		var urls string
		if err := rows.Scan(&r.ServerID, &r.CMSCourseID, &r.ResourceID, &urls); err != nil {
			return nil, fmt.Errorf("store: scan course url: %w", err)
		}
		if r.URLs, err = decodeURLs(urls); err != nil {
			return nil, fmt.Errorf("store: decode course urls: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteCourseURL removes one record.
func (s *Store) DeleteCourseURL(serverID int, cmsCourseID string) error {
	if _, err := s.db.Exec(`DELETE FROM course_urls WHERE server_id = ? AND cms_course_id = ?`, serverID, cmsCourseID); err != nil {
		return fmt.Errorf("store: delete course url: %w", err)
	}
	return nil
}
