package store

import (
	"database/sql"
	"fmt"

	"campus-sync/internal/domain"
)

// UpsertCourse writes the header row for an imported course resource.
func (s *Store) UpsertCourse(c domain.CourseRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO courses (resource_id, server_id, cms_course_id, scenario, title)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			cms_course_id = excluded.cms_course_id,
			scenario = excluded.scenario,
			title = excluded.title`,
		c.ResourceID, c.ServerID, c.CMSCourseID, c.Scenario, c.Title)
	if err != nil {
		return fmt.Errorf("store: upsert course %d: %w", c.ResourceID, err)
	}
	return nil
}

// Course loads a course header by broker resource id.
func (s *Store) Course(resourceID int) (domain.CourseRecord, bool, error) {
	var c domain.CourseRecord
	err := s.db.QueryRow(`
		SELECT resource_id, server_id, cms_course_id, scenario, title
		FROM courses WHERE resource_id = ?`, resourceID).
		Scan(&c.ResourceID, &c.ServerID, &c.CMSCourseID, &c.Scenario, &c.Title)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("store: load course %d: %w", resourceID, err)
	}
	return c, true, nil
}

// CourseByCMSID loads a course header by its remote CMS course key.
func (s *Store) CourseByCMSID(cmsID string) (domain.CourseRecord, bool, error) {
	var c domain.CourseRecord
	err := s.db.QueryRow(`
		SELECT resource_id, server_id, cms_course_id, scenario, title
		FROM courses WHERE cms_course_id = ?`, cmsID).
		Scan(&c.ResourceID, &c.ServerID, &c.CMSCourseID, &c.Scenario, &c.Title)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("store: load course %q: %w", cmsID, err)
	}
	return c, true, nil
}

// Courses lists every imported course header for one connection.
func (s *Store) Courses(serverID int) ([]domain.CourseRecord, error) {
	rows, err := s.db.Query(`
		SELECT resource_id, server_id, cms_course_id, scenario, title
		FROM courses WHERE server_id = ? ORDER BY resource_id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: list courses: %w", err)
	}
	defer rows.Close()

	var out []domain.CourseRecord
	for rows.Next() {
		var c domain.CourseRecord
		if err := rows.Scan(&c.ResourceID, &c.ServerID, &c.CMSCourseID, &c.Scenario, &c.Title); err != nil {
			return nil, fmt.Errorf("store: scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCourse removes a course header; local-course rows are removed by the
// caller once the platform courses are archived.
func (s *Store) DeleteCourse(resourceID int) error {
	if _, err := s.db.Exec(`DELETE FROM courses WHERE resource_id = ?`, resourceID); err != nil {
		return fmt.Errorf("store: delete course %d: %w", resourceID, err)
	}
	return nil
}

// AddLocalCourse records one (allocation, group) slice of a course resource.
func (s *Store) AddLocalCourse(lc domain.LocalCourse) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO course_locals (resource_id, cms_course_id, local_id, is_real, directory_id, group_index, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lc.ResourceID, lc.CMSCourseID, lc.LocalID, lc.Real, lc.DirectoryID, lc.GroupIndex, lc.Order)
	if err != nil {
		return 0, fmt.Errorf("store: add local course: %w", err)
	}
	return res.LastInsertId()
}

// UpdateLocalCourse rewrites a mapping row in place.
func (s *Store) UpdateLocalCourse(lc domain.LocalCourse) error {
	_, err := s.db.Exec(`
		UPDATE course_locals
		SET local_id = ?, is_real = ?, directory_id = ?, group_index = ?, sort_order = ?
		WHERE id = ?`,
		lc.LocalID, lc.Real, lc.DirectoryID, lc.GroupIndex, lc.Order, lc.ID)
	if err != nil {
		return fmt.Errorf("store: update local course %d: %w", lc.ID, err)
	}
	return nil
}

// DeleteLocalCourse drops one mapping row.
func (s *Store) DeleteLocalCourse(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM course_locals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete local course %d: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM parallel_groups WHERE local_course_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete parallel groups for %d: %w", id, err)
	}
	return nil
}

func scanLocals(rows *sql.Rows) ([]domain.LocalCourse, error) {
	var out []domain.LocalCourse
	for rows.Next() {
		var lc domain.LocalCourse
		if err := rows.Scan(&lc.ID, &lc.ResourceID, &lc.CMSCourseID, &lc.LocalID, &lc.Real,
			&lc.DirectoryID, &lc.GroupIndex, &lc.Order); err != nil {
			return nil, fmt.Errorf("store: scan local course: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// LocalCourses lists the mapping rows of one course resource, real first.
func (s *Store) LocalCourses(resourceID int) ([]domain.LocalCourse, error) {
	rows, err := s.db.Query(`
		SELECT id, resource_id, cms_course_id, local_id, is_real, directory_id, group_index, sort_order
		FROM course_locals WHERE resource_id = ?
		ORDER BY is_real DESC, sort_order, id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("store: list local courses: %w", err)
	}
	defer rows.Close()
	return scanLocals(rows)
}

// LocalCoursesByCMSID lists mapping rows by remote CMS course key.
func (s *Store) LocalCoursesByCMSID(cmsID string) ([]domain.LocalCourse, error) {
	rows, err := s.db.Query(`
		SELECT id, resource_id, cms_course_id, local_id, is_real, directory_id, group_index, sort_order
		FROM course_locals WHERE cms_course_id = ?
		ORDER BY is_real DESC, sort_order, id`, cmsID)
	if err != nil {
		return nil, fmt.Errorf("store: list local courses: %w", err)
	}
	defer rows.Close()
	return scanLocals(rows)
}

// LocalCourseByLocalID finds the mapping row for one platform course.
func (s *Store) LocalCourseByLocalID(localID int64) (domain.LocalCourse, bool, error) {
	var lc domain.LocalCourse
	err := s.db.QueryRow(`
		SELECT id, resource_id, cms_course_id, local_id, is_real, directory_id, group_index, sort_order
		FROM course_locals WHERE local_id = ?`, localID).
		Scan(&lc.ID, &lc.ResourceID, &lc.CMSCourseID, &lc.LocalID, &lc.Real,
			&lc.DirectoryID, &lc.GroupIndex, &lc.Order)
	if err == sql.ErrNoRows {
		return lc, false, nil
	}
	if err != nil {
		return lc, false, fmt.Errorf("store: load local course by local id %d: %w", localID, err)
	}
	return lc, true, nil
}

// UpsertParallelGroup records one group unit attached to a local course.
func (s *Store) UpsertParallelGroup(g domain.ParallelGroup) error {
	_, err := s.db.Exec(`
		INSERT INTO parallel_groups (local_course_id, group_index, title, local_group_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (local_course_id, group_index) DO UPDATE SET
			title = excluded.title,
			local_group_id = excluded.local_group_id`,
		g.LocalCourseID, g.GroupIndex, g.Title, g.LocalGroupID)
	if err != nil {
		return fmt.Errorf("store: upsert parallel group: %w", err)
	}
	return nil
}

// ParallelGroups lists the group units of one local course mapping row.
func (s *Store) ParallelGroups(localCourseID int64) ([]domain.ParallelGroup, error) {
	rows, err := s.db.Query(`
		SELECT local_course_id, group_index, title, local_group_id
		FROM parallel_groups WHERE local_course_id = ? ORDER BY group_index`, localCourseID)
	if err != nil {
		return nil, fmt.Errorf("store: list parallel groups: %w", err)
	}
	defer rows.Close()

	var out []domain.ParallelGroup
	for rows.Next() {
		var g domain.ParallelGroup
		if err := rows.Scan(&g.LocalCourseID, &g.GroupIndex, &g.Title, &g.LocalGroupID); err != nil {
			return nil, fmt.Errorf("store: scan parallel group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteParallelGroup removes one group unit.
func (s *Store) DeleteParallelGroup(localCourseID int64, groupIndex int) error {
	_, err := s.db.Exec(`
		DELETE FROM parallel_groups WHERE local_course_id = ? AND group_index = ?`,
		localCourseID, groupIndex)
	if err != nil {
		return fmt.Errorf("store: delete parallel group: %w", err)
	}
	return nil
}
