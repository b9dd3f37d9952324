package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"campus-sync/internal/domain"
)

func encodeGroupRoles(m map[int]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	// JSON object keys are strings; keep the map keyed by index locally.
	tmp := make(map[string]string, len(m))
	for k, v := range m {
		tmp[strconv.Itoa(k)] = v
	}
	b, err := json.Marshal(tmp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeGroupRoles(s string) (map[int]string, error) {
	tmp := map[string]string{}
	if err := json.Unmarshal([]byte(s), &tmp); err != nil {
		return nil, err
	}
	out := make(map[int]string, len(tmp))
	for k, v := range tmp {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[idx] = v
	}
	return out, nil
}

// ReplaceMembers swaps the cached membership of one remote course for the
// given list, in one transaction.
func (s *Store) ReplaceMembers(cmsCourseID string, members []domain.MemberRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: replace members: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM members WHERE cms_course_id = ?`, cmsCourseID); err != nil {
		return fmt.Errorf("store: replace members: %w", err)
	}
	for _, m := range members {
		gr, err := encodeGroupRoles(m.GroupRoles)
		if err != nil {
			return fmt.Errorf("store: encode group roles: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO members (cms_course_id, person_id, person_type, role, group_roles)
			VALUES (?, ?, ?, ?, ?)`,
			cmsCourseID, m.PersonID, m.PersonIDType, m.Role, gr); err != nil {
			return fmt.Errorf("store: insert member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace members: %w", err)
	}
	return nil
}

// Members loads the cached membership of one remote course.
func (s *Store) Members(cmsCourseID string) ([]domain.MemberRecord, error) {
	rows, err := s.db.Query(`
		SELECT cms_course_id, person_id, person_type, role, group_roles
		FROM members WHERE cms_course_id = ? ORDER BY person_id`, cmsCourseID)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()

	var out []domain.MemberRecord
	for rows.Next() {
		var m domain.MemberRecord
		var gr string
		if err := rows.Scan(&m.CMSCourseID, &m.PersonID, &m.PersonIDType, &m.Role, &gr); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		if m.GroupRoles, err = decodeGroupRoles(gr); err != nil {
			return nil, fmt.Errorf("store: decode group roles: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemberCourseIDs lists every remote course with cached members, for the
// role catch-up pass.
func (s *Store) MemberCourseIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT cms_course_id FROM members ORDER BY cms_course_id`)
	if err != nil {
		return nil, fmt.Errorf("store: member course ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan member course id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteMembers drops the cached membership of one remote course.
func (s *Store) DeleteMembers(cmsCourseID string) error {
	if _, err := s.db.Exec(`DELETE FROM members WHERE cms_course_id = ?`, cmsCourseID); err != nil {
		return fmt.Errorf("store: delete members: %w", err)
	}
	return nil
}

// SetMemberSource records which cms course a member resource feeds.
func (s *Store) SetMemberSource(resourceID int, cmsCourseID string) error {
	_, err := s.db.Exec(`
		INSERT INTO member_sources (resource_id, cms_course_id) VALUES (?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET cms_course_id = excluded.cms_course_id`,
		resourceID, cmsCourseID)
	if err != nil {
		return fmt.Errorf("store: set member source: %w", err)
	}
	return nil
}

// MemberSource resolves a member resource back to its cms course.
func (s *Store) MemberSource(resourceID int) (string, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT cms_course_id FROM member_sources WHERE resource_id = ?`, resourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: member source: %w", err)
	}
	return id, true, nil
}

// DeleteMemberSource forgets a destroyed member resource.
func (s *Store) DeleteMemberSource(resourceID int) error {
	if _, err := s.db.Exec(`DELETE FROM member_sources WHERE resource_id = ?`, resourceID); err != nil {
		return fmt.Errorf("store: delete member source: %w", err)
	}
	return nil
}
