package store

import (
	"database/sql"
	"fmt"
	"time"

	"campus-sync/internal/domain"
)

// AddEvent stores a pulled feed entry unless an entry for the same
// (server, resource, type) is already queued. When one is, only the status
// is refreshed so a later destroyed supersedes a pending updated.
// Returns true when a new row was inserted.
func (s *Store) AddEvent(serverID, resourceID int, t domain.ResourceType, status domain.EventStatus) (bool, error) {
	var existing string
	err := s.db.QueryRow(`
		SELECT status FROM events
		WHERE server_id = ? AND resource_id = ? AND type = ?`,
		serverID, resourceID, string(t)).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`
			INSERT INTO events (server_id, resource_id, type, status, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			serverID, resourceID, string(t), string(status), time.Now().Unix())
		if err != nil {
			return false, fmt.Errorf("store: add event: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("store: add event: %w", err)
	}
	if existing != string(status) {
		_, err = s.db.Exec(`
			UPDATE events SET status = ?
			WHERE server_id = ? AND resource_id = ? AND type = ?`,
			string(status), serverID, resourceID, string(t))
		if err != nil {
			return false, fmt.Errorf("store: add event: %w", err)
		}
	}
	return false, nil
}

// PendingEvents returns queued entries for one connection, oldest first,
// skipping abandoned ones.
func (s *Store) PendingEvents(serverID int) ([]domain.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, resource_id, type, status, fail_count, abandoned
		FROM events
		WHERE server_id = ? AND abandoned = 0
		ORDER BY id`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("store: pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AbandonedEvents lists entries that exceeded the retry ceiling and wait for
// operator attention.
func (s *Store) AbandonedEvents(serverID int) ([]domain.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, resource_id, type, status, fail_count, abandoned
		FROM events
		WHERE server_id = ? AND abandoned = 1
		ORDER BY id`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("store: abandoned events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var t, status string
		if err := rows.Scan(&ev.ID, &ev.ServerID, &ev.ResourceID, &t, &status, &ev.FailCount, &ev.Abandoned); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Type = domain.ResourceType(t)
		ev.Status = domain.EventStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEvent removes a processed entry.
func (s *Store) DeleteEvent(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete event: %w", err)
	}
	return nil
}

// RecordEventFailure bumps the failure counter and flags the entry abandoned
// once it reaches maxFailures. Returns the new count and whether the entry
// was abandoned.
func (s *Store) RecordEventFailure(id int64, maxFailures int) (int, bool, error) {
	var count int
	err := s.db.QueryRow(`
		UPDATE events SET fail_count = fail_count + 1 WHERE id = ?
		RETURNING fail_count`, id).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("store: record event failure: %w", err)
	}
	if maxFailures > 0 && count >= maxFailures {
		if _, err := s.db.Exec(`UPDATE events SET abandoned = 1 WHERE id = ?`, id); err != nil {
			return count, false, fmt.Errorf("store: abandon event: %w", err)
		}
		return count, true, nil
	}
	return count, false, nil
}

// QueueStats summarises queue health for operators.
type QueueStats struct {
	Pending   int
	Failing   int // pending entries with at least one failure
	Abandoned int
}

func (s *Store) EventStats(serverID int) (QueueStats, error) {
	var st QueueStats
	err := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE abandoned = 0),
			COUNT(*) FILTER (WHERE abandoned = 0 AND fail_count > 0),
			COUNT(*) FILTER (WHERE abandoned = 1)
		FROM events WHERE server_id = ?`,
		serverID).Scan(&st.Pending, &st.Failing, &st.Abandoned)
	if err != nil {
		return st, fmt.Errorf("store: event stats: %w", err)
	}
	return st, nil
}
