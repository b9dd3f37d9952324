package store

import (
	"fmt"

	"campus-sync/internal/domain"
)

// CachedParticipant is one row of the participant cache, the fallback used
// when the broker's membership list cannot be fetched.
type CachedParticipant struct {
	ServerID  int
	Community string
	P         domain.Participant
}

// ReplaceParticipants swaps the cached membership graph for one connection.
func (s *Store) ReplaceParticipants(serverID int, rows []CachedParticipant) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: replace participants: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM participants WHERE server_id = ?`, serverID); err != nil {
		return fmt.Errorf("store: replace participants: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO participants (server_id, mid, name, org, dns, email, community)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			serverID, r.P.MID, r.P.Name, r.P.Org, r.P.Domain, r.P.Email, r.Community); err != nil {
			return fmt.Errorf("store: insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace participants: %w", err)
	}
	return nil
}

// Participants loads the cached graph for one connection.
func (s *Store) Participants(serverID int) ([]CachedParticipant, error) {
	rows, err := s.db.Query(`
		SELECT server_id, mid, name, org, dns, email, community
		FROM participants WHERE server_id = ? ORDER BY community, mid`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: list participants: %w", err)
	}
	defer rows.Close()

	var out []CachedParticipant
	for rows.Next() {
		var r CachedParticipant
		if err := rows.Scan(&r.ServerID, &r.P.MID, &r.P.Name, &r.P.Org, &r.P.Domain, &r.P.Email, &r.Community); err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
