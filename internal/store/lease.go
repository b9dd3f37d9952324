package store

import (
	"fmt"
	"time"
)

// AcquireLease takes the per-connection pass lock. The scheduler contract
// says two passes for one connection never overlap; this makes the contract
// enforceable instead of assumed. A stale lease (crashed pass) is taken over
// once it expires.
func (s *Store) AcquireLease(serverID int, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(ttl).Unix()

	res, err := s.db.Exec(`
		INSERT INTO leases (server_id, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE leases.holder = excluded.holder OR leases.expires_at < ?`,
		serverID, holder, expires, now)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire lease: %w", err)
	}
	return n > 0, nil
}

// ReleaseLease drops the lock if this holder still owns it.
func (s *Store) ReleaseLease(serverID int, holder string) error {
	_, err := s.db.Exec(`DELETE FROM leases WHERE server_id = ? AND holder = ?`, serverID, holder)
	if err != nil {
		return fmt.Errorf("store: release lease: %w", err)
	}
	return nil
}
