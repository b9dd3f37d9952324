package store

import (
	"database/sql"
	"fmt"

	"campus-sync/internal/domain"
)

// UpsertTree writes the header row of a directory tree. Mode and the
// takeover flags are only written on insert; after that they belong to the
// administrator and SetTreeMode / SetTreeTakeover.
func (s *Store) UpsertTree(t domain.DirectoryTree) error {
	_, err := s.db.Exec(`
		INSERT INTO trees (root_id, server_id, resource_id, title, mode, category_id,
			takeover_title, takeover_position, takeover_allocation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (root_id) DO UPDATE SET
			server_id = excluded.server_id,
			resource_id = excluded.resource_id,
			title = excluded.title`,
		t.RootID, t.ServerID, t.ResourceID, t.Title, int(t.Mode), t.CategoryID,
		t.TakeoverTitle, t.TakeoverPosition, t.TakeoverAllocation)
	if err != nil {
		return fmt.Errorf("store: upsert tree %s: %w", t.RootID, err)
	}
	return nil
}

// Tree loads one tree header; ok is false when the root id is unknown.
func (s *Store) Tree(rootID string) (domain.DirectoryTree, bool, error) {
	var t domain.DirectoryTree
	var mode int
	err := s.db.QueryRow(`
		SELECT root_id, server_id, resource_id, title, mode, category_id,
			takeover_title, takeover_position, takeover_allocation
		FROM trees WHERE root_id = ?`, rootID).
		Scan(&t.RootID, &t.ServerID, &t.ResourceID, &t.Title, &mode, &t.CategoryID,
			&t.TakeoverTitle, &t.TakeoverPosition, &t.TakeoverAllocation)
	if err == sql.ErrNoRows {
		return t, false, nil
	}
	if err != nil {
		return t, false, fmt.Errorf("store: load tree %s: %w", rootID, err)
	}
	t.Mode = domain.TreeMode(mode)
	return t, true, nil
}

// Trees lists every tree header for one connection.
func (s *Store) Trees(serverID int) ([]domain.DirectoryTree, error) {
	rows, err := s.db.Query(`
		SELECT root_id, server_id, resource_id, title, mode, category_id,
			takeover_title, takeover_position, takeover_allocation
		FROM trees WHERE server_id = ? ORDER BY root_id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: list trees: %w", err)
	}
	defer rows.Close()

	var out []domain.DirectoryTree
	for rows.Next() {
		var t domain.DirectoryTree
		var mode int
		if err := rows.Scan(&t.RootID, &t.ServerID, &t.ResourceID, &t.Title, &mode, &t.CategoryID,
			&t.TakeoverTitle, &t.TakeoverPosition, &t.TakeoverAllocation); err != nil {
			return nil, fmt.Errorf("store: scan tree: %w", err)
		}
		t.Mode = domain.TreeMode(mode)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTreeMode writes a new mode (and, for WHOLE, the mapped category).
// Transition legality is the caller's business; the store just records.
func (s *Store) SetTreeMode(rootID string, mode domain.TreeMode, categoryID int64) error {
	_, err := s.db.Exec(`UPDATE trees SET mode = ?, category_id = ? WHERE root_id = ?`,
		int(mode), categoryID, rootID)
	if err != nil {
		return fmt.Errorf("store: set tree mode: %w", err)
	}
	return nil
}

// SetTreeTakeover updates the three takeover flags.
func (s *Store) SetTreeTakeover(rootID string, title, position, allocation bool) error {
	_, err := s.db.Exec(`
		UPDATE trees SET takeover_title = ?, takeover_position = ?, takeover_allocation = ?
		WHERE root_id = ?`,
		title, position, allocation, rootID)
	if err != nil {
		return fmt.Errorf("store: set tree takeover: %w", err)
	}
	return nil
}

// UpsertDirectory writes one tree node.
func (s *Store) UpsertDirectory(d domain.Directory) error {
	_, err := s.db.Exec(`
		INSERT INTO directories (id, root_id, parent_id, title, sort_order, category_id, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (root_id, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			title = excluded.title,
			sort_order = excluded.sort_order,
			category_id = excluded.category_id,
			deleted = excluded.deleted`,
		d.ID, d.RootID, d.ParentID, d.Title, d.Order, d.CategoryID, d.Deleted)
	if err != nil {
		return fmt.Errorf("store: upsert directory %s: %w", d.ID, err)
	}
	return nil
}

// Directory loads one node by id, searching across trees. Soft-deleted nodes
// are still returned so stale course allocations resolve.
func (s *Store) Directory(id string) (domain.Directory, bool, error) {
	var d domain.Directory
	err := s.db.QueryRow(`
		SELECT id, root_id, parent_id, title, sort_order, category_id, deleted
		FROM directories WHERE id = ?`, id).
		Scan(&d.ID, &d.RootID, &d.ParentID, &d.Title, &d.Order, &d.CategoryID, &d.Deleted)
	if err == sql.ErrNoRows {
		return d, false, nil
	}
	if err != nil {
		return d, false, fmt.Errorf("store: load directory %s: %w", id, err)
	}
	return d, true, nil
}

// Directories lists all nodes of one tree, including soft-deleted ones.
func (s *Store) Directories(rootID string) ([]domain.Directory, error) {
	rows, err := s.db.Query(`
		SELECT id, root_id, parent_id, title, sort_order, category_id, deleted
		FROM directories WHERE root_id = ? ORDER BY sort_order, id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("store: list directories: %w", err)
	}
	defer rows.Close()

	var out []domain.Directory
	for rows.Next() {
		var d domain.Directory
		if err := rows.Scan(&d.ID, &d.RootID, &d.ParentID, &d.Title, &d.Order, &d.CategoryID, &d.Deleted); err != nil {
			return nil, fmt.Errorf("store: scan directory: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
