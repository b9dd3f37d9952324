// Package dirtree mirrors remote CMS directory hierarchies into local
// category mappings. Each tree is governed by a forward-only mode state
// machine: PENDING until an administrator maps it, then WHOLE (the complete
// tree under one category) or MANUAL (nodes mapped individually), and
// finally DELETED.
package dirtree

import (
	"errors"
	"fmt"
	"log"

	"campus-sync/internal/domain"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

// ErrBadTransition is wrapped by every rejected mode change.
var ErrBadTransition = errors.New("dirtree: illegal mode transition")

// Sync reconciles directory tree resources against the store and the
// platform's category tree.
type Sync struct {
	Store *store.Store
	Local local.Platform
}

func New(st *store.Store, platform local.Platform) *Sync {
	return &Sync{Store: st, Local: platform}
}

func allowed(from, to domain.TreeMode) bool {
	if from == to {
		// Re-applying the current mode is a no-op, not a violation;
		// DELETED is terminal even for itself.
		return from != domain.TreeDeleted
	}
	switch from {
	case domain.TreePending:
		return to == domain.TreeWhole || to == domain.TreeManual || to == domain.TreeDeleted
	case domain.TreeWhole, domain.TreeManual:
		return to == domain.TreeDeleted
	}
	return false
}

func (s *Sync) transition(rootID string, to domain.TreeMode, categoryID int64) error {
	tree, ok, err := s.Store.Tree(rootID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dirtree: unknown tree %s", rootID)
	}
	if !allowed(tree.Mode, to) {
		return fmt.Errorf("%w: %s -> %s for tree %s", ErrBadTransition, tree.Mode, to, rootID)
	}
	if to != domain.TreeWhole {
		categoryID = tree.CategoryID
	}
	return s.Store.SetTreeMode(rootID, to, categoryID)
}

// MapWhole maps the entire tree under one local category and creates the
// category skeleton for every known node.
func (s *Sync) MapWhole(rootID string, categoryID int64) error {
	if err := s.transition(rootID, domain.TreeWhole, categoryID); err != nil {
		return err
	}
	return s.materialize(rootID, categoryID)
}

// SetManual switches the tree to administrator-driven node mapping.
func (s *Sync) SetManual(rootID string) error {
	return s.transition(rootID, domain.TreeManual, 0)
}

// MapDirectory maps one node onto an existing category (MANUAL trees only).
func (s *Sync) MapDirectory(rootID, dirID string, categoryID int64) error {
	tree, ok, err := s.Store.Tree(rootID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dirtree: unknown tree %s", rootID)
	}
	if tree.Mode != domain.TreeManual {
		return fmt.Errorf("dirtree: tree %s is %s, individual mapping needs manual mode", rootID, tree.Mode)
	}
	d, ok, err := s.Store.Directory(dirID)
	if err != nil {
		return err
	}
	if !ok || d.RootID != rootID {
		return fmt.Errorf("dirtree: directory %s not part of tree %s", dirID, rootID)
	}
	d.CategoryID = categoryID
	return s.Store.UpsertDirectory(d)
}

// Delete marks the tree deleted and soft-deletes its nodes. Terminal.
func (s *Sync) Delete(rootID string) error {
	if err := s.transition(rootID, domain.TreeDeleted, 0); err != nil {
		return err
	}
	dirs, err := s.Store.Directories(rootID)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if d.Deleted {
			continue
		}
		d.Deleted = true
		if err := s.Store.UpsertDirectory(d); err != nil {
			return err
		}
	}
	return nil
}

// Refresh applies a fetched directory tree resource: upserts the header,
// then walks the node list creating, moving, retitling and soft-deleting
// local Directory rows to match. Safe to re-run with unchanged data.
func (s *Sync) Refresh(res *domain.DirectoryTreeResource, resourceID, serverID int) error {
	if res.RootID == "" {
		return fmt.Errorf("dirtree: resource %d has no root id", resourceID)
	}

	tree, known, err := s.Store.Tree(res.RootID)
	if err != nil {
		return err
	}
	if known && tree.Mode == domain.TreeDeleted {
		// The administrator closed this tree; remote edits no longer apply.
		return nil
	}

	header := domain.DirectoryTree{
		RootID: res.RootID, ServerID: serverID, ResourceID: resourceID, Title: res.Title,
		TakeoverTitle: true, TakeoverPosition: true, TakeoverAllocation: true,
	}
	if err := s.Store.UpsertTree(header); err != nil {
		return err
	}
	if known && tree.TakeoverTitle && tree.Mode == domain.TreeWhole && tree.CategoryID != 0 && res.Title != tree.Title {
		if err := s.renameCategory(tree.CategoryID, res.Title); err != nil {
			log.Printf("WARN: dirtree %s: title takeover failed: %v", res.RootID, err)
		}
	}

	existing, err := s.Store.Directories(res.RootID)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Directory, len(existing))
	for _, d := range existing {
		byID[d.ID] = d
	}

	seen := map[string]bool{}
	for _, node := range res.Directory {
		if node.ID == "" || node.ID == res.RootID {
			continue
		}
		seen[node.ID] = true

		want := domain.Directory{
			ID:       node.ID,
			RootID:   res.RootID,
			ParentID: parentID(node, res.RootID),
			Title:    node.Title,
			Order:    node.Order,
		}

		prev, ok := byID[node.ID]
		if ok {
			want.CategoryID = prev.CategoryID
			if prev == want {
				continue
			}
		}
		if err := s.Store.UpsertDirectory(want); err != nil {
			return err
		}
		if err := s.applyTakeovers(known, tree, prev, want, ok); err != nil {
			log.Printf("WARN: dirtree %s: category takeover for node %s failed: %v", res.RootID, node.ID, err)
		}
	}

	// Nodes gone from the payload are soft-deleted; their mapping stays so
	// stale course allocations keep resolving.
	for _, d := range existing {
		if seen[d.ID] || d.Deleted {
			continue
		}
		d.Deleted = true
		if err := s.Store.UpsertDirectory(d); err != nil {
			return err
		}
	}

	if known && tree.Mode == domain.TreeWhole && tree.CategoryID != 0 {
		return s.materialize(res.RootID, tree.CategoryID)
	}
	return nil
}

func parentID(node domain.DirectoryNode, rootID string) string {
	if node.Parent.ID == rootID {
		return ""
	}
	return node.Parent.ID
}

func (s *Sync) applyTakeovers(known bool, tree domain.DirectoryTree, prev, next domain.Directory, existed bool) error {
	if !known || !existed || next.CategoryID == 0 {
		return nil
	}
	if tree.TakeoverTitle && prev.Title != next.Title {
		if err := s.renameCategory(next.CategoryID, next.Title); err != nil {
			return err
		}
	}
	if tree.TakeoverPosition && prev.Order != next.Order {
		cat, err := s.Local.Categories.Get(next.CategoryID)
		if err != nil {
			return err
		}
		cat.Order = next.Order
		if err := s.Local.Categories.Update(cat); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sync) renameCategory(categoryID int64, title string) error {
	cat, err := s.Local.Categories.Get(categoryID)
	if err != nil {
		return err
	}
	cat.Name = title
	return s.Local.Categories.Update(cat)
}

// materialize creates the category skeleton for a WHOLE-mapped tree,
// parents before children, and records the mapping on each node.
func (s *Sync) materialize(rootID string, rootCategoryID int64) error {
	dirs, err := s.Store.Directories(rootID)
	if err != nil {
		return err
	}
	byID := make(map[string]*domain.Directory, len(dirs))
	for i := range dirs {
		byID[dirs[i].ID] = &dirs[i]
	}

	var ensure func(d *domain.Directory) (int64, error)
	ensure = func(d *domain.Directory) (int64, error) {
		if d.CategoryID != 0 {
			return d.CategoryID, nil
		}
		parentCat := rootCategoryID
		if d.ParentID != "" {
			if p, ok := byID[d.ParentID]; ok {
				var err error
				if parentCat, err = ensure(p); err != nil {
					return 0, err
				}
			}
		}
		id, err := s.Local.Categories.Create(d.Title, parentCat)
		if err != nil {
			return 0, err
		}
		d.CategoryID = id
		return id, s.Store.UpsertDirectory(*d)
	}

	for i := range dirs {
		if dirs[i].Deleted {
			continue
		}
		if _, err := ensure(&dirs[i]); err != nil {
			return err
		}
	}
	return nil
}

// CategoryFor resolves the local category a course allocation lands in.
// ok is false while the tree is pending or the node is unknown.
func (s *Sync) CategoryFor(dirID string) (int64, bool, error) {
	d, found, err := s.Store.Directory(dirID)
	if err != nil || !found {
		return 0, false, err
	}
	if d.CategoryID != 0 {
		return d.CategoryID, true, nil
	}
	tree, found, err := s.Store.Tree(d.RootID)
	if err != nil || !found {
		return 0, false, err
	}
	if tree.Mode == domain.TreeWhole && tree.CategoryID != 0 {
		// Node created after the last materialize; map it now.
		if err := s.materialize(d.RootID, tree.CategoryID); err != nil {
			return 0, false, err
		}
		if d, found, err = s.Store.Directory(dirID); err != nil || !found {
			return 0, false, err
		}
		if d.CategoryID != 0 {
			return d.CategoryID, true, nil
		}
	}
	return 0, false, nil
}
