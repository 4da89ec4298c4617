package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Group is one chat group. Members holds identities including the creator.
type Group struct {
	Creator string
	GroupID uint64
	Name    string
	Members []string
}

// Member lists are small (group chats, not mailing lists), so a separator-
// joined TEXT column beats a join table here.
const memberSep = ","

// UpsertGroup creates or replaces a group. An empty name keeps the stored
// name so a membership-only update does not wipe the title.
func (s *Store) UpsertGroup(creator string, groupID uint64, name string, members []string) error {
	if name == "" {
		if g, err := s.GetGroup(creator, groupID); err != nil {
			return err
		} else if g != nil {
			name = g.Name
		}
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO chat_group (creator, group_id, name, members) VALUES (?, ?, ?, ?)",
		creator, int64(groupID), name, strings.Join(members, memberSep),
	)
	if err != nil {
		return fmt.Errorf("store: upsert group: %w", err)
	}
	return nil
}

// GetGroup returns the group, or nil if not found.
func (s *Store) GetGroup(creator string, groupID uint64) (*Group, error) {
	var g Group
	var id int64
	var members string
	err := s.db.QueryRow(
		"SELECT creator, group_id, name, members FROM chat_group WHERE creator = ? AND group_id = ?",
		creator, int64(groupID),
	).Scan(&g.Creator, &id, &g.Name, &members)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get group: %w", err)
	}
	g.GroupID = uint64(id)
	if members != "" {
		g.Members = strings.Split(members, memberSep)
	}
	return &g, nil
}

// HasGroup reports whether the group is known.
func (s *Store) HasGroup(creator string, groupID uint64) (bool, error) {
	g, err := s.GetGroup(creator, groupID)
	return g != nil, err
}

// RenameGroup sets the group name. Renaming an unknown group is a no-op.
func (s *Store) RenameGroup(creator string, groupID uint64, name string) error {
	_, err := s.db.Exec(
		"UPDATE chat_group SET name = ? WHERE creator = ? AND group_id = ?",
		name, creator, int64(groupID),
	)
	if err != nil {
		return fmt.Errorf("store: rename group: %w", err)
	}
	return nil
}

// RemoveGroupMember drops one identity from the member list.
func (s *Store) RemoveGroupMember(creator string, groupID uint64, identity string) error {
	g, err := s.GetGroup(creator, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	var kept []string
	for _, m := range g.Members {
		if m != identity {
			kept = append(kept, m)
		}
	}
	return s.UpsertGroup(creator, groupID, g.Name, kept)
}

// DeleteGroup removes a group.
func (s *Store) DeleteGroup(creator string, groupID uint64) error {
	_, err := s.db.Exec(
		"DELETE FROM chat_group WHERE creator = ? AND group_id = ?",
		creator, int64(groupID),
	)
	if err != nil {
		return fmt.Errorf("store: delete group: %w", err)
	}
	return nil
}
