package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Contact is one known chat identity.
type Contact struct {
	Identity  string
	PublicKey []byte
	Nickname  string
}

// SaveContact upserts a contact by identity.
func (s *Store) SaveContact(identity string, publicKey []byte, nickname string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO contact (identity, public_key, nickname) VALUES (?, ?, ?)",
		identity, publicKey, nickname,
	)
	if err != nil {
		return fmt.Errorf("store: save contact: %w", err)
	}
	return nil
}

// GetContact returns the contact, or nil if not found.
func (s *Store) GetContact(identity string) (*Contact, error) {
	var c Contact
	err := s.db.QueryRow(
		"SELECT identity, public_key, nickname FROM contact WHERE identity = ?", identity,
	).Scan(&c.Identity, &c.PublicKey, &c.Nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get contact: %w", err)
	}
	return &c, nil
}

// HasContact reports whether the identity is known.
func (s *Store) HasContact(identity string) (bool, error) {
	c, err := s.GetContact(identity)
	return c != nil, err
}

// DeleteContact removes a contact. Deleting an unknown contact is a no-op.
func (s *Store) DeleteContact(identity string) error {
	if _, err := s.db.Exec("DELETE FROM contact WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("store: delete contact: %w", err)
	}
	return nil
}

// ListContacts returns all contacts in identity order.
func (s *Store) ListContacts() ([]*Contact, error) {
	rows, err := s.db.Query("SELECT identity, public_key, nickname FROM contact ORDER BY identity")
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Identity, &c.PublicKey, &c.Nickname); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
