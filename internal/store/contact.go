package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact and its secondary phone numbers
// in a single transaction.
func (db *DB) UpsertContact(c *Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO contacts (id, display_name, phone, emails, starred, photo_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE contacts.phone END,
			emails = excluded.emails,
			starred = excluded.starred,
			photo_ref = excluded.photo_ref,
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, c.Phone, c.Emails, c.Starred, c.PhotoRef, now); err != nil {
		return fmt.Errorf("upsert contact %d: %w", c.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM contact_phones WHERE contact_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear phones for %d: %w", c.ID, err)
	}
	for _, phone := range c.AltPhones {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO contact_phones (contact_id, phone) VALUES (?, ?)`,
			c.ID, phone); err != nil {
			return fmt.Errorf("insert phone for %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// BulkUpsertContacts inserts or updates multiple contacts.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	for i := range contacts {
		if err := db.UpsertContact(&contacts[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetContactByID returns a contact by ID, or nil if absent.
func (db *DB) GetContactByID(id int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, display_name, phone, emails, starred, photo_ref FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.Phone, &c.Emails, &c.Starred, &c.PhotoRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	phones, err := db.contactPhones(id)
	if err != nil {
		return nil, err
	}
	c.AltPhones = phones
	return &c, nil
}

// ReadAllContacts returns the full contact directory with secondary phones.
func (db *DB) ReadAllContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT id, display_name, phone, emails, starred, photo_ref FROM contacts ORDER BY display_name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Phone, &c.Emails, &c.Starred, &c.PhotoRef); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach secondary phones in one pass.
	phoneRows, err := db.Query(`SELECT contact_id, phone FROM contact_phones`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = phoneRows.Close() }()

	byID := make(map[int64][]string)
	for phoneRows.Next() {
		var id int64
		var phone string
		if err := phoneRows.Scan(&id, &phone); err != nil {
			return nil, err
		}
		byID[id] = append(byID[id], phone)
	}
	if err := phoneRows.Err(); err != nil {
		return nil, err
	}
	for i := range contacts {
		contacts[i].AltPhones = byID[contacts[i].ID]
	}
	return contacts, nil
}

// UpdateStar sets the starred flag on a contact.
func (db *DB) UpdateStar(id int64, starred bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET starred = ?, updated_at = ? WHERE id = ?`, starred, now, id)
	return err
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

func (db *DB) contactPhones(id int64) ([]string, error) {
	rows, err := db.Query(`SELECT phone FROM contact_phones WHERE contact_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}
