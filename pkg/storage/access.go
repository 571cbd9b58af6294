package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/renewal/pkg/types"
)

// ErrDuplicateAccess is returned when a username is already registered.
var ErrDuplicateAccess = errors.New("storage: portal access already exists")

// Access is a portal login with the dates it may be used between.
type Access struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Secret     string     `json:"-"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    time.Time  `json:"end_date"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// ValidOn reports whether day falls inside the access window.
func (a Access) ValidOn(day time.Time) bool {
	d := day.Format(dateLayout)
	return a.StartDate.Format(dateLayout) <= d && d <= a.EndDate.Format(dateLayout)
}

// AddAccess registers a portal login.
func (s *Store) AddAccess(ctx context.Context, a Access) (*Access, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	a.Username = strings.TrimSpace(a.Username)
	if a.Username == "" || a.Secret == "" {
		return nil, fmt.Errorf("storage: username and secret are required")
	}
	if a.EndDate.Before(a.StartDate) {
		return nil, fmt.Errorf("storage: access ends before it starts")
	}
	a.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_access (username, secret, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.Username, a.Secret, a.StartDate.Format(dateLayout), a.EndDate.Format(dateLayout), a.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAccess, a.Username)
		}
		return nil, fmt.Errorf("insert access: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAccess replaces the secret and validity window of a login.
func (s *Store) UpdateAccess(ctx context.Context, a Access) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE portal_access SET secret = ?, start_date = ?, end_date = ? WHERE id = ?
	`, a.Secret, a.StartDate.Format(dateLayout), a.EndDate.Format(dateLayout), a.ID)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteAccess removes a login.
func (s *Store) DeleteAccess(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM portal_access WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListAccess returns every login, newest first.
func (s *Store) ListAccess(ctx context.Context) ([]Access, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, secret, start_date, end_date, created_at, last_used_at
		FROM portal_access ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Access
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveCredential returns the valid login used least recently and marks it
// used. Logins never used come first.
func (s *Store) ActiveCredential(ctx context.Context) (types.Credential, error) {
	if s == nil || s.db == nil {
		return types.Credential{}, ErrStoreClosed
	}

	var cred types.Credential
	err := retryBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := s.now().UTC()
		today := now.Format(dateLayout)
		row := tx.QueryRowContext(ctx, `
			SELECT id, username, secret, start_date, end_date, created_at, last_used_at
			FROM portal_access
			WHERE start_date <= ? AND end_date >= ?
			ORDER BY last_used_at IS NOT NULL, last_used_at ASC, id ASC
			LIMIT 1
		`, today, today)
		a, err := scanAccess(row)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNoCredential
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE portal_access SET last_used_at = ? WHERE id = ?`,
			now.Format(timeLayout), a.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		cred = types.Credential{Username: a.Username, Secret: a.Secret}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNoCredential) {
			return types.Credential{}, err
		}
		return types.Credential{}, fmt.Errorf("select active access: %w", err)
	}
	return cred, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccess(row scanner) (Access, error) {
	var (
		a                   Access
		start, end, created string
		lastUsed            sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Secret, &start, &end, &created, &lastUsed); err != nil {
		return Access{}, err
	}
	var err error
	if a.StartDate, err = time.Parse(dateLayout, start); err != nil {
		return Access{}, fmt.Errorf("access %d start date: %w", a.ID, err)
	}
	if a.EndDate, err = time.Parse(dateLayout, end); err != nil {
		return Access{}, fmt.Errorf("access %d end date: %w", a.ID, err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	if lastUsed.Valid {
		if t, err := time.Parse(timeLayout, lastUsed.String); err == nil {
			a.LastUsedAt = &t
		}
	}
	return a, nil
}
