package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tablehub/tablehub/internal/domain/adventure"
)

var _ adventure.Repository = (*Store)(nil)

const adventureColumns = `id, adventure_id, owner_id, character_ref, scenario_ref, handle, messages, created_at, updated_at`

func (s *Store) Create(ctx context.Context, a *adventure.Adventure) error {
	messages, err := json.Marshal(a.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx, `INSERT INTO adventures
		(adventure_id, owner_id, character_ref, scenario_ref, handle, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AdventureID.String(), ownerString(a.OwnerID), a.CharacterRef, a.ScenarioRef, a.Handle,
		string(messages), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return adventure.ErrAlreadyExists
		}
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Get(ctx context.Context, adventureID uuid.UUID) (*adventure.Adventure, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+adventureColumns+` FROM adventures WHERE adventure_id = ?`, adventureID.String())
	return scanAdventure(row)
}

func (s *Store) Update(ctx context.Context, a *adventure.Adventure) error {
	messages, err := json.Marshal(a.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE adventures SET handle = ?, messages = ?, updated_at = ? WHERE adventure_id = ?`,
		a.Handle, string(messages), toMillis(a.UpdatedAt), a.AdventureID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return adventure.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, adventureID uuid.UUID) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM adventures WHERE adventure_id = ?`, adventureID.String())
	return err
}

func (s *Store) List(ctx context.Context, filter adventure.Filter, limit, offset int) ([]*adventure.Adventure, error) {
	var where []string
	var args []any
	if filter.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID.String())
	}
	if filter.CharacterRef != nil {
		where = append(where, "character_ref = ?")
		args = append(args, *filter.CharacterRef)
	}
	query := `SELECT ` + adventureColumns + ` FROM adventures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*adventure.Adventure
	for rows.Next() {
		a, err := scanAdventure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdventure(row rowScanner) (*adventure.Adventure, error) {
	var (
		a         adventure.Adventure
		id, owner sql.NullString
		messages  string
		created   int64
		updated   int64
	)
	if err := row.Scan(&a.ID, &id, &owner, &a.CharacterRef, &a.ScenarioRef, &a.Handle, &messages, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id.String)
	if err != nil {
		return nil, fmt.Errorf("adventure id %q: %w", id.String, err)
	}
	a.AdventureID = parsed
	if owner.Valid && owner.String != "" {
		o, err := uuid.Parse(owner.String)
		if err != nil {
			return nil, fmt.Errorf("owner id %q: %w", owner.String, err)
		}
		a.OwnerID = &o
	}
	if err := json.Unmarshal([]byte(messages), &a.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", a.AdventureID, err)
	}
	if a.Messages == nil {
		a.Messages = []adventure.Entry{}
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func ownerString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
