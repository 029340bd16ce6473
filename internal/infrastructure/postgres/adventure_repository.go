package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablehub/tablehub/internal/domain/adventure"
)

const adventureColumns = `id, adventure_id, owner_id, character_ref, scenario_ref, handle, messages, created_at, updated_at`

// AdventureRepository implements adventure.Repository. Messages are stored
// as a JSONB array.
type AdventureRepository struct {
	pool *pgxpool.Pool
}

func NewAdventureRepository(pool *pgxpool.Pool) *AdventureRepository {
	return &AdventureRepository{pool: pool}
}

func (r *AdventureRepository) Create(ctx context.Context, a *adventure.Adventure) error {
	messages, err := json.Marshal(a.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO adventures
		(adventure_id, owner_id, character_ref, scenario_ref, handle, messages, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, a.AdventureID, a.OwnerID, a.CharacterRef, a.ScenarioRef, a.Handle, messages, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
}

func (r *AdventureRepository) Get(ctx context.Context, adventureID uuid.UUID) (*adventure.Adventure, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+adventureColumns+` FROM adventures WHERE adventure_id=$1`, adventureID)
	return scanAdventure(row)
}

func (r *AdventureRepository) Update(ctx context.Context, a *adventure.Adventure) error {
	messages, err := json.Marshal(a.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE adventures SET handle=$1, messages=$2, updated_at=$3
		WHERE adventure_id=$4
	`, a.Handle, messages, a.UpdatedAt, a.AdventureID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return adventure.ErrNotFound
	}
	return nil
}

func (r *AdventureRepository) Delete(ctx context.Context, adventureID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM adventures WHERE adventure_id=$1`, adventureID)
	return err
}

func (r *AdventureRepository) List(ctx context.Context, filter adventure.Filter, limit, offset int) ([]*adventure.Adventure, error) {
	query := `SELECT ` + adventureColumns + ` FROM adventures`
	args := []any{}
	idx := 1
	if filter.OwnerID != nil {
		query += addWhere(query) + " owner_id=$" + itoa(idx)
		args = append(args, *filter.OwnerID)
		idx++
	}
	if filter.CharacterRef != nil {
		query += addWhere(query) + " character_ref=$" + itoa(idx)
		args = append(args, *filter.CharacterRef)
		idx++
	}
	query += " ORDER BY updated_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
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

func scanAdventure(row pgx.Row) (*adventure.Adventure, error) {
	var a adventure.Adventure
	var messages []byte
	if err := row.Scan(&a.ID, &a.AdventureID, &a.OwnerID, &a.CharacterRef, &a.ScenarioRef, &a.Handle, &messages, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(messages, &a.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", a.AdventureID, err)
	}
	if a.Messages == nil {
		a.Messages = []adventure.Entry{}
	}
	return &a, nil
}
