package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablehub/tablehub/internal/domain/character"
)

const characterColumns = `character_id, name, ancestry, class, level, hit_points, max_hit_points, armor_class, is_npc, notes, updated_at`

// CharacterRepository implements character.Repository.
type CharacterRepository struct {
	pool *pgxpool.Pool
}

func NewCharacterRepository(pool *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{pool: pool}
}

func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*character.Character, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE character_id=$1`, id)
	return scanCharacter(row)
}

func (r *CharacterRepository) List(ctx context.Context, limit, offset int) ([]*character.Character, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*character.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCharacter(row pgx.Row) (*character.Character, error) {
	var c character.Character
	if err := row.Scan(&c.ID, &c.Name, &c.Ancestry, &c.Class, &c.Level, &c.HitPoints, &c.MaxHP, &c.Armor, &c.IsNPC, &c.Notes, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Put inserts or replaces a character sheet.
func (r *CharacterRepository) Put(ctx context.Context, c *character.Character) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO characters (`+characterColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (character_id) DO UPDATE SET
			name=EXCLUDED.name, ancestry=EXCLUDED.ancestry, class=EXCLUDED.class, level=EXCLUDED.level,
			hit_points=EXCLUDED.hit_points, max_hit_points=EXCLUDED.max_hit_points, armor_class=EXCLUDED.armor_class,
			is_npc=EXCLUDED.is_npc, notes=EXCLUDED.notes, updated_at=EXCLUDED.updated_at
	`, c.ID, c.Name, c.Ancestry, c.Class, c.Level, c.HitPoints, c.MaxHP, c.Armor, c.IsNPC, c.Notes, c.UpdatedAt)
	return err
}
