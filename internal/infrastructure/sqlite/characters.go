package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tablehub/tablehub/internal/domain/character"
)

// Characters adapts the store to character.Repository. Its method set
// would collide with the adventure repository's List.
type Characters struct {
	store *Store
}

var _ character.Repository = Characters{}

func (s *Store) Characters() Characters { return Characters{store: s} }

const characterColumns = `character_id, name, ancestry, class, level, hit_points, max_hit_points, armor_class, is_npc, notes, updated_at`

func (c Characters) GetByID(ctx context.Context, id string) (*character.Character, error) {
	row := c.store.sqlDB.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE character_id = ?`, id)
	ch, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ch, err
}

func (c Characters) List(ctx context.Context, limit, offset int) ([]*character.Character, error) {
	rows, err := c.store.sqlDB.QueryContext(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY name LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*character.Character
	for rows.Next() {
		ch, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Put inserts or replaces a character sheet.
func (c Characters) Put(ctx context.Context, ch *character.Character) error {
	if ch.UpdatedAt.IsZero() {
		ch.UpdatedAt = time.Now().UTC()
	}
	_, err := c.store.sqlDB.ExecContext(ctx, `INSERT INTO characters (`+characterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(character_id) DO UPDATE SET
			name = excluded.name, ancestry = excluded.ancestry, class = excluded.class,
			level = excluded.level, hit_points = excluded.hit_points, max_hit_points = excluded.max_hit_points,
			armor_class = excluded.armor_class, is_npc = excluded.is_npc, notes = excluded.notes,
			updated_at = excluded.updated_at`,
		ch.ID, ch.Name, ch.Ancestry, ch.Class, ch.Level, ch.HitPoints, ch.MaxHP, ch.Armor, ch.IsNPC, ch.Notes, toMillis(ch.UpdatedAt))
	return err
}

func scanCharacter(row rowScanner) (*character.Character, error) {
	var ch character.Character
	var updated int64
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Ancestry, &ch.Class, &ch.Level, &ch.HitPoints, &ch.MaxHP, &ch.Armor, &ch.IsNPC, &ch.Notes, &updated); err != nil {
		return nil, err
	}
	ch.UpdatedAt = fromMillis(updated)
	return &ch, nil
}
