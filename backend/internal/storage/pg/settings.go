package pg

import (
	"context"
	"fmt"

	sharedpg "github.com/elkarte/forum/shared/storage/pg"
)

func (s *Storage) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variable, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// UpdateSettings upserts every value in one transaction.
func (s *Storage) UpdateSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withTx(ctx, func(q sharedpg.Querier) error {
		for k, v := range values {
			if _, err := q.ExecContext(ctx, `
			INSERT INTO settings(variable, value) VALUES($1, $2)
			ON CONFLICT (variable) DO UPDATE SET value = EXCLUDED.value`, k, v); err != nil {
				return fmt.Errorf("failed to update setting %s: %w", k, err)
			}
		}
		return nil
	})
}
