package pg

import (
	"context"
	"database/sql"

	"github.com/elkarte/forum/shared/domain"
)

// buddy mentions have no message, so the message joins are optional
const mentionQuery = `
	SELECT
		lm.id, lm.id_member, lm.id_member_from, COALESCE(mf.name, ''), lm.id_target,
		COALESCE(m.board_id, 0), COALESCE(m.subject, ''), COALESCE(m.body, ''),
		lm.mention_type, lm.log_time, lm.status, lm.is_accessible
	FROM log_mentions AS lm
	LEFT JOIN members AS mf
		ON mf.id = lm.id_member_from
	LEFT JOIN messages AS m
		ON m.id = lm.id_target AND lm.mention_type <> 'buddy'`

func scanMentions(rows *sql.Rows) ([]*domain.Mention, error) {
	defer rows.Close()
	var out []*domain.Mention
	for rows.Next() {
		var m domain.Mention
		if err := rows.Scan(
			&m.Id, &m.MemberId, &m.FromMemberId, &m.FromName, &m.TargetId,
			&m.BoardId, &m.Subject, &m.Body,
			&m.Type, &m.LogTime, &m.Status, &m.Accessible,
		); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// GetMentions returns the accessible mentions of a member, newest first.
// A limit of 0 returns all of them.
func (s *Storage) GetMentions(ctx context.Context, member domain.UserId, limit int) ([]*domain.Mention, error) {
	query := mentionQuery + `
	WHERE lm.id_member = $1 AND lm.is_accessible
	ORDER BY lm.log_time DESC, lm.id DESC`
	args := []any{member}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanMentions(rows)
}

// GetMemberMentions returns every mention of a member, accessible or not.
func (s *Storage) GetMemberMentions(ctx context.Context, member domain.UserId) ([]*domain.Mention, error) {
	rows, err := s.db.QueryContext(ctx, mentionQuery+`
	WHERE lm.id_member = $1
	ORDER BY lm.id`, member)
	if err != nil {
		return nil, err
	}
	return scanMentions(rows)
}

func (s *Storage) SetMentionsAccessible(ctx context.Context, ids []int64, accessible bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
	UPDATE log_mentions SET is_accessible = $1
	WHERE id = ANY($2)`, accessible, int64Array(ids))
	return err
}

// AddMention records a mention of member.
func (s *Storage) AddMention(ctx context.Context, m *domain.Mention) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
	INSERT INTO log_mentions(id_member, id_member_from, id_target, mention_type)
	VALUES($1, $2, $3, $4)
	RETURNING id`, m.MemberId, m.FromMemberId, m.TargetId, m.Type).Scan(&id)
	return id, err
}
