package pg

import (
	"context"
	"database/sql"
	"errors"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/shared/domain"

	"github.com/lib/pq"
)

// GetBoardGroups returns the groups allowed on every restricted board.
// Public boards are left out.
func (s *Storage) GetBoardGroups(ctx context.Context) (map[domain.BoardId][]domain.GroupId, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, member_groups FROM boards WHERE member_groups IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.BoardId][]domain.GroupId)
	for rows.Next() {
		var id domain.BoardId
		var groups pq.Int64Array
		if err := rows.Scan(&id, &groups); err != nil {
			return nil, err
		}
		out[id] = []domain.GroupId(groups)
	}
	return out, rows.Err()
}

func (s *Storage) GetMember(ctx context.Context, id domain.UserId) (*domain.User, error) {
	u := domain.User{Id: id}
	var groups pq.Int64Array
	err := s.db.QueryRowContext(ctx, `SELECT is_admin, member_groups FROM members WHERE id = $1`, id).Scan(&u.Admin, &groups)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.ErrMemberNotFound
		}
		return nil, err
	}
	u.Groups = []domain.GroupId(groups)
	return &u, nil
}

func (s *Storage) GetMessage(ctx context.Context, id domain.MsgId) (*domain.MessageRef, error) {
	m := domain.MessageRef{Id: id}
	err := s.db.QueryRowContext(ctx, `SELECT topic_id, board_id, member_id FROM messages WHERE id = $1`, id).
		Scan(&m.Topic, &m.Board, &m.Poster)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetMessagePosters maps each message to its author.
func (s *Storage) GetMessagePosters(ctx context.Context, msgs []domain.MsgId) (map[domain.MsgId]domain.UserId, error) {
	out := make(map[domain.MsgId]domain.UserId)
	if len(msgs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, member_id FROM messages WHERE id = ANY($1)`, int64Array(msgs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var msg domain.MsgId
		var poster domain.UserId
		if err := rows.Scan(&msg, &poster); err != nil {
			return nil, err
		}
		out[msg] = poster
	}
	return out, rows.Err()
}

// GetTopicMessages returns the ids of the messages in a topic, oldest first.
func (s *Storage) GetTopicMessages(ctx context.Context, topic domain.TopicId) ([]domain.MsgId, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM messages WHERE topic_id = $1 ORDER BY id`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MsgId
	for rows.Next() {
		var id domain.MsgId
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
