package pg

import (
	"context"
	"database/sql"
	"errors"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/shared/domain"
)

// GetAvatar returns an attachment that belongs to a member rather than a message.
func (s *Storage) GetAvatar(ctx context.Context, id domain.AttachId) (*domain.Attachment, error) {
	a, err := scanAttachment(s.db.QueryRowContext(ctx, `
	SELECT`+attachmentColumns+`
	FROM attachments AS a
	WHERE a.id = $1 AND a.id_member <> 0`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.ErrAttachmentNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *Storage) GetMemberAvatars(ctx context.Context, member domain.UserId) ([]*domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT`+attachmentColumns+`
	FROM attachments AS a
	WHERE a.id_member = $1 AND a.id_msg = 0
	ORDER BY a.id`, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
