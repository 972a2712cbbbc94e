package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/shared/domain"
	sharedpg "github.com/elkarte/forum/shared/storage/pg"
)

const attachmentColumns = `
	a.id, a.id_folder, a.id_msg, a.id_member, a.filename, a.file_hash, a.fileext,
	a.size, a.width, a.height, a.mime_type, a.approved, a.id_thumb, a.attachment_type, a.downloads`

// joinedAttachmentQuery selects a row with its thumbnail and the message it
// belongs to. Missing joins come back as zero values.
const joinedAttachmentQuery = `
	SELECT` + attachmentColumns + `,
		COALESCE(t.id, 0), COALESCE(t.id_folder, 0), COALESCE(t.filename, ''), COALESCE(t.file_hash, ''),
		COALESCE(t.fileext, ''), COALESCE(t.size, 0), COALESCE(t.width, 0), COALESCE(t.height, 0),
		COALESCE(t.mime_type, ''),
		COALESCE(m.member_id, 0), COALESCE(m.topic_id, 0), COALESCE(m.board_id, 0)
	FROM attachments AS a
	LEFT JOIN attachments AS t
		ON t.id = a.id_thumb AND a.id_thumb <> 0
	LEFT JOIN messages AS m
		ON m.id = a.id_msg AND a.id_msg <> 0`

type rowScanner interface {
	Scan(dest ...any) error
}

func attachmentFields(a *domain.Attachment) []any {
	return []any{
		&a.Id, &a.FolderId, &a.MessageId, &a.MemberId, &a.Filename, &a.FileHash, &a.FileExt,
		&a.Size, &a.Width, &a.Height, &a.MimeType, &a.Approved, &a.ThumbId, &a.Type, &a.Downloads,
	}
}

func scanAttachment(row rowScanner) (*domain.Attachment, error) {
	var a domain.Attachment
	if err := row.Scan(attachmentFields(&a)...); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanJoinedAttachment(row rowScanner) (*domain.Attachment, error) {
	var a domain.Attachment
	var t domain.Attachment
	fields := attachmentFields(&a)
	fields = append(fields,
		&t.Id, &t.FolderId, &t.Filename, &t.FileHash, &t.FileExt, &t.Size, &t.Width, &t.Height, &t.MimeType,
		&a.PosterId, &a.TopicId, &a.BoardId,
	)
	if err := row.Scan(fields...); err != nil {
		return nil, err
	}
	if t.Id != 0 {
		t.Type = domain.AttachmentThumbnail
		t.MessageId = a.MessageId
		t.Approved = a.Approved
		a.Thumb = &t
	}
	return &a, nil
}

// InsertAttachment stores a new row. An unapproved normal attachment is
// queued for approval in the same transaction.
func (s *Storage) InsertAttachment(ctx context.Context, a *domain.Attachment) (domain.AttachId, error) {
	var id domain.AttachId
	err := s.withTx(ctx, func(q sharedpg.Querier) error {
		err := q.QueryRowContext(ctx, `
		INSERT INTO attachments(id_folder, id_msg, id_member, attachment_type, filename, file_hash, fileext, size, width, height, mime_type, approved)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
			a.FolderId, a.MessageId, a.MemberId, a.Type, a.Filename, a.FileHash, a.FileExt, a.Size, a.Width, a.Height, a.MimeType, a.Approved,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
		if a.Approved || a.Type != domain.AttachmentNormal {
			return nil
		}
		if _, err := q.ExecContext(ctx, `
		INSERT INTO approval_queue(id_attach, id_msg) VALUES($1, $2)
		ON CONFLICT (id_attach) DO NOTHING`, id, a.MessageId); err != nil {
			return fmt.Errorf("failed to queue attachment for approval: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Storage) SetThumbnail(ctx context.Context, id, thumb domain.AttachId) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attachments SET id_thumb = $1 WHERE id = $2`, thumb, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Storage) UpdateAttachmentFile(ctx context.Context, id domain.AttachId, size int64, width, height int, mime string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE attachments SET size = $1, width = $2, height = $3, mime_type = $4
	WHERE id = $5`, size, width, height, mime, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteAttachments removes rows and their approval entries in one transaction.
func (s *Storage) DeleteAttachments(ctx context.Context, ids []domain.AttachId) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(q sharedpg.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM approval_queue WHERE id_attach = ANY($1)`, int64Array(ids)); err != nil {
			return fmt.Errorf("failed to delete approvals: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM attachments WHERE id = ANY($1)`, int64Array(ids)); err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		return nil
	})
}

// BindMessageAttachments moves attachments and their thumbnails to msg.
func (s *Storage) BindMessageAttachments(ctx context.Context, msg domain.MsgId, ids []domain.AttachId) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(q sharedpg.Querier) error {
		if _, err := q.ExecContext(ctx, `
		UPDATE attachments SET id_msg = $1
		WHERE id = ANY($2)
			OR id IN (SELECT id_thumb FROM attachments WHERE id = ANY($2) AND id_thumb <> 0)`,
			msg, int64Array(ids)); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `UPDATE approval_queue SET id_msg = $1 WHERE id_attach = ANY($2)`, msg, int64Array(ids))
		return err
	})
}

func (s *Storage) GetAttachment(ctx context.Context, id domain.AttachId) (*domain.Attachment, error) {
	a, err := scanJoinedAttachment(s.db.QueryRowContext(ctx, joinedAttachmentQuery+` WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.ErrAttachmentNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetAttachmentFromTopic returns a message attachment only when its message
// is in topic.
func (s *Storage) GetAttachmentFromTopic(ctx context.Context, id domain.AttachId, topic domain.TopicId) (*domain.Attachment, error) {
	a, err := scanJoinedAttachment(s.db.QueryRowContext(ctx, joinedAttachmentQuery+`
	WHERE a.id = $1 AND a.id_msg <> 0 AND m.topic_id = $2`, id, topic))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.ErrAttachmentNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetMessageAttachments returns the normal attachments of msgs with their thumbnails.
func (s *Storage) GetMessageAttachments(ctx context.Context, msgs []domain.MsgId) ([]*domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, joinedAttachmentQuery+`
	WHERE a.id_msg = ANY($1) AND a.attachment_type = 0
	ORDER BY a.id`, int64Array(msgs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Attachment
	for rows.Next() {
		a, err := scanJoinedAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Storage) AttachmentsSizeForMessage(ctx context.Context, msg domain.MsgId) (int, int64, error) {
	var count int
	var size int64
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(size), 0)
	FROM attachments
	WHERE id_msg = $1 AND attachment_type = 0`, msg).Scan(&count, &size)
	return count, size, err
}

func (s *Storage) IncreaseDownloadCounter(ctx context.Context, id domain.AttachId) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attachments SET downloads = downloads + 1 WHERE id = $1`, id)
	return err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internal_errors.ErrAttachmentNotFound
	}
	return nil
}
