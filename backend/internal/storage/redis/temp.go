package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/elkarte/forum/shared/domain"
	goredis "github.com/redis/go-redis/v9"
)

// TempStore keeps each user's staged uploads in a hash, one field per
// attachment, next to the post they are staged for. Both keys expire
// after ttl without activity.
type TempStore struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewTempStore(rdb goredis.UniversalClient, ttl time.Duration) *TempStore {
	return &TempStore{rdb: rdb, ttl: ttl}
}

func tempFilesKey(user domain.UserId) string {
	return fmt.Sprintf("%stemp_attachments:%d", keyPrefix, user)
}

func tempPostKey(user domain.UserId) string {
	return fmt.Sprintf("%stemp_post:%d", keyPrefix, user)
}

// PostContext returns nil when nothing is staged for the user.
func (s *TempStore) PostContext(ctx context.Context, user domain.UserId) (*domain.PostContext, error) {
	raw, err := s.rdb.Get(ctx, tempPostKey(user)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var post domain.PostContext
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("corrupt temp post context: %w", err)
	}
	return &post, nil
}

func (s *TempStore) SetPostContext(ctx context.Context, user domain.UserId, post domain.PostContext) error {
	b, err := json.Marshal(post)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, tempPostKey(user), b, s.ttl).Err()
}

// Get returns nil, nil when the attachment is unknown.
func (s *TempStore) Get(ctx context.Context, user domain.UserId, attachID string) (*domain.TempAttachment, error) {
	raw, err := s.rdb.HGet(ctx, tempFilesKey(user), attachID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var att domain.TempAttachment
	if err := json.Unmarshal(raw, &att); err != nil {
		return nil, fmt.Errorf("corrupt temp attachment %s: %w", attachID, err)
	}
	return &att, nil
}

func (s *TempStore) Put(ctx context.Context, user domain.UserId, att *domain.TempAttachment) error {
	b, err := json.Marshal(att)
	if err != nil {
		return err
	}
	key := tempFilesKey(user)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, att.AttachId, b)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Expire(ctx, tempPostKey(user), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *TempStore) Delete(ctx context.Context, user domain.UserId, attachID string) error {
	return s.rdb.HDel(ctx, tempFilesKey(user), attachID).Err()
}

// All returns the user's staged files in upload order.
func (s *TempStore) All(ctx context.Context, user domain.UserId) ([]*domain.TempAttachment, error) {
	fields, err := s.rdb.HGetAll(ctx, tempFilesKey(user)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TempAttachment, 0, len(fields))
	for id, raw := range fields {
		var att domain.TempAttachment
		if err := json.Unmarshal([]byte(raw), &att); err != nil {
			return nil, fmt.Errorf("corrupt temp attachment %s: %w", id, err)
		}
		out = append(out, &att)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AttachId < out[j].AttachId
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Flush forgets everything staged by the user. Files are left to the caller.
func (s *TempStore) Flush(ctx context.Context, user domain.UserId) error {
	return s.rdb.Del(ctx, tempFilesKey(user), tempPostKey(user)).Err()
}
