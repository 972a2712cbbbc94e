package service

import (
	"context"
	"encoding/json"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

const userAccessMentionsKey = "user_access_mentions"

type SettingsStorage interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	UpdateSettings(ctx context.Context, values map[string]string) error
}

// Settings is the process wide view of the settings table.
type Settings struct {
	mu      sync.RWMutex
	values  map[string]string
	storage SettingsStorage
}

func NewSettings(storage SettingsStorage) *Settings {
	return &Settings{values: make(map[string]string), storage: storage}
}

// Update reloads every setting from storage.
func (s *Settings) Update(ctx context.Context) error {
	values, err := s.storage.GetSettings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *Settings) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// UpdateSettings writes values through to storage.
func (s *Settings) UpdateSettings(ctx context.Context, values map[string]string) error {
	if err := s.storage.UpdateSettings(ctx, values); err != nil {
		return err
	}
	s.mu.Lock()
	maps.Copy(s.values, values)
	s.mu.Unlock()
	return nil
}

// StartBackgroundUpdate reloads the settings every interval until ctx ends.
func (s *Settings) StartBackgroundUpdate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Update(ctx); err != nil {
					logger.Log.Error("failed to refresh settings", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// UserAccessMentions returns the members whose mentions need their board
// access checked again. The value is 0 while a check is pending.
func (s *Settings) UserAccessMentions() map[domain.UserId]int {
	raw, _ := s.Get(userAccessMentionsKey)
	return decodeUserAccess(raw)
}

func decodeUserAccess(raw string) map[domain.UserId]int {
	out := make(map[domain.UserId]int)
	if raw == "" {
		return out
	}
	var stored map[string]int
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.Log.Warn("invalid user_access_mentions setting", "error", err)
		return out
	}
	for k, v := range stored {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

func encodeUserAccess(m map[domain.UserId]int) (string, error) {
	stored := make(map[string]int, len(m))
	for id, v := range m {
		stored[strconv.FormatInt(id, 10)] = v
	}
	b, err := json.Marshal(stored)
	return string(b), err
}

// MarkUserAccessMentions flags a member for a board access re-check.
func (s *Settings) MarkUserAccessMentions(ctx context.Context, user domain.UserId) error {
	if err := s.Update(ctx); err != nil {
		logger.Log.Warn("using cached settings", "error", err)
	}
	m := s.UserAccessMentions()
	m[user] = 0
	raw, err := encodeUserAccess(m)
	if err != nil {
		return err
	}
	return s.UpdateSettings(ctx, map[string]string{userAccessMentionsKey: raw})
}

// ClearUserAccessMentions drops members whose re-check is done.
func (s *Settings) ClearUserAccessMentions(ctx context.Context, users []domain.UserId) error {
	if len(users) == 0 {
		return nil
	}
	if err := s.Update(ctx); err != nil {
		logger.Log.Warn("using cached settings", "error", err)
	}
	m := s.UserAccessMentions()
	for _, u := range users {
		delete(m, u)
	}
	raw, err := encodeUserAccess(m)
	if err != nil {
		return err
	}
	return s.UpdateSettings(ctx, map[string]string{userAccessMentionsKey: raw})
}
