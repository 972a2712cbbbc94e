package service

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/elkarte/forum/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSettingsStorage struct {
	mu          sync.Mutex
	values      map[string]string
	getErr      error
	getCalls    int
	updateCalls int
}

func NewMockSettingsStorage(values map[string]string) *MockSettingsStorage {
	if values == nil {
		values = make(map[string]string)
	}
	return &MockSettingsStorage{values: values}
}

func (m *MockSettingsStorage) GetSettings(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return maps.Clone(m.values), nil
}

func (m *MockSettingsStorage) UpdateSettings(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	maps.Copy(m.values, values)
	return nil
}

func (m *MockSettingsStorage) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func TestSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("update loads storage", func(t *testing.T) {
		st := NewMockSettingsStorage(map[string]string{"a": "1"})
		s := NewSettings(st)
		_, ok := s.Get("a")
		assert.False(t, ok)

		require.NoError(t, s.Update(ctx))
		v, ok := s.Get("a")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	})

	t.Run("update settings writes through", func(t *testing.T) {
		st := NewMockSettingsStorage(nil)
		s := NewSettings(st)
		require.NoError(t, s.UpdateSettings(ctx, map[string]string{"b": "2"}))

		v, _ := s.Get("b")
		assert.Equal(t, "2", v)
		assert.Equal(t, "2", st.get("b"))
	})

	t.Run("update error keeps old values", func(t *testing.T) {
		st := NewMockSettingsStorage(map[string]string{"a": "1"})
		s := NewSettings(st)
		require.NoError(t, s.Update(ctx))

		st.getErr = errors.New("db down")
		assert.Error(t, s.Update(ctx))
		v, _ := s.Get("a")
		assert.Equal(t, "1", v)
	})

	t.Run("background refresh", func(t *testing.T) {
		st := NewMockSettingsStorage(map[string]string{"a": "1"})
		s := NewSettings(st)
		bgCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		s.StartBackgroundUpdate(bgCtx, 10*time.Millisecond)
		assert.Eventually(t, func() bool {
			v, _ := s.Get("a")
			return v == "1"
		}, time.Second, 5*time.Millisecond)
	})
}

func TestUserAccessMentions(t *testing.T) {
	ctx := context.Background()

	t.Run("mark and clear", func(t *testing.T) {
		st := NewMockSettingsStorage(nil)
		s := NewSettings(st)

		require.NoError(t, s.MarkUserAccessMentions(ctx, 3))
		require.NoError(t, s.MarkUserAccessMentions(ctx, 9))
		assert.Equal(t, map[domain.UserId]int{3: 0, 9: 0}, s.UserAccessMentions())
		assert.JSONEq(t, `{"3":0,"9":0}`, st.get(userAccessMentionsKey))

		require.NoError(t, s.ClearUserAccessMentions(ctx, []domain.UserId{3}))
		assert.Equal(t, map[domain.UserId]int{9: 0}, s.UserAccessMentions())
	})

	t.Run("marks from other processes are kept", func(t *testing.T) {
		st := NewMockSettingsStorage(map[string]string{userAccessMentionsKey: `{"5":0}`})
		s := NewSettings(st)

		require.NoError(t, s.MarkUserAccessMentions(ctx, 3))
		assert.Equal(t, map[domain.UserId]int{3: 0, 5: 0}, s.UserAccessMentions())
	})

	t.Run("nothing to clear", func(t *testing.T) {
		st := NewMockSettingsStorage(nil)
		s := NewSettings(st)
		require.NoError(t, s.ClearUserAccessMentions(ctx, nil))
		assert.Zero(t, st.updateCalls)
	})

	t.Run("garbage value reads as empty", func(t *testing.T) {
		st := NewMockSettingsStorage(map[string]string{userAccessMentionsKey: "a:1:{i:3;i:0;}"})
		s := NewSettings(st)
		require.NoError(t, s.Update(ctx))
		assert.Empty(t, s.UserAccessMentions())
	})
}
