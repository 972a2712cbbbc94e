// Package board_access caches which member groups may see each board.
package board_access

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

type Storage interface {
	GetBoardGroups(ctx context.Context) (map[domain.BoardId][]domain.GroupId, error)
}

type BoardAccess struct {
	data map[domain.BoardId][]domain.GroupId
	mu   sync.RWMutex
}

func New() *BoardAccess {
	return &BoardAccess{
		data: make(map[domain.BoardId][]domain.GroupId),
	}
}

func (b *BoardAccess) Update(ctx context.Context, s Storage) error {
	groups, err := s.GetBoardGroups(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Replace the entire map to avoid stale entries.
	// Boards without entries are public.
	b.data = groups

	return nil
}

// AllowedGroups returns the groups allowed on a board, nil when it is public.
func (b *BoardAccess) AllowedGroups(board domain.BoardId) []domain.GroupId {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[board]
}

func (b *BoardAccess) CanSee(user *domain.User, board domain.BoardId) bool {
	if user != nil && user.Admin {
		return true
	}
	allowed := b.AllowedGroups(board)
	if allowed == nil {
		return true
	}
	if user == nil {
		return false
	}
	for _, g := range user.Groups {
		if slices.Contains(allowed, g) {
			return true
		}
	}
	return false
}

// AccessibleBoards returns the subset of boards the user can see, in input order.
func (b *BoardAccess) AccessibleBoards(user *domain.User, boards []domain.BoardId) []domain.BoardId {
	res := make([]domain.BoardId, 0, len(boards))
	for _, board := range boards {
		if b.CanSee(user, board) {
			res = append(res, board)
		}
	}
	return res
}

func (b *BoardAccess) StartBackgroundUpdate(ctx context.Context, interval time.Duration, s Storage) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started board access background update", "interval", interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.Update(ctx, s); err != nil {
					logger.Log.Error("updating board access rules", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
