package service

import (
	"context"
	"fmt"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

// TaskUserAccessMentions re-checks the board access of flagged members' mentions.
const TaskUserAccessMentions = "user_access_mentions"

type MentionStorage interface {
	// GetMentions returns the accessible mentions of a member, newest first.
	GetMentions(ctx context.Context, member domain.UserId, limit int) ([]*domain.Mention, error)
	GetMemberMentions(ctx context.Context, member domain.UserId) ([]*domain.Mention, error)
	SetMentionsAccessible(ctx context.Context, ids []int64, accessible bool) error
}

type MemberStorage interface {
	GetMember(ctx context.Context, id domain.UserId) (*domain.User, error)
}

type TaskScheduler interface {
	ScheduleImmediate(ctx context.Context, task string) error
}

// AccessMarker records members whose mentions need a board access re-check.
type AccessMarker interface {
	MarkUserAccessMentions(ctx context.Context, user domain.UserId) error
}

// MentionType renders the mentions of its type and may drop the ones the
// viewer must not see. removed reports whether anything was dropped.
type MentionType interface {
	Type() string
	View(ctx context.Context, user *domain.User, mentions []*domain.Mention) (kept []*domain.Mention, removed bool, err error)
}

// BoardAccessMention handles mentions tied to a message on a board.
type BoardAccessMention struct {
	typ       string
	renderer  *MentionRenderer
	access    BoardAccess
	marker    AccessMarker
	scheduler TaskScheduler
}

func NewBoardAccessMention(typ string, renderer *MentionRenderer, access BoardAccess, marker AccessMarker, scheduler TaskScheduler) *BoardAccessMention {
	return &BoardAccessMention{typ: typ, renderer: renderer, access: access, marker: marker, scheduler: scheduler}
}

func (b *BoardAccessMention) Type() string { return b.typ }

func (b *BoardAccessMention) View(ctx context.Context, user *domain.User, mentions []*domain.Mention) ([]*domain.Mention, bool, error) {
	var boards []domain.BoardId
	for _, m := range mentions {
		if m.Type != b.typ {
			continue
		}
		boards = append(boards, m.BoardId)
		b.renderer.Render(m)
	}
	if len(boards) == 0 {
		return mentions, false, nil
	}

	visible := make(map[domain.BoardId]bool)
	for _, id := range b.access.AccessibleBoards(user, boards) {
		visible[id] = true
	}

	kept := mentions[:0:0]
	removed := false
	for _, m := range mentions {
		if m.Type == b.typ && !visible[m.BoardId] {
			removed = true
			continue
		}
		kept = append(kept, m)
	}

	if removed {
		if err := b.marker.MarkUserAccessMentions(ctx, user.Id); err != nil {
			return kept, true, fmt.Errorf("failed to flag mentions for re-check: %w", err)
		}
		if err := b.scheduler.ScheduleImmediate(ctx, TaskUserAccessMentions); err != nil {
			return kept, true, fmt.Errorf("failed to schedule mention re-check: %w", err)
		}
	}
	return kept, removed, nil
}

// BuddyMention only renders, buddies are not bound to a board.
type BuddyMention struct {
	renderer *MentionRenderer
}

func NewBuddyMention(renderer *MentionRenderer) *BuddyMention {
	return &BuddyMention{renderer: renderer}
}

func (b *BuddyMention) Type() string { return domain.MentionBuddy }

func (b *BuddyMention) View(_ context.Context, _ *domain.User, mentions []*domain.Mention) ([]*domain.Mention, bool, error) {
	for _, m := range mentions {
		if m.Type == domain.MentionBuddy {
			b.renderer.Render(m)
		}
	}
	return mentions, false, nil
}

type Mentions struct {
	storage  MentionStorage
	members  MemberStorage
	access   BoardAccess
	settings *Settings
	hooks    Hooks
	types    []MentionType
}

func NewMentions(storage MentionStorage, members MemberStorage, access BoardAccess, settings *Settings, hooks Hooks, types ...MentionType) *Mentions {
	return &Mentions{storage: storage, members: members, access: access, settings: settings, hooks: hooks, types: types}
}

// DefaultMentionTypes builds the mention types the forum ships with.
func DefaultMentionTypes(renderer *MentionRenderer, access BoardAccess, marker AccessMarker, scheduler TaskScheduler) []MentionType {
	types := []MentionType{}
	for _, t := range []string{domain.MentionMember, domain.MentionLike, domain.MentionRemoveLike, domain.MentionQuoted} {
		types = append(types, NewBoardAccessMention(t, renderer, access, marker, scheduler))
	}
	return append(types, NewBuddyMention(renderer))
}

// List returns the viewer's mentions, rendered, without the ones on boards
// they can no longer see.
func (s *Mentions) List(ctx context.Context, user *domain.User, limit int) ([]*domain.Mention, error) {
	mentions, err := s.storage.GetMentions(ctx, user.Id, limit)
	if err != nil {
		return nil, err
	}

	for _, t := range s.types {
		kept, _, err := t.View(ctx, user, mentions)
		if err != nil {
			logger.Log.Error("mention view failed", "type", t.Type(), "user_id", user.Id, "error", err)
		}
		mentions = kept
	}

	s.hooks.Trigger(ctx, events.MentionsView, events.Args{"user": user, "mentions": &mentions})
	return mentions, nil
}

// RecheckUserAccess recomputes is_accessible for every mention of every
// flagged member, then clears the flags.
func (s *Mentions) RecheckUserAccess(ctx context.Context) error {
	if err := s.settings.Update(ctx); err != nil {
		return err
	}

	var done []domain.UserId
	for uid, state := range s.settings.UserAccessMentions() {
		if state != 0 {
			continue
		}
		if err := s.recheckMember(ctx, uid); err != nil {
			logger.Log.Error("mention access re-check failed", "user_id", uid, "error", err)
			continue
		}
		done = append(done, uid)
	}
	return s.settings.ClearUserAccessMentions(ctx, done)
}

func (s *Mentions) recheckMember(ctx context.Context, uid domain.UserId) error {
	member, err := s.members.GetMember(ctx, uid)
	if err != nil {
		return err
	}
	mentions, err := s.storage.GetMemberMentions(ctx, uid)
	if err != nil {
		return err
	}

	boards := make([]domain.BoardId, 0, len(mentions))
	for _, m := range mentions {
		boards = append(boards, m.BoardId)
	}
	visible := make(map[domain.BoardId]bool)
	for _, id := range s.access.AccessibleBoards(member, boards) {
		visible[id] = true
	}

	var accessible, hidden []int64
	for _, m := range mentions {
		if m.BoardId == 0 || visible[m.BoardId] {
			accessible = append(accessible, m.Id)
		} else {
			hidden = append(hidden, m.Id)
		}
	}
	if len(accessible) > 0 {
		if err := s.storage.SetMentionsAccessible(ctx, accessible, true); err != nil {
			return err
		}
	}
	if len(hidden) > 0 {
		if err := s.storage.SetMentionsAccessible(ctx, hidden, false); err != nil {
			return err
		}
	}
	return nil
}
