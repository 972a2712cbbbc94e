package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/backend/internal/storage/fs"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/stretchr/testify/require"
)

// --- attachment storage ---

type MockAttachmentStorage struct {
	mu     sync.Mutex
	rows   map[domain.AttachId]*domain.Attachment
	nextId domain.AttachId

	approvals  []domain.AttachId
	downloads  map[domain.AttachId]int
	bound      map[domain.MsgId][]domain.AttachId
	posters    map[domain.MsgId]domain.UserId
	topics     map[domain.MsgId]domain.TopicId
	boards     map[domain.MsgId]domain.BoardId
	insertFunc func(a *domain.Attachment) error
	sizeFunc   func(msg domain.MsgId) (int, int64, error)
}

func NewMockAttachmentStorage() *MockAttachmentStorage {
	return &MockAttachmentStorage{
		rows:      make(map[domain.AttachId]*domain.Attachment),
		downloads: make(map[domain.AttachId]int),
		bound:     make(map[domain.MsgId][]domain.AttachId),
		posters:   make(map[domain.MsgId]domain.UserId),
		topics:    make(map[domain.MsgId]domain.TopicId),
		boards:    make(map[domain.MsgId]domain.BoardId),
	}
}

// addMessage places a message on a topic and board for lookups.
func (m *MockAttachmentStorage) addMessage(msg domain.MsgId, topic domain.TopicId, board domain.BoardId, poster domain.UserId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[msg], m.boards[msg], m.posters[msg] = topic, board, poster
}

func (m *MockAttachmentStorage) GetMessage(ctx context.Context, id domain.MsgId) (*domain.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	topic, ok := m.topics[id]
	if !ok {
		return nil, internal_errors.ErrMessageNotFound
	}
	return &domain.MessageRef{Id: id, Topic: topic, Board: m.boards[id], Poster: m.posters[id]}, nil
}

func (m *MockAttachmentStorage) InsertAttachment(ctx context.Context, a *domain.Attachment) (domain.AttachId, error) {
	if m.insertFunc != nil {
		if err := m.insertFunc(a); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	row := *a
	row.Id = m.nextId
	row.Thumb = nil
	m.rows[row.Id] = &row
	if !row.Approved && row.Type == domain.AttachmentNormal {
		m.approvals = append(m.approvals, row.Id)
	}
	return row.Id, nil
}

func (m *MockAttachmentStorage) SetThumbnail(ctx context.Context, id, thumb domain.AttachId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.ThumbId = thumb
	}
	return nil
}

func (m *MockAttachmentStorage) UpdateAttachmentFile(ctx context.Context, id domain.AttachId, size int64, width, height int, mime string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return internal_errors.ErrAttachmentNotFound
	}
	r.Size, r.Width, r.Height, r.MimeType = size, width, height, mime
	return nil
}

func (m *MockAttachmentStorage) DeleteAttachments(ctx context.Context, ids []domain.AttachId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.rows, id)
	}
	return nil
}

func (m *MockAttachmentStorage) BindMessageAttachments(ctx context.Context, msg domain.MsgId, ids []domain.AttachId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound[msg] = append(m.bound[msg], ids...)
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			r.MessageId = msg
		}
	}
	return nil
}

// joined copies a row with its thumbnail and message data, as the SQL joins do.
func (m *MockAttachmentStorage) joined(id domain.AttachId) (*domain.Attachment, bool) {
	r, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	out := *r
	out.PosterId = m.posters[r.MessageId]
	out.TopicId = m.topics[r.MessageId]
	out.BoardId = m.boards[r.MessageId]
	if t, ok := m.rows[r.ThumbId]; ok && r.ThumbId != 0 {
		thumb := *t
		out.Thumb = &thumb
	}
	return &out, true
}

func (m *MockAttachmentStorage) GetAttachment(ctx context.Context, id domain.AttachId) (*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.joined(id)
	if !ok {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return a, nil
}

func (m *MockAttachmentStorage) GetAttachmentFromTopic(ctx context.Context, id domain.AttachId, topic domain.TopicId) (*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.joined(id)
	if !ok || a.MessageId == 0 || a.TopicId != topic {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return a, nil
}

func (m *MockAttachmentStorage) GetMessageAttachments(ctx context.Context, msgs []domain.MsgId) ([]*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[domain.MsgId]bool)
	for _, id := range msgs {
		want[id] = true
	}
	var out []*domain.Attachment
	for id, r := range m.rows {
		if want[r.MessageId] && r.Type == domain.AttachmentNormal {
			a, _ := m.joined(id)
			out = append(out, a)
		}
	}
	// storage order is not guaranteed
	sort.Slice(out, func(i, j int) bool { return out[i].Id > out[j].Id })
	return out, nil
}

func (m *MockAttachmentStorage) AttachmentsSizeForMessage(ctx context.Context, msg domain.MsgId) (int, int64, error) {
	if m.sizeFunc != nil {
		return m.sizeFunc(msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	count, size := 0, int64(0)
	for _, r := range m.rows {
		if r.MessageId == msg && r.Type == domain.AttachmentNormal {
			count++
			size += r.Size
		}
	}
	return count, size, nil
}

func (m *MockAttachmentStorage) IncreaseDownloadCounter(ctx context.Context, id domain.AttachId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[id]++
	return nil
}

func (m *MockAttachmentStorage) GetAvatar(ctx context.Context, id domain.AttachId) (*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.MemberId == 0 {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	out := *r
	return &out, nil
}

func (m *MockAttachmentStorage) GetMemberAvatars(ctx context.Context, member domain.UserId) ([]*domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Attachment
	for _, r := range m.rows {
		if r.MemberId == member {
			a := *r
			out = append(out, &a)
		}
	}
	return out, nil
}

func (m *MockAttachmentStorage) count(typ domain.AttachmentType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.Type == typ {
			n++
		}
	}
	return n
}

// --- temp store ---

type MockTempStore struct {
	mu    sync.Mutex
	posts map[domain.UserId]domain.PostContext
	files map[domain.UserId]map[string]*domain.TempAttachment
}

func NewMockTempStore() *MockTempStore {
	return &MockTempStore{
		posts: make(map[domain.UserId]domain.PostContext),
		files: make(map[domain.UserId]map[string]*domain.TempAttachment),
	}
}

func (m *MockTempStore) PostContext(ctx context.Context, user domain.UserId) (*domain.PostContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[user]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MockTempStore) SetPostContext(ctx context.Context, user domain.UserId, post domain.PostContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[user] = post
	return nil
}

func (m *MockTempStore) Get(ctx context.Context, user domain.UserId, id string) (*domain.TempAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[user][id], nil
}

func (m *MockTempStore) Put(ctx context.Context, user domain.UserId, att *domain.TempAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[user] == nil {
		m.files[user] = make(map[string]*domain.TempAttachment)
	}
	m.files[user][att.AttachId] = att
	return nil
}

func (m *MockTempStore) Delete(ctx context.Context, user domain.UserId, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files[user], id)
	return nil
}

func (m *MockTempStore) All(ctx context.Context, user domain.UserId) ([]*domain.TempAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TempAttachment
	for _, t := range m.files[user] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockTempStore) Flush(ctx context.Context, user domain.UserId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, user)
	delete(m.posts, user)
	return nil
}

// --- cache ---

type MockCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	getCall int
}

func NewMockCache() *MockCache {
	return &MockCache{values: make(map[string][]byte)}
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCall++
	b, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *MockCache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = b
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// --- board access ---

type MockBoardAccess struct {
	hidden map[domain.BoardId]bool
}

func (m *MockBoardAccess) CanSee(user *domain.User, board domain.BoardId) bool {
	return !m.hidden[board]
}

func (m *MockBoardAccess) AccessibleBoards(user *domain.User, boards []domain.BoardId) []domain.BoardId {
	var out []domain.BoardId
	for _, b := range boards {
		if !m.hidden[b] {
			out = append(out, b)
		}
	}
	return out
}

// --- hooks ---

type triggered struct {
	position string
	args     events.Args
}

type MockHooks struct {
	mu    sync.Mutex
	calls []triggered
}

func (m *MockHooks) Trigger(ctx context.Context, position string, args events.Args) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, triggered{position, args})
}

func (m *MockHooks) positions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		out = append(out, c.position)
	}
	return out
}

// --- fixture ---

type fixture struct {
	svc     *Attachments
	storage *MockAttachmentStorage
	temp    *MockTempStore
	cache   *MockCache
	access  *MockBoardAccess
	hooks   *MockHooks
	dirs    *fs.Storage
	dir     string
}

func defaultAttachmentsConfig(dir string) config.Attachments {
	return config.Attachments{
		Enable:           true,
		SizeLimitKB:      128,
		PostLimitKB:      192,
		NumPerPostLimit:  4,
		Extensions:       "jpg,jpeg,png,gif,txt",
		CheckExtensions:  true,
		Thumbnails:       true,
		ThumbWidth:       50,
		ThumbHeight:      50,
		ShowImages:       true,
		Directories:      []config.Directory{{Id: 1, Path: dir}},
		CurrentDirectory: 1,
		TempTTL:          time.Hour,
	}
}

func newFixture(t *testing.T, tweak func(cfg *config.Config)) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "attachments")
	require.NoError(t, os.MkdirAll(dir, 0755))

	cfg := &config.Config{}
	cfg.Public.Attachments = defaultAttachmentsConfig(dir)
	cfg.Public.Avatars = config.Avatars{CacheTTL: 15 * time.Minute}
	if tweak != nil {
		tweak(cfg)
	}

	dirs, err := fs.New(cfg.Public.Attachments)
	require.NoError(t, err)

	f := &fixture{
		storage: NewMockAttachmentStorage(),
		temp:    NewMockTempStore(),
		cache:   NewMockCache(),
		access:  &MockBoardAccess{hidden: map[domain.BoardId]bool{}},
		hooks:   &MockHooks{},
		dirs:    dirs,
		dir:     dir,
	}
	f.svc = NewAttachments(cfg, f.storage, f.temp, f.dirs, f.cache, f.access, f.hooks)
	return f
}
