package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/pkg/redis"
	"github.com/Gopher0727/KaifLake/internal/repository"
	"github.com/Gopher0727/KaifLake/middleware/jwt"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

// memStore is an in-memory stand-in for the Postgres schema. Each fake
// repository below reads and writes it under one lock, mirroring the SQL
// the gorm repositories run.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*model.User
	sessions  map[string]*model.Session
	chats     map[int64]*model.Chat
	members   []*model.ChatMember
	messages  map[int64]*model.Message
	reactions []*model.MessageReaction
	contacts  []*model.Contact
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*model.User),
		sessions: make(map[string]*model.Session),
		chats:    make(map[int64]*model.Chat),
		messages: make(map[int64]*model.Message),
	}
}

type seqIDs struct {
	mu   sync.Mutex
	next int64
}

func (g *seqIDs) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return 1000 + g.next, nil
}

// ---- users ----

type fakeUsers struct{ s *memStore }

func (r fakeUsers) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r fakeUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r fakeUsers) FindByIDs(_ context.Context, ids []int64) (map[int64]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			c := *u
			out[id] = &c
		}
	}
	return out, nil
}

func (r fakeUsers) FindByLogin(_ context.Context, login string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == login || u.Email == login {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeUsers) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeUsers) UpdateProfile(_ context.Context, id int64, fields map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	for k, v := range fields {
		s := v.(string)
		switch k {
		case "display_name":
			u.DisplayName = s
		case "bio":
			u.Bio = &s
		case "avatar_url":
			u.AvatarURL = &s
		}
	}
	return nil
}

func (r fakeUsers) SetOnline(_ context.Context, id int64, online bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		u.IsOnline = online
		u.LastSeen = &at
	}
	return nil
}

func (r fakeUsers) Search(_ context.Context, query string, excludeID int64, limit int) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(query)
	var out []*model.User
	for _, u := range r.s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- sessions ----

type fakeSessions struct{ s *memStore }

func (r fakeSessions) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.Token]; ok {
		return repository.ErrDuplicate
	}
	c := *session
	r.s.sessions[session.Token] = &c
	return nil
}

func (r fakeSessions) FindActive(_ context.Context, id int64, token string, now time.Time) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[token]
	if !ok || sess.ID != id || !sess.ExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (r fakeSessions) DeleteByToken(_ context.Context, token string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.s.sessions, token)
	return sess, nil
}

// ---- contacts ----

type fakeContacts struct{ s *memStore }

func (r fakeContacts) Create(_ context.Context, contact *model.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.UserID == contact.UserID && c.ContactID == contact.ContactID {
			return repository.ErrDuplicate
		}
	}
	c := *contact
	r.s.contacts = append(r.s.contacts, &c)
	return nil
}

func (r fakeContacts) ListVisible(_ context.Context, userID int64) ([]model.ContactView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ContactView
	for _, c := range r.s.contacts {
		if c.UserID != userID || c.IsBlocked {
			continue
		}
		u := r.s.users[c.ContactID]
		out = append(out, model.ContactView{
			ID:        c.ID,
			ContactID: c.ContactID,
			Nickname:  c.Nickname,
			IsBlocked: c.IsBlocked,
			CreatedAt: c.CreatedAt,
			Contact:   u.Profile(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contact.DisplayName < out[j].Contact.DisplayName })
	return out, nil
}

// ---- chats ----

type fakeChats struct{ s *memStore }

func (r fakeChats) CreateWithMembers(_ context.Context, chat *model.Chat, members []*model.ChatMember, system *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if chat.DirectKey != nil {
		for _, c := range r.s.chats {
			if c.DirectKey != nil && *c.DirectKey == *chat.DirectKey {
				return repository.ErrDuplicate
			}
		}
	}
	c := *chat
	r.s.chats[chat.ID] = &c
	for _, m := range members {
		mc := *m
		r.s.members = append(r.s.members, &mc)
	}
	if system != nil {
		sc := *system
		r.s.messages[system.ID] = &sc
	}
	return nil
}

func (r fakeChats) FindByID(_ context.Context, id int64) (*model.Chat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r fakeChats) FindDirect(_ context.Context, a, b int64) (*model.Chat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := model.DirectKey(a, b)
	for _, c := range r.s.chats {
		if c.DirectKey != nil && *c.DirectKey == key {
			cc := *c
			return &cc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeChats) member(chatID, userID int64) *model.ChatMember {
	for _, m := range r.s.members {
		if m.ChatID == chatID && m.UserID == userID {
			return m
		}
	}
	return nil
}

func (r fakeChats) FindMember(_ context.Context, chatID, userID int64) (*model.ChatMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.member(chatID, userID)
	if m == nil {
		return nil, repository.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r fakeChats) ListMembers(_ context.Context, chatID int64) ([]model.MemberView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.MemberView
	for _, m := range r.s.members {
		if m.ChatID != chatID {
			continue
		}
		u := r.s.users[m.UserID]
		out = append(out, model.MemberView{
			UserID:            m.UserID,
			Role:              m.Role,
			JoinedAt:          m.JoinedAt,
			LastReadMessageID: m.LastReadMessageID,
			IsMuted:           m.IsMuted,
			Username:          u.Username,
			DisplayName:       u.DisplayName,
			AvatarURL:         u.AvatarURL,
			IsOnline:          u.IsOnline,
			LastSeen:          u.LastSeen,
		})
	}
	return out, nil
}

func (r fakeChats) unread(chatID, userID int64, cursor *int64) int64 {
	var after int64
	if cursor != nil {
		after = *cursor
	}
	var n int64
	for _, m := range r.s.messages {
		if m.ChatID == chatID && m.ID > after && m.SenderID != userID &&
			m.Type != model.MessageTypeSystem && !m.IsDeleted {
			n++
		}
	}
	return n
}

func (r fakeChats) ListForUser(_ context.Context, userID int64) ([]model.ChatSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ChatSummary
	for _, m := range r.s.members {
		if m.UserID != userID {
			continue
		}
		c := r.s.chats[m.ChatID]
		out = append(out, model.ChatSummary{
			Chat:              *c,
			LastReadMessageID: m.LastReadMessageID,
			IsMuted:           m.IsMuted,
			UnreadCount:       r.unread(c.ID, userID, m.LastReadMessageID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r fakeChats) DirectPeers(_ context.Context, userID int64, chatIDs []int64) (map[int64]model.UserProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]model.UserProfile)
	for _, id := range chatIDs {
		for _, m := range r.s.members {
			if m.ChatID == id && m.UserID != userID {
				out[id] = r.s.users[m.UserID].Profile()
				break
			}
		}
	}
	return out, nil
}

func (r fakeChats) CountUnread(_ context.Context, chatID, userID int64, cursor *int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.unread(chatID, userID, cursor), nil
}

func (r fakeChats) SetReadCursor(_ context.Context, chatID, userID, messageID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.member(chatID, userID)
	if m == nil {
		return repository.ErrNotFound
	}
	id := messageID
	m.LastReadMessageID = &id
	return nil
}

// ---- messages ----

type fakeMessages struct{ s *memStore }

func (r fakeMessages) Create(_ context.Context, msg *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *msg
	r.s.messages[msg.ID] = &c
	if chat, ok := r.s.chats[msg.ChatID]; ok {
		chat.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (r fakeMessages) FindByID(_ context.Context, id int64) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r fakeMessages) FindByIDs(_ context.Context, ids []int64) (map[int64]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok {
			c := *m
			out[id] = &c
		}
	}
	return out, nil
}

func newerFirst(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r fakeMessages) ListPage(_ context.Context, chatID int64, limit int, before *model.Message) ([]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Message
	for _, m := range r.s.messages {
		if m.ChatID != chatID || m.IsDeleted {
			continue
		}
		if before != nil && !newerFirst(before, m) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeMessages) LastVisible(_ context.Context, chatIDs []int64) (map[int64]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		wanted[id] = true
	}
	out := make(map[int64]*model.Message)
	for _, m := range r.s.messages {
		if !wanted[m.ChatID] || m.IsDeleted {
			continue
		}
		if cur, ok := out[m.ChatID]; !ok || newerFirst(m, cur) {
			c := *m
			out[m.ChatID] = &c
		}
	}
	return out, nil
}

func (r fakeMessages) Reactions(_ context.Context, messageIDs []int64) (map[int64][]model.ReactionView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	out := make(map[int64][]model.ReactionView)
	for _, re := range r.s.reactions {
		if !wanted[re.MessageID] {
			continue
		}
		u := r.s.users[re.UserID]
		out[re.MessageID] = append(out[re.MessageID], model.ReactionView{
			ID:          re.ID,
			MessageID:   re.MessageID,
			UserID:      re.UserID,
			Emoji:       re.Emoji,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			CreatedAt:   re.CreatedAt,
		})
	}
	return out, nil
}

func (r fakeMessages) UpdateContent(_ context.Context, id int64, content string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.IsDeleted {
		return repository.ErrNotFound
	}
	m.Content = &content
	m.IsEdited = true
	return nil
}

func (r fakeMessages) SoftDelete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.IsDeleted {
		return repository.ErrNotFound
	}
	m.IsDeleted = true
	return nil
}

func (r fakeMessages) ToggleReaction(_ context.Context, reaction *model.MessageReaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, re := range r.s.reactions {
		if re.MessageID == reaction.MessageID && re.UserID == reaction.UserID && re.Emoji == reaction.Emoji {
			r.s.reactions = append(r.s.reactions[:i], r.s.reactions[i+1:]...)
			return false, nil
		}
	}
	c := *reaction
	r.s.reactions = append(r.s.reactions, &c)
	return true, nil
}

// ---- events ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ChatEvent
	err    error
}

func (p *recordingPublisher) PublishChatEvent(_ context.Context, event model.ChatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// ---- wiring ----

type testEnv struct {
	store     *memStore
	redis     *miniredis.Miniredis
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	tokens    *jwt.TokenManager

	auth     *AuthService
	users    *UserService
	contacts *ContactService
	chats    *ChatService
	messages *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ids := &seqIDs{}
	log := logger.NewNop()
	pub := &recordingPublisher{}
	m := metrics.New()
	tokens := jwt.NewTokenManager("test-secret", 24*7)

	userRepo := fakeUsers{store}
	chatRepo := fakeChats{store}
	msgRepo := fakeMessages{store}
	guard := NewAccessGuard(chatRepo)

	return &testEnv{
		store:     store,
		redis:     mr,
		publisher: pub,
		metrics:   m,
		tokens:    tokens,
		auth:      NewAuthService(userRepo, fakeSessions{store}, tokens, redis.NewClient(rdb), ids, log),
		users:     NewUserService(userRepo),
		contacts:  NewContactService(fakeContacts{store}, userRepo, ids),
		chats:     NewChatService(chatRepo, msgRepo, userRepo, guard, ids, pub, m, log),
		messages:  NewMessageService(msgRepo, chatRepo, userRepo, guard, ids, pub, m, log),
	}
}

// register creates a user through the auth service and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (int64, string) {
	t.Helper()
	resp, err := e.auth.Register(context.Background(), &RegisterRequest{
		Username:    username,
		Email:       username + "@x.com",
		Password:    "secret1",
		DisplayName: strings.ToUpper(username[:1]) + username[1:],
	}, ClientInfo{DeviceInfo: "go-test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return resp.User.ID, resp.Token
}

// addUser inserts a user directly, skipping password hashing.
func (e *testEnv) addUser(username string) int64 {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	id := int64(len(e.store.users) + 1)
	e.store.users[id] = &model.User{
		ID:          id,
		Username:    username,
		Email:       username + "@x.com",
		DisplayName: username,
	}
	return id
}

func (e *testEnv) createDirect(t *testing.T, creator, other int64) int64 {
	t.Helper()
	res, err := e.chats.CreateChat(context.Background(), creator, &CreateChatRequest{
		Type:      "direct",
		MemberIDs: []string{formatID(other)},
	})
	require.NoError(t, err)
	return res.ID
}

func (e *testEnv) send(t *testing.T, sender, chatID int64, content string) *model.MessageView {
	t.Helper()
	view, err := e.messages.SendMessage(context.Background(), sender, &SendMessageRequest{
		ChatID:  formatID(chatID),
		Content: &content,
		Type:    "text",
	})
	require.NoError(t, err)
	return view
}

func (e *testEnv) unread(t *testing.T, userID, chatID int64) int64 {
	t.Helper()
	detail, err := e.chats.GetChat(context.Background(), userID, chatID)
	require.NoError(t, err)
	return detail.UnreadCount
}
