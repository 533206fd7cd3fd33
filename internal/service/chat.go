package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/repository"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

type CreateChatRequest struct {
	Type        string   `json:"type" binding:"required"`
	Name        *string  `json:"name" binding:"omitempty,max=100"`
	Description *string  `json:"description" binding:"omitempty,max=1000"`
	AvatarURL   *string  `json:"avatar_url" binding:"omitempty,max=2048"`
	MemberIDs   []string `json:"member_ids"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type IChatService interface {
	ListChats(ctx context.Context, userID int64) ([]model.ChatSummary, error)
	CreateChat(ctx context.Context, creatorID int64, req *CreateChatRequest) (*model.CreateChatResult, error)
	GetChat(ctx context.Context, userID, chatID int64) (*model.ChatDetail, error)
	MarkRead(ctx context.Context, userID, chatID int64, req *MarkReadRequest) error
}

type ChatService struct {
	chats    repository.IChatRepository
	messages repository.IMessageRepository
	users    repository.IUserRepository
	guard    *AccessGuard
	ids      IDGenerator
	events   emitter
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewChatService(
	chats repository.IChatRepository,
	messages repository.IMessageRepository,
	users repository.IUserRepository,
	guard *AccessGuard,
	ids IDGenerator,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *ChatService {
	log = log.Named("chat")
	return &ChatService{
		chats:    chats,
		messages: messages,
		users:    users,
		guard:    guard,
		ids:      ids,
		events:   emitter{publisher: publisher, metrics: m, logger: log},
		metrics:  m,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListChats returns every chat the user belongs to, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID int64) ([]model.ChatSummary, error) {
	summaries, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return []model.ChatSummary{}, nil
	}

	chatIDs := make([]int64, 0, len(summaries))
	directIDs := make([]int64, 0)
	for _, c := range summaries {
		chatIDs = append(chatIDs, c.ID)
		if c.Type == model.ChatTypeDirect {
			directIDs = append(directIDs, c.ID)
		}
	}

	last, err := s.messages.LastVisible(ctx, chatIDs)
	if err != nil {
		return nil, err
	}
	peers, err := s.chats.DirectPeers(ctx, userID, directIDs)
	if err != nil {
		return nil, err
	}

	senderIDs := make([]int64, 0, len(last))
	for _, m := range last {
		senderIDs = append(senderIDs, m.SenderID)
	}
	senders, err := s.users.FindByIDs(ctx, uniqueIDs(senderIDs))
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		c := &summaries[i]
		if m, ok := last[c.ID]; ok {
			view := model.MessageView{Message: *m, Reactions: []model.ReactionView{}}
			if u, ok := senders[m.SenderID]; ok {
				p := u.Profile()
				view.Sender = &p
			}
			c.LastMessage = &view
		}
		if peer, ok := peers[c.ID]; ok {
			other := peer
			c.OtherUser = &other
			name := peer.DisplayName
			c.Name = &name
			c.AvatarURL = peer.AvatarURL
		}
	}
	return summaries, nil
}

// CreateChat creates a chat with its members and an opening system message.
// For a direct chat that already exists between the two users it returns
// the existing chat with Created false.
func (s *ChatService) CreateChat(ctx context.Context, creatorID int64, req *CreateChatRequest) (*model.CreateChatResult, error) {
	chatType := model.ChatType(req.Type)
	if !chatType.Valid() {
		return nil, invalid("Invalid chat type")
	}

	memberIDs, err := normalizeMembers(creatorID, req.MemberIDs)
	if err != nil {
		return nil, err
	}

	var name *string
	if req.Name != nil {
		if trimmed := strings.TrimSpace(*req.Name); trimmed != "" {
			name = &trimmed
		}
	}
	switch chatType {
	case model.ChatTypeDirect:
		if len(memberIDs) != 1 {
			return nil, invalid("Direct chat requires exactly one other member")
		}
	default:
		if name == nil {
			return nil, invalid("Group and channel chats require a name")
		}
	}

	users, err := s.users.FindByIDs(ctx, append([]int64{creatorID}, memberIDs...))
	if err != nil {
		return nil, err
	}
	creator, ok := users[creatorID]
	if !ok {
		return nil, ErrUnauthorized
	}
	for _, id := range memberIDs {
		if _, ok := users[id]; !ok {
			return nil, ErrUserNotFound
		}
	}

	if chatType == model.ChatTypeDirect {
		existing, err := s.chats.FindDirect(ctx, creatorID, memberIDs[0])
		if err == nil {
			s.metrics.ChatCreated(string(chatType), false)
			return existingChat(existing.ID), nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	chat, members, system, err := s.buildChat(chatType, creator, memberIDs, name, req)
	if err != nil {
		return nil, err
	}

	if err := s.chats.CreateWithMembers(ctx, chat, members, system); err != nil {
		// 并发创建同一对用户的私聊: 唯一 direct_key 冲突, 返回已存在的会话
		if chatType == model.ChatTypeDirect && errors.Is(err, repository.ErrDuplicate) {
			existing, findErr := s.chats.FindDirect(ctx, creatorID, memberIDs[0])
			if findErr != nil {
				return nil, findErr
			}
			s.metrics.ChatCreated(string(chatType), false)
			return existingChat(existing.ID), nil
		}
		return nil, err
	}

	s.metrics.ChatCreated(string(chatType), true)
	s.logger.InfoContext(ctx, "chat created",
		zap.Int64("chat_id", chat.ID),
		zap.String("type", string(chatType)),
		zap.Int("members", len(members)))
	s.events.emit(ctx, model.ChatEvent{
		Type:       model.EventChatCreated,
		ChatID:     chat.ID,
		MessageID:  system.ID,
		ActorID:    creatorID,
		OccurredAt: chat.CreatedAt,
		Payload:    chat,
	})

	return &model.CreateChatResult{ID: chat.ID, Created: true, Message: "Chat created"}, nil
}

func existingChat(id int64) *model.CreateChatResult {
	return &model.CreateChatResult{ID: id, Created: false, Message: "Chat already exists"}
}

func (s *ChatService) buildChat(
	chatType model.ChatType,
	creator *model.User,
	memberIDs []int64,
	name *string,
	req *CreateChatRequest,
) (*model.Chat, []*model.ChatMember, *model.Message, error) {
	chatID, err := s.ids.NextID()
	if err != nil {
		return nil, nil, nil, err
	}
	now := s.now()

	chat := &model.Chat{
		ID:          chatID,
		Type:        chatType,
		Name:        name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		CreatedBy:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if chatType == model.ChatTypeDirect {
		key := model.DirectKey(creator.ID, memberIDs[0])
		chat.DirectKey = &key
	}

	members := make([]*model.ChatMember, 0, len(memberIDs)+1)
	for i, userID := range append([]int64{creator.ID}, memberIDs...) {
		id, err := s.ids.NextID()
		if err != nil {
			return nil, nil, nil, err
		}
		role := model.RoleMember
		if i == 0 {
			role = model.RoleAdmin
		}
		members = append(members, &model.ChatMember{
			ID:       id,
			ChatID:   chatID,
			UserID:   userID,
			Role:     role,
			JoinedAt: now,
		})
	}

	msgID, err := s.ids.NextID()
	if err != nil {
		return nil, nil, nil, err
	}
	text := "Chat started"
	if chatType != model.ChatTypeDirect {
		text = fmt.Sprintf("%s created the %s", creator.DisplayName, chatType)
	}
	system := &model.Message{
		ID:        msgID,
		ChatID:    chatID,
		SenderID:  creator.ID,
		Content:   &text,
		Type:      model.MessageTypeSystem,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return chat, members, system, nil
}

// normalizeMembers parses member ids, drops duplicates and the creator.
func normalizeMembers(creatorID int64, raw []string) ([]int64, error) {
	seen := make(map[int64]struct{}, len(raw))
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, ok := ParseID(s)
		if !ok {
			return nil, invalid("Invalid member id: %q", s)
		}
		if id == creatorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetChat returns the chat with its members and the caller's role.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID int64) (*model.ChatDetail, error) {
	member, err := s.guard.Authorize(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	members, err := s.chats.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	unread, err := s.chats.CountUnread(ctx, chatID, userID, member.LastReadMessageID)
	if err != nil {
		return nil, err
	}

	return &model.ChatDetail{
		Chat:        *chat,
		Members:     members,
		UserRole:    member.Role,
		UnreadCount: unread,
	}, nil
}

// MarkRead moves the caller's read cursor to the given message. The cursor
// is set as given, so it may move backwards.
func (s *ChatService) MarkRead(ctx context.Context, userID, chatID int64, req *MarkReadRequest) error {
	if _, err := s.guard.Authorize(ctx, userID, chatID); err != nil {
		return err
	}

	if strings.TrimSpace(req.MessageID) == "" {
		return invalid("message_id is required")
	}
	messageID, ok := ParseID(req.MessageID)
	if !ok {
		return invalid("Invalid message_id")
	}

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if msg == nil || msg.ChatID != chatID {
		return invalid("Message does not belong to this chat")
	}

	if err := s.chats.SetReadCursor(ctx, chatID, userID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
