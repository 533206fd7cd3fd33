package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/repository"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxEmojiLength  = 32
)

type ListMessagesQuery struct {
	ChatID string `form:"chat_id"`
	Limit  int    `form:"limit"`
	Before string `form:"before"`
}

type SendMessageRequest struct {
	ChatID        string         `json:"chat_id"`
	Content       *string        `json:"content"`
	Type          string         `json:"type"`
	MediaURL      *string        `json:"media_url" binding:"omitempty,max=2048"`
	MediaMetadata datatypes.JSON `json:"media_metadata"`
	ReplyToID     *string        `json:"reply_to_id"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type IMessageService interface {
	ListMessages(ctx context.Context, userID int64, query *ListMessagesQuery) ([]model.MessageView, error)
	SendMessage(ctx context.Context, userID int64, req *SendMessageRequest) (*model.MessageView, error)
	EditMessage(ctx context.Context, userID, messageID int64, req *EditMessageRequest) (*model.MessageView, error)
	DeleteMessage(ctx context.Context, userID, messageID int64) error
	ToggleReaction(ctx context.Context, userID, messageID int64, req *ReactionRequest) (*model.ReactionResult, error)
}

type MessageService struct {
	messages repository.IMessageRepository
	chats    repository.IChatRepository
	users    repository.IUserRepository
	guard    *AccessGuard
	ids      IDGenerator
	events   emitter
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewMessageService(
	messages repository.IMessageRepository,
	chats repository.IChatRepository,
	users repository.IUserRepository,
	guard *AccessGuard,
	ids IDGenerator,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		messages: messages,
		chats:    chats,
		users:    users,
		guard:    guard,
		ids:      ids,
		events:   emitter{publisher: publisher, metrics: m, logger: log.Named("message")},
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListMessages returns one page of visible messages in chronological order.
// With Before set, only messages strictly older than that message are
// returned; a Before outside the chat yields an empty page.
func (s *MessageService) ListMessages(ctx context.Context, userID int64, query *ListMessagesQuery) ([]model.MessageView, error) {
	if strings.TrimSpace(query.ChatID) == "" {
		return nil, invalid("chat_id is required")
	}
	chatID, ok := ParseID(query.ChatID)
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := s.guard.Authorize(ctx, userID, chatID); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var before *model.Message
	if query.Before != "" {
		beforeID, ok := ParseID(query.Before)
		if !ok {
			return []model.MessageView{}, nil
		}
		msg, err := s.messages.FindByID(ctx, beforeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return []model.MessageView{}, nil
			}
			return nil, err
		}
		if msg.ChatID != chatID {
			return []model.MessageView{}, nil
		}
		before = msg
	}

	page, err := s.messages.ListPage(ctx, chatID, limit, before)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return s.enrich(ctx, page)
}

// SendMessage validates and stores a client message and bumps the chat's activity time.
func (s *MessageService) SendMessage(ctx context.Context, userID int64, req *SendMessageRequest) (*model.MessageView, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, invalid("chat_id is required")
	}
	chatID, ok := ParseID(req.ChatID)
	if !ok {
		return nil, ErrNotFound
	}

	msgType := model.MessageType(req.Type)
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !msgType.Valid() || msgType == model.MessageTypeSystem {
		return nil, invalid("Invalid message type")
	}
	if msgType == model.MessageTypeText && (req.Content == nil || strings.TrimSpace(*req.Content) == "") {
		return nil, invalid("Content is required for text messages")
	}

	if _, err := s.guard.Authorize(ctx, userID, chatID); err != nil {
		return nil, err
	}

	var replyToID *int64
	if req.ReplyToID != nil && *req.ReplyToID != "" {
		id, ok := ParseID(*req.ReplyToID)
		if !ok {
			return nil, invalid("Invalid reply_to_id")
		}
		original, err := s.messages.FindByID(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if original == nil || original.ChatID != chatID || original.IsDeleted {
			return nil, invalid("Reply target not found in this chat")
		}
		replyToID = &id
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	msg := &model.Message{
		ID:            id,
		ChatID:        chatID,
		SenderID:      userID,
		Content:       req.Content,
		Type:          msgType,
		MediaURL:      req.MediaURL,
		MediaMetadata: normalizeMetadata(req.MediaMetadata),
		ReplyToID:     replyToID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.metrics.MessageSent(string(msgType))
	s.events.emit(ctx, model.ChatEvent{
		Type:       model.EventMessageCreated,
		ChatID:     chatID,
		MessageID:  msg.ID,
		ActorID:    userID,
		OccurredAt: now,
		Payload:    msg,
	})
	return s.enrichOne(ctx, msg)
}

// EditMessage replaces the content of the caller's own message.
func (s *MessageService) EditMessage(ctx context.Context, userID, messageID int64, req *EditMessageRequest) (*model.MessageView, error) {
	content := req.Content
	if strings.TrimSpace(content) == "" {
		return nil, invalid("Content is required")
	}

	msg, err := s.findVisible(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrMessageNotFound
	}

	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	msg.Content = &content
	msg.IsEdited = true
	msg.UpdatedAt = s.now()

	s.events.emit(ctx, model.ChatEvent{
		Type:       model.EventMessageEdited,
		ChatID:     msg.ChatID,
		MessageID:  msg.ID,
		ActorID:    userID,
		OccurredAt: msg.UpdatedAt,
		Payload:    msg,
	})
	return s.enrichOne(ctx, msg)
}

// DeleteMessage soft-deletes a message. The sender and chat admins may delete.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID int64) error {
	msg, err := s.findVisible(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		member, err := s.chats.FindMember(ctx, msg.ChatID, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if member.Role != model.RoleAdmin {
			return ErrMessageNotFound
		}
	}

	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	s.events.emit(ctx, model.ChatEvent{
		Type:       model.EventMessageDeleted,
		ChatID:     msg.ChatID,
		MessageID:  msg.ID,
		ActorID:    userID,
		OccurredAt: s.now(),
	})
	return nil
}

// ToggleReaction adds the caller's emoji to a message, or removes it when present.
func (s *MessageService) ToggleReaction(ctx context.Context, userID, messageID int64, req *ReactionRequest) (*model.ReactionResult, error) {
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return nil, invalid("Emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, invalid("Emoji must be at most %d characters", maxEmojiLength)
	}

	msg, err := s.findVisible(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.Authorize(ctx, userID, msg.ChatID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	added, err := s.messages.ToggleReaction(ctx, &model.MessageReaction{
		ID:        id,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	result := &model.ReactionResult{MessageID: messageID, Emoji: emoji, Added: added}
	s.events.emit(ctx, model.ChatEvent{
		Type:       model.EventReactionToggled,
		ChatID:     msg.ChatID,
		MessageID:  messageID,
		ActorID:    userID,
		OccurredAt: s.now(),
		Payload:    result,
	})
	return result, nil
}

// findVisible loads a message that has not been deleted.
func (s *MessageService) findVisible(ctx context.Context, messageID int64) (*model.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MessageService) enrichOne(ctx context.Context, msg *model.Message) (*model.MessageView, error) {
	views, err := s.enrich(ctx, []*model.Message{msg})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// enrich attaches sender profiles, reply previews and reactions. Reply
// previews reflect the original as it is now.
func (s *MessageService) enrich(ctx context.Context, msgs []*model.Message) ([]model.MessageView, error) {
	views := make([]model.MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return views, nil
	}

	msgIDs := make([]int64, 0, len(msgs))
	userIDs := make([]int64, 0, len(msgs))
	replyIDs := make([]int64, 0)
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
		userIDs = append(userIDs, m.SenderID)
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	replies, err := s.messages.FindByIDs(ctx, uniqueIDs(replyIDs))
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		userIDs = append(userIDs, r.SenderID)
	}
	users, err := s.users.FindByIDs(ctx, uniqueIDs(userIDs))
	if err != nil {
		return nil, err
	}
	reactions, err := s.messages.Reactions(ctx, msgIDs)
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		view := model.MessageView{Message: *m, Reactions: reactions[m.ID]}
		if view.Reactions == nil {
			view.Reactions = []model.ReactionView{}
		}
		if u, ok := users[m.SenderID]; ok {
			p := u.Profile()
			view.Sender = &p
		}
		if m.ReplyToID != nil {
			if r, ok := replies[*m.ReplyToID]; ok {
				view.ReplyTo = replyPreview(r, users[r.SenderID])
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func replyPreview(original *model.Message, sender *model.User) *model.ReplyPreview {
	preview := &model.ReplyPreview{
		ID:        original.ID,
		SenderID:  original.SenderID,
		IsDeleted: original.IsDeleted,
	}
	if sender != nil {
		preview.SenderName = sender.DisplayName
	}
	if !original.IsDeleted {
		preview.Content = original.Content
	}
	return preview
}

// normalizeMetadata drops an absent or JSON null payload.
func normalizeMetadata(raw datatypes.JSON) datatypes.JSON {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return datatypes.JSON(trimmed)
}
