package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/KaifLake/internal/service"
)

type ChatHandler struct {
	chatService service.IChatService
}

func NewChatHandler(chatService service.IChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ListChats 获取当前用户的会话列表
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// CreateChat 创建会话. 私聊已存在时返回 200 和已有会话
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req service.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.chatService.CreateChat(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, service.ErrNotFound)
	if !ok {
		return
	}
	detail, err := h.chatService.GetChat(c.Request.Context(), userID, chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, service.ErrNotFound)
	if !ok {
		return
	}
	var req service.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.chatService.MarkRead(c.Request.Context(), userID, chatID, &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}
