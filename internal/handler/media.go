package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/KaifLake/internal/service"
)

// multipartSlack covers the boundary and part headers around the file.
const multipartSlack = 64 << 10

type MediaHandler struct {
	mediaService service.IMediaService
	maxUploadMB  int64
}

// NewMediaHandler builds the upload handler. maxUploadMB <= 0 disables the
// request body cap.
func NewMediaHandler(mediaService service.IMediaService, maxUploadMB int64) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, maxUploadMB: maxUploadMB}
}

func (h *MediaHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("File exceeds %d MB", h.maxUploadMB)})
}

// Upload 上传媒体文件 (multipart 字段 file), 返回的 media_url 用于发送消息
func (h *MediaHandler) Upload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	// 超限请求在解析 multipart 之前拒绝, 不落盘
	if h.maxUploadMB > 0 {
		limit := h.maxUploadMB<<20 + multipartSlack
		if c.Request.ContentLength > limit {
			h.tooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	result, err := h.mediaService.Upload(c.Request.Context(), userID, &service.Upload{
		FileName:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
