package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/pkg/objectstore"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

// Upload describes one file received from a client.
type Upload struct {
	FileName    string
	Size        int64
	ContentType string
	Body        io.Reader
}

// MediaResult is what a client puts into media_url and media_metadata when sending.
type MediaResult struct {
	MediaURL      string         `json:"media_url"`
	MediaMetadata map[string]any `json:"media_metadata"`
}

type IMediaService interface {
	Upload(ctx context.Context, userID int64, upload *Upload) (*MediaResult, error)
}

type MediaService struct {
	store    objectstore.ObjectStore
	maxBytes int64
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

// NewMediaService accepts a nil store; uploads then fail with ErrMediaUnavailable.
func NewMediaService(store objectstore.ObjectStore, maxUploadMB int64, m *metrics.Metrics, log *logger.Logger) *MediaService {
	return &MediaService{
		store:    store,
		maxBytes: maxUploadMB << 20,
		metrics:  m,
		logger:   log.Named("media"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MediaService) Upload(ctx context.Context, userID int64, upload *Upload) (*MediaResult, error) {
	if s.store == nil {
		return nil, ErrMediaUnavailable
	}
	if upload.Size <= 0 {
		return nil, invalid("File is empty")
	}
	if s.maxBytes > 0 && upload.Size > s.maxBytes {
		return nil, invalid("File exceeds %d MB", s.maxBytes>>20)
	}

	name := filepath.Base(upload.FileName)
	ext := strings.ToLower(filepath.Ext(name))
	contentType := upload.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		} else {
			contentType = "application/octet-stream"
		}
	}

	key := fmt.Sprintf("media/%d/%s/%s%s", userID, s.now().Format("2006/01/02"), uuid.NewString(), ext)
	if err := s.store.Put(ctx, key, upload.Body, upload.Size, contentType); err != nil {
		s.metrics.MediaUploaded(false)
		s.logger.ErrorContext(ctx, "media upload failed", zap.String("key", key), zap.Error(err))
		return nil, ErrMediaUnavailable
	}
	s.metrics.MediaUploaded(true)

	return &MediaResult{
		MediaURL: s.store.URL(key),
		MediaMetadata: map[string]any{
			"file_name": name,
			"size":      upload.Size,
			"mime_type": contentType,
		},
	}, nil
}
