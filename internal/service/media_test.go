package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

type memObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
	err          error
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func (m *memObjects) URL(key string) string { return "http://media.test/" + key }

func TestMediaService_Upload(t *testing.T) {
	ctx := context.Background()
	store := &memObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
	svc := NewMediaService(store, 1, metrics.New(), logger.NewNop())

	res, err := svc.Upload(ctx, 7, &Upload{
		FileName: "../../cat.PNG",
		Size:     3,
		Body:     bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.MediaURL, "http://media.test/media/7/"))
	assert.True(t, strings.HasSuffix(res.MediaURL, ".png"))
	assert.Equal(t, "cat.PNG", res.MediaMetadata["file_name"])
	assert.Equal(t, int64(3), res.MediaMetadata["size"])
	assert.Equal(t, "image/png", res.MediaMetadata["mime_type"])
	require.Len(t, store.objects, 1)

	tests := []struct {
		name    string
		upload  Upload
		wantErr error
	}{
		{"empty", Upload{FileName: "a.txt", Size: 0, Body: strings.NewReader("")}, ErrValidation},
		{"too large", Upload{FileName: "a.bin", Size: 2 << 20, Body: strings.NewReader("x")}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, 7, &tt.upload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	store.err = errors.New("minio down")
	_, err = svc.Upload(ctx, 7, &Upload{FileName: "b.txt", Size: 1, Body: strings.NewReader("b")})
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestMediaService_NoStore(t *testing.T) {
	svc := NewMediaService(nil, 10, nil, logger.NewNop())
	_, err := svc.Upload(context.Background(), 1, &Upload{FileName: "a", Size: 1, Body: strings.NewReader("a")})
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}
