package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryObjectStore_UploadDownloadRoundTrip(t *testing.T) {
	s := NewMemoryObjectStore()
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "clips", "job-1/clip-0.mp4", []byte("video-bytes"), "video/mp4"))

	data, err := s.Download(ctx, "clips", "job-1/clip-0.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("video-bytes"), data)
}

func TestMemoryObjectStore_DownloadMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryObjectStore()
	_, err := s.Download(context.Background(), "clips", "missing")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryObjectStore_SignedURLRequiresExistingObject(t *testing.T) {
	s := NewMemoryObjectStore()
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "videos", "job-1.mp4", []byte("v"), "video/mp4"))

	url, err := s.SignedURL(ctx, "videos", "job-1.mp4", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "job-1.mp4")

	_, err = s.SignedURL(ctx, "videos", "missing.mp4", time.Minute)
	require.Error(t, err)
}
