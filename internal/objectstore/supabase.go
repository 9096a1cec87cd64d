package objectstore

import (
	"context"
	"fmt"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseObjectStore implements ObjectStore via Supabase Storage, using
// the *supabase.Client it is given; cmd/server constructs that client
// separately from the Store Gateway's own.
type SupabaseObjectStore struct {
	client *supabase.Client
}

func NewSupabaseObjectStore(client *supabase.Client) *SupabaseObjectStore {
	return &SupabaseObjectStore{client: client}
}

func (s *SupabaseObjectStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	_, err := s.client.Storage.UpdateFile(bucket, path, data)
	if err != nil {
		_, createErr := s.client.Storage.UploadFile(bucket, path, data)
		if createErr != nil {
			return fmt.Errorf("objectstore: upload %s/%s: %w", bucket, path, createErr)
		}
	}
	return nil
}

func (s *SupabaseObjectStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	data, err := s.client.Storage.DownloadFile(bucket, path)
	if err != nil {
		return nil, fmt.Errorf("objectstore: download %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

func (s *SupabaseObjectStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	resp, err := s.client.Storage.CreateSignedUrl(bucket, path, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("objectstore: signed url %s/%s: %w", bucket, path, err)
	}
	return resp.SignedURL, nil
}
