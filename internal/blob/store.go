// Package blob uploads binary objects to the hosted object store and
// returns durable retrieval URLs.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Store is what the payment and share-image flows depend on.
type Store interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Bucket     string
	HTTPClient *http.Client
}

// HTTPStore uploads via simple PUT-by-key; the store serves the same key
// back over GET.
type HTTPStore struct {
	base   string
	key    string
	bucket string
	client *http.Client
}

func NewHTTPStore(c Config) *HTTPStore {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPStore{
		base:   strings.TrimRight(c.BaseURL, "/"),
		key:    c.APIKey,
		bucket: c.Bucket,
		client: hc,
	}
}

func (s *HTTPStore) Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", s.base, s.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", fmt.Errorf("blob: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob: upload failed: status=%d", resp.StatusCode)
	}

	return url, nil
}
