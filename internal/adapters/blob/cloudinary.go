package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Cloudinary implements Storage over a Cloudinary account. Blob keys map
// directly to Cloudinary public ids, so the photos/ and backups/ prefixes
// become folders there.
type Cloudinary struct {
	client *cld.Cloudinary
	http   *http.Client
}

// NewCloudinary builds a Cloudinary-backed store. Credentials come from
// the CLOUDINARY_URL environment variable.
func NewCloudinary() (*Cloudinary, error) {
	client, err := cld.New()
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &Cloudinary{
		client: client,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Upload implements Storage.Upload.
func (c *Cloudinary) Upload(ctx context.Context, key string, payload []byte) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	res, err := c.client.Upload.Upload(ctx, bytes.NewReader(payload), uploader.UploadParams{
		PublicID:     key,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %s: %w", key, err)
	}
	return res.SecureURL, nil
}

// Download implements Storage.Download by fetching the delivery URL.
func (c *Cloudinary) Download(ctx context.Context, key string) ([]byte, error) {
	asset, err := c.client.Image(key)
	if err != nil {
		return nil, fmt.Errorf("cloudinary asset %s: %w", key, err)
	}
	url, err := asset.String()
	if err != nil {
		return nil, fmt.Errorf("cloudinary url %s: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary download %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudinary download %s: status %d", key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete implements Storage.Delete.
func (c *Cloudinary) Delete(ctx context.Context, key string) error {
	_, err := c.client.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: key})
	if err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", key, err)
	}
	return nil
}

// SignedURL implements Storage.SignedURL. Cloudinary signs delivery URLs
// without an embedded expiry; ttl is accepted for interface compatibility.
func (c *Cloudinary) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	asset, err := c.client.Image(key)
	if err != nil {
		return "", fmt.Errorf("cloudinary asset %s: %w", key, err)
	}
	asset.Config.URL.SignURL = true
	url, err := asset.String()
	if err != nil {
		return "", fmt.Errorf("cloudinary sign %s: %w", key, err)
	}
	return url, nil
}
