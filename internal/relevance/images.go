package relevance

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	// Decoders for the formats product photos are served in.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultImageTimeout bounds each product photo download.
const DefaultImageTimeout = 2 * time.Second

// HTTPImageConfig holds the settings for constructing an HTTPImageSource.
type HTTPImageConfig struct {
	// URLTemplate is the photo URL with "{id}" standing for the item ID
	// (e.g. "https://cdn.example.com/items/{id}.jpg").
	URLTemplate string
	// Timeout bounds each download. Defaults to DefaultImageTimeout if zero.
	Timeout time.Duration
}

// HTTPImageSource implements ImageSource by downloading photos over HTTP.
// It is safe for concurrent use.
type HTTPImageSource struct {
	// urlTemplate is the photo URL pattern.
	urlTemplate string
	// client is the shared HTTP client.
	client *http.Client
}

// NewHTTPImageSource constructs an HTTPImageSource from cfg.
func NewHTTPImageSource(cfg *HTTPImageConfig) (*HTTPImageSource, error) {
	if !strings.Contains(cfg.URLTemplate, "{id}") {
		return nil, fmt.Errorf("relevance: image URL template %q has no {id} placeholder", cfg.URLTemplate)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	return &HTTPImageSource{
		urlTemplate: cfg.URLTemplate,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Image downloads and decodes the photo for itemID.
func (s *HTTPImageSource) Image(ctx context.Context, itemID string) (image.Image, error) {
	url := strings.ReplaceAll(s.urlTemplate, "{id}", itemID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("image source: create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image source: get %s: %w", itemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image source: unexpected status %d for %s", resp.StatusCode, itemID)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("image source: decode %s: %w", itemID, err)
	}
	return img, nil
}
