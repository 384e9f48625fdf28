// Package fetch downloads remote files into memory.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// StatusError is returned when the remote server answers outside 2xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to fetch EPUB: %d", e.StatusCode)
}

// Content is a fully buffered remote response.
type Content struct {
	Data        []byte
	StatusCode  int
	ContentType string
}

// HTTPFetcher issues a single GET per call. It never retries.
type HTTPFetcher struct {
	client *http.Client
}

// New creates an HTTPFetcher. A nil client uses a client with no timeout.
func New(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client}
}

// Fetch downloads url and returns its whole body. The body size is not
// limited and its content is not inspected.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	slog.DebugContext(ctx, "remote file fetched",
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"size", len(data),
	)

	return &Content{
		Data:        data,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
