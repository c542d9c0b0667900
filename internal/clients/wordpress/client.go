// Package wordpress publishes reports through the WordPress REST API.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// Client implements domain.Publisher against /wp-json/wp/v2/posts
type Client struct {
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a WordPress publisher
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log.With().Str("client", "wordpress").Logger(),
	}
}

type createPostRequest struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Status     string  `json:"status"`
	Author     int64   `json:"author"`
	Categories []int64 `json:"categories,omitempty"`
}

type createPostResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Publish creates a post and returns its id.
// Errors are *domain.PublisherFailure; 4xx other than 408/429 are permanent.
func (c *Client) Publish(ctx context.Context, creds domain.SiteCredentials, author domain.Author, report *domain.Report) (int64, error) {
	payload := createPostRequest{
		Title:   report.Title,
		Content: report.Content,
		Status:  creds.PostStatus,
		Author:  author.ID,
	}
	if creds.CategoryID > 0 {
		payload.Categories = []int64{creds.CategoryID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &domain.PublisherFailure{Permanent: true, Err: fmt.Errorf("failed to marshal post: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.SiteURL+"/wp-json/wp/v2/posts", bytes.NewReader(body))
	if err != nil {
		return 0, &domain.PublisherFailure{Permanent: true, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.Username, creds.AppPassword)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts are transient, unless the caller gave up
		return 0, &domain.PublisherFailure{Permanent: errors.Is(err, context.Canceled), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, &domain.PublisherFailure{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wpErr errorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(respBody, &wpErr) == nil && wpErr.Code != "" {
			msg = wpErr.Code + ": " + wpErr.Message
		}
		return 0, &domain.PublisherFailure{
			StatusCode: resp.StatusCode,
			Permanent:  isPermanentStatus(resp.StatusCode),
			Err:        errors.New(msg),
		}
	}

	var created createPostResponse
	if err := json.Unmarshal(respBody, &created); err != nil || created.ID == 0 {
		return 0, &domain.PublisherFailure{StatusCode: resp.StatusCode, Permanent: true, Err: fmt.Errorf("unexpected response body: %q", truncate(respBody, 200))}
	}

	c.log.Info().
		Str("site", creds.SiteURL).
		Str("ticker", report.Ticker).
		Int64("post_id", created.ID).
		Int64("author_id", author.ID).
		Msg("Post published")

	return created.ID, nil
}

func isPermanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
