// Package apify talks to the Apify actor API that performs the actual
// Xiaohongshu scraping. The actor runs synchronously and returns its dataset
// items in the response body.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/models"
)

// DefaultBaseURL is the Apify API root.
const DefaultBaseURL = "https://api.apify.com"

// ActorInput is the run input accepted by the scraper actor. Fields are
// populated per mode; absent slices are omitted from the payload.
type ActorInput struct {
	Mode        string   `json:"mode"`
	Keywords    []string `json:"keywords,omitempty"`
	PostURLs    []string `json:"postUrls,omitempty"`
	ProfileURLs []string `json:"profileUrls,omitempty"`
	MaxItems    int      `json:"maxItems,omitempty"`
}

// Client calls the Apify actor API.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	token      string
	actorID    string
	maxRetries int
	logger     logger.Logger
}

// NewClient creates an Apify client for the given actor.
func NewClient(token, actorID string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		baseURL:    DefaultBaseURL,
		token:      token,
		actorID:    actorID,
		maxRetries: 3,
		logger:     log,
	}
}

// SetBaseURL overrides the API root. Used in tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetMaxRetries overrides the retry count for transient failures.
func (c *Client) SetMaxRetries(n int) {
	c.maxRetries = n
}

// RunActorSync starts a synchronous actor run and decodes the returned
// dataset items into target.
func (c *Client) RunActorSync(ctx context.Context, input ActorInput, target interface{}) error {
	if c.token == "" {
		return errors.New(errors.ErrorTypeConfiguration, "apify API token is not set")
	}
	if c.actorID == "" {
		return errors.New(errors.ErrorTypeConfiguration, "apify actor ID is not set")
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return errors.Newf(errors.ErrorTypeUnknown, "failed to encode actor input: %v", err)
	}

	url := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items", c.baseURL, c.actorID)

	c.logger.InfoWithFields("starting actor run", map[string]interface{}{
		"actor_id":  c.actorID,
		"mode":      input.Mode,
		"max_items": input.MaxItems,
	})

	resp, err := c.doRequestWithRetry(ctx, "POST", url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Newf(errors.ErrorTypeNetwork, "failed to read actor response: %v", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse actor response", map[string]interface{}{
			"actor_id":     c.actorID,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errors.Newf(errors.ErrorTypeParsing, "failed to parse actor response: %v", err)
	}

	return nil
}

// Search runs a keyword search and returns the scraped posts.
func (c *Client) Search(ctx context.Context, keywords []string, maxItems int) ([]models.Post, error) {
	if len(keywords) == 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "search requires at least one keyword")
	}

	var posts []models.Post
	err := c.RunActorSync(ctx, ActorInput{
		Mode:     "search",
		Keywords: keywords,
		MaxItems: maxItems,
	}, &posts)
	if err != nil {
		return nil, err
	}

	c.logger.InfoWithFields("search completed", map[string]interface{}{
		"keywords": keywords,
		"posts":    len(posts),
	})
	return posts, nil
}

// Comments fetches comments from the given post URLs. Comment items do not
// share the post schema, so they come back raw.
func (c *Client) Comments(ctx context.Context, postURLs []string, maxItems int) ([]json.RawMessage, error) {
	if len(postURLs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "comments require at least one post URL")
	}

	var items []json.RawMessage
	err := c.RunActorSync(ctx, ActorInput{
		Mode:     "comment",
		PostURLs: postURLs,
		MaxItems: maxItems,
	}, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Profiles fetches user profiles for the given profile URLs.
func (c *Client) Profiles(ctx context.Context, profileURLs []string) ([]json.RawMessage, error) {
	if len(profileURLs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "profiles require at least one profile URL")
	}

	var items []json.RawMessage
	err := c.RunActorSync(ctx, ActorInput{
		Mode:        "profile",
		ProfileURLs: profileURLs,
	}, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UserPosts fetches recent posts from the given user profiles.
func (c *Client) UserPosts(ctx context.Context, profileURLs []string, maxItems int) ([]models.Post, error) {
	if len(profileURLs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "user posts require at least one profile URL")
	}

	var posts []models.Post
	err := c.RunActorSync(ctx, ActorInput{
		Mode:        "userPosts",
		ProfileURLs: profileURLs,
		MaxItems:    maxItems,
	}, &posts)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeUnknown, "failed to create request: %v", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": method,
		"url":    url,
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Newf(errors.ErrorTypeNetwork, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WarnWithFields("retrying HTTP request", map[string]interface{}{
				"method":  method,
				"url":     url,
				"attempt": attempt,
				"error":   lastErr.Error(),
			})

			select {
			case <-time.After(time.Second * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, method, url, body)
		if err != nil {
			lastErr = err

			var apiErr *errors.Error
			if stderrors.As(err, &apiErr) && apiErr.Type == errors.ErrorTypeNetwork {
				continue
			}
			return nil, err
		}

		if errors.IsRetryableStatusCode(resp.StatusCode) && resp.StatusCode != http.StatusOK {
			lastErr = &errors.Error{
				Type:    errors.ErrorTypeServerError,
				Message: fmt.Sprintf("server returned status %d", resp.StatusCode),
				Code:    resp.StatusCode,
			}
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	c.logger.ErrorWithFields("max retries exceeded", map[string]interface{}{
		"method":      method,
		"url":         url,
		"max_retries": c.maxRetries,
		"last_error":  lastErr.Error(),
	})

	return nil, lastErr
}

func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errors.Error{
			Type:    errors.ErrorTypeAuth,
			Message: "apify rejected the API token",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return &errors.Error{
			Type:    errors.ErrorTypeNotFound,
			Message: fmt.Sprintf("actor %s not found", c.actorID),
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errors.Error{
			Type:    errors.ErrorTypeRateLimit,
			Message: "apify rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return &errors.Error{
			Type:    errors.ErrorTypeServerError,
			Message: "apify server error",
			Code:    resp.StatusCode,
		}
	default:
		return &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}
