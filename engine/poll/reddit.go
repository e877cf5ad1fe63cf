package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fintrendai/fintrend/pkg/fn"
)

const redditBaseURL = "https://www.reddit.com"

// RedditSource reads the newest posts of one subreddit through Reddit's
// public JSON listing. Self-text posts carry their body; link posts yield
// title-only entries pointing at the external URL.
type RedditSource struct {
	Subreddit string
	Limit     int
	Client    *http.Client
	Retry     fn.RetryOpts
}

// NewRedditSource creates a RedditSource with a default HTTP client.
func NewRedditSource(subreddit string, limit int) *RedditSource {
	if limit <= 0 {
		limit = 50
	}
	return &RedditSource{
		Subreddit: subreddit,
		Limit:     limit,
		Client:    &http.Client{Timeout: 30 * time.Second},
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 5 * time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		},
	}
}

func (s *RedditSource) Name() string { return "reddit:" + s.Subreddit }

// Fetch retrieves the new.json listing, retrying transient failures.
func (s *RedditSource) Fetch(ctx context.Context) ([]Entry, error) {
	url := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", redditBaseURL, s.Subreddit, s.Limit)

	result := fn.Retry(ctx, s.Retry, func(ctx context.Context) fn.Result[*redditListing] {
		return s.doGet(ctx, url)
	})

	resp, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("%s listing: %w", s.Name(), err)
	}

	entries := make([]Entry, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		d := child.Data
		url := d.URL
		if url == "" {
			url = redditBaseURL + d.Permalink
		}
		entries = append(entries, Entry{
			URL:   url,
			Title: d.Title,
			Body:  d.SelfText,
		})
	}
	return entries, nil
}

func (s *RedditSource) doGet(ctx context.Context, url string) fn.Result[*redditListing] {
	body, err := httpGet(ctx, s.Client, url)
	if err != nil {
		return fn.Err[*redditListing](err)
	}
	defer body.Close()

	var resp redditListing
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return fn.Err[*redditListing](fmt.Errorf("decode listing: %w", err))
	}
	return fn.Ok(&resp)
}

// Reddit JSON API response types, reduced to the fields drafts need.

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Kind string `json:"kind"`
	Data struct {
		Title     string `json:"title"`
		SelfText  string `json:"selftext"`
		URL       string `json:"url"`
		Permalink string `json:"permalink"`
	} `json:"data"`
}
