// Package poll turns external news feeds into Item drafts on the durable
// stream. Pollers are stateless between cycles; cross-process deduplication
// happens through the shared content-id ledger.
package poll

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fintrendai/fintrend/pkg/fn"
)

const userAgent = "fintrend-poller/1.0 (financial news collection)"

// Entry is one raw feed entry before normalization.
type Entry struct {
	URL   string
	Title string
	Body  string
}

// Source fetches the current batch of entries from one upstream feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Entry, error)
}

// RSSSource reads an RSS 2.0 feed over HTTP.
type RSSSource struct {
	FeedName string
	FeedURL  string
	Client   *http.Client
	Retry    fn.RetryOpts
}

// NewRSSSource creates an RSSSource with a default HTTP client.
func NewRSSSource(name, url string) *RSSSource {
	return &RSSSource{
		FeedName: name,
		FeedURL:  url,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 2 * time.Second,
			MaxWait:     15 * time.Second,
			Jitter:      true,
		},
	}
}

func (s *RSSSource) Name() string { return "rss:" + s.FeedName }

// Fetch downloads and parses the feed, retrying transient failures.
func (s *RSSSource) Fetch(ctx context.Context) ([]Entry, error) {
	result := fn.Retry(ctx, s.Retry, func(ctx context.Context) fn.Result[[]Entry] {
		return fn.FromPair(s.fetchOnce(ctx))
	})

	entries, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	return entries, nil
}

func (s *RSSSource) fetchOnce(ctx context.Context) ([]Entry, error) {
	body, err := httpGet(ctx, s.Client, s.FeedURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var feed rssFeed
	if err := xml.NewDecoder(body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Channel.Items))
	for _, it := range feed.Channel.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		entries = append(entries, Entry{
			URL:   link,
			Title: strings.TrimSpace(it.Title),
			Body:  strings.TrimSpace(it.Description),
		})
	}
	return entries, nil
}

func httpGet(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}

// RSS 2.0 feed shape, reduced to the fields drafts need.

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}
