package lookup

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/nova/internal/metrics"
)

// defaultFeeds maps news categories to RSS feed URLs.
var defaultFeeds = map[string]string{
	"general":    "https://rss.nytimes.com/services/xml/rss/nyt/HomePage.xml",
	"technology": "https://feeds.arstechnica.com/arstechnica/technology-lab",
	"science":    "https://rss.nytimes.com/services/xml/rss/nyt/Science.xml",
	"business":   "https://feeds.bbci.co.uk/news/business/rss.xml",
	"sports":     "https://rss.nytimes.com/services/xml/rss/nyt/Sports.xml",
	"health":     "https://rss.nytimes.com/services/xml/rss/nyt/Health.xml",
}

// Article is one news item from a feed.
type Article struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Source  string `json:"source"`
	PubDate string `json:"pubDate"`
}

// NewsDigest is the structured payload attached to a news result.
type NewsDigest struct {
	Category string    `json:"category"`
	Articles []Article `json:"articles"`
}

// Summary renders the digest as the human-readable sentence shown to users.
func (d NewsDigest) Summary() string {
	titles := make([]string, len(d.Articles))
	for i, a := range d.Articles {
		titles[i] = a.Title
	}
	return "Headlines: " + strings.Join(titles, "; ")
}

// NewsClient fetches headlines from category RSS feeds.
type NewsClient struct {
	feeds      map[string]string
	httpClient *http.Client
	collector  *metrics.Collector
}

// NewNewsClient creates a news client with the default feed map.
func NewNewsClient(collector *metrics.Collector) *NewsClient {
	return &NewsClient{
		feeds:      defaultFeeds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		collector:  collector,
	}
}

// SetFeeds replaces the category feed map (used by tests and config).
func (c *NewsClient) SetFeeds(feeds map[string]string) {
	c.feeds = feeds
}

// rssDocument is the minimal RSS 2.0 shape we read from feeds.
type rssDocument struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Get fetches up to count headlines for a category. Unknown categories fall
// back to general.
func (c *NewsClient) Get(ctx context.Context, category string, count int) (*NewsDigest, error) {
	start := time.Now()
	digest, err := c.get(ctx, category, count)
	record(c.collector, metrics.OpNewsLookup, start, err != nil)
	return digest, err
}

func (c *NewsClient) get(ctx context.Context, category string, count int) (*NewsDigest, error) {
	feedURL, ok := c.feeds[category]
	if !ok {
		feedURL = c.feeds["general"]
	}
	if feedURL == "" {
		return nil, fmt.Errorf("no feed configured for category %q", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed status %d", resp.StatusCode)
	}

	var doc rssDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse news feed: %w", err)
	}

	items := doc.Channel.Items
	if len(items) > count {
		items = items[:count]
	}
	articles := make([]Article, len(items))
	for i, item := range items {
		articles[i] = Article{
			Title:   item.Title,
			Link:    item.Link,
			Source:  doc.Channel.Title,
			PubDate: item.PubDate,
		}
	}

	return &NewsDigest{Category: category, Articles: articles}, nil
}
