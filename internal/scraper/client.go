package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus"
)

// Client fetches Telegraph pages.
type Client struct {
	config     *config.TelegraphConfig
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a page client. httpClient is shared with the downloader
// so both use the same connection pool.
func NewClient(config *config.TelegraphConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		log:        logger,
	}
}

// apiResponse is the envelope of every Telegraph API call.
type apiResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result *struct {
		Path    string        `json:"path"`
		URL     string        `json:"url"`
		Title   string        `json:"title"`
		Content []models.Node `json:"content"`
	} `json:"result"`
}

// ExtractSlug returns the page slug of link, which is either a bare slug or a
// URL on the configured host.
func (c *Client) ExtractSlug(link string) (string, error) {
	return ExtractSlug(link, c.config.Host)
}

// ExtractSlug strips host from link and returns the remaining path segment.
// host may carry a scheme and port.
func ExtractSlug(link, host string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("link is empty")
	}

	bareHost := hostOnly(host)
	if !strings.Contains(link, "://") && strings.HasPrefix(strings.ToLower(link), strings.ToLower(bareHost)+"/") {
		link = "https://" + link
	}

	if !strings.Contains(link, "://") {
		slug := strings.Trim(link, "/")
		if slug == "" || strings.Contains(slug, "/") {
			return "", fmt.Errorf("invalid page slug %q", link)
		}
		return slug, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	linkHost := strings.ToLower(u.Host)
	if linkHost != strings.ToLower(bareHost) && linkHost != "www."+strings.ToLower(bareHost) {
		return "", fmt.Errorf("link %q is not on %s", link, bareHost)
	}

	slug := strings.Trim(u.Path, "/")
	if slug == "" || strings.Contains(slug, "/") {
		return "", fmt.Errorf("link %q does not point to a page", link)
	}
	return slug, nil
}

func hostOnly(host string) string {
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.TrimRight(host, "/")
}

// pageURL is where the rendered page of slug lives.
func (c *Client) pageURL(slug string) string {
	base := c.config.Host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(slug)
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.NetworkError{URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &models.NetworkError{URL: target, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// FetchPage loads the title and content of slug from the Telegraph API.
func (c *Client) FetchPage(ctx context.Context, slug string) (*models.Page, error) {
	target := strings.TrimRight(c.config.APIBase, "/") + "/getPage/" + url.PathEscape(slug) + "?return_content=true"

	c.log.WithFields(logrus.Fields{
		"component": "scraper",
		"slug":      slug,
	}).Debug("Fetching page from API")

	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		var malformed *models.MalformedContentError
		if errors.As(err, &malformed) {
			return nil, malformed
		}
		return nil, &models.NetworkError{URL: target, Err: fmt.Errorf("invalid response: %w", err)}
	}

	if !body.OK {
		msg := body.Error
		if msg == "" {
			msg = "api returned ok=false"
		}
		return nil, &models.NetworkError{URL: target, Err: errors.New(msg)}
	}
	if body.Result == nil {
		return nil, &models.MalformedContentError{Reason: "response has no result"}
	}

	page := &models.Page{
		Slug:    slug,
		Title:   body.Result.Title,
		URL:     body.Result.URL,
		Content: body.Result.Content,
	}
	if body.Result.Path != "" {
		page.Slug = body.Result.Path
	}
	return page, nil
}

// Fetch loads slug according to the configured source: the API, the rendered
// HTML, or the API with a fallback to HTML when the API cannot be reached.
func (c *Client) Fetch(ctx context.Context, slug string) (*models.Page, error) {
	switch c.config.Source {
	case config.SourceHTML:
		return c.FetchHTML(ctx, slug)
	case config.SourceAuto:
		page, err := c.FetchPage(ctx, slug)
		var netErr *models.NetworkError
		if err == nil || !errors.As(err, &netErr) || ctx.Err() != nil {
			return page, err
		}
		c.log.WithFields(logrus.Fields{
			"component": "scraper",
			"slug":      slug,
		}).WithError(err).Warn("API request failed, falling back to HTML")
		return c.FetchHTML(ctx, slug)
	default:
		return c.FetchPage(ctx, slug)
	}
}
