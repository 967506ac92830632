package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// FetchHTML loads the rendered page and converts its article body into the
// same content tree the API returns.
func (c *Client) FetchHTML(ctx context.Context, slug string) (*models.Page, error) {
	target := c.pageURL(slug)

	c.log.WithFields(logrus.Fields{
		"component": "scraper",
		"slug":      slug,
	}).Debug("Fetching page HTML")

	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &models.NetworkError{URL: target, Err: err}
	}

	page, err := ParseHTML(doc)
	if err != nil {
		return nil, err
	}
	page.Slug = slug
	page.URL = target
	return page, nil
}

// ParseHTML reads the title and article content of a rendered page.
func ParseHTML(doc *goquery.Document) (*models.Page, error) {
	article := doc.Find("article#_tl_editor").First()
	if article.Length() == 0 {
		article = doc.Find("article").First()
	}
	if article.Length() == 0 {
		return nil, &models.MalformedContentError{Reason: "page has no article"}
	}

	page := &models.Page{Title: pageTitle(doc, article)}
	for child := article.Get(0).FirstChild; child != nil; child = child.NextSibling {
		// The header is rendered inside the article but is not content.
		if child.Type == html.ElementNode && (child.Data == "h1" || child.Data == "address") {
			continue
		}
		if n, ok := convert(child); ok {
			page.Content = append(page.Content, n)
		}
	}
	return page, nil
}

func pageTitle(doc *goquery.Document, article *goquery.Selection) string {
	if t := strings.TrimSpace(article.Find("h1").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// convert turns a DOM node into a content node. Comments, doctypes and
// whitespace-only text are dropped.
func convert(n *html.Node) (models.Node, bool) {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return models.Node{}, false
		}
		return models.TextNode(n.Data), true
	case html.ElementNode:
		var attrs map[string]string
		if len(n.Attr) > 0 {
			attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
		}
		var children []models.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child, ok := convert(c); ok {
				children = append(children, child)
			}
		}
		return models.ElementNode(n.Data, attrs, children...), true
	default:
		return models.Node{}, false
	}
}
