package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultMaxChars = 20000
	maxFetchChars   = 100000
	mimePDF         = "application/pdf"
	mimeHTML        = "text/html"
)

// Page is the text extracted from a fetched URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// FetchURL downloads a web page or PDF and returns its readable text.
type FetchURL struct {
	client *http.Client
}

func NewFetchURL(client *http.Client) *FetchURL {
	return &FetchURL{client: client}
}

func (t *FetchURL) Name() string { return NameFetchURL }

func (t *FetchURL) Description() string {
	return "Fetch a URL (HTML page or PDF) and return its text content. Use after web_search to read a promising result."
}

func (t *FetchURL) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http or https URL",
			},
			"maxChars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters of text to return (default 20000)",
			},
		},
		"required": []string{"url"},
	}
}

type fetchInput struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

func (t *FetchURL) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in fetchInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("url", in.URL); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "salesops-agent/1.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, statusError(resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Host, err)
	}

	page := Page{URL: u.String(), ContentType: contentType(resp.Header.Get("Content-Type"), u.Path, data)}
	switch page.ContentType {
	case mimePDF:
		page.Text, err = extractPDF(data)
	case mimeHTML:
		page.Title, page.Text, err = extractHTML(data)
	default:
		page.Text = collapseSpace(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", page.ContentType, err)
	}

	limit := clamp(in.MaxChars, 1, maxFetchChars, defaultMaxChars)
	if runes := []rune(page.Text); len(runes) > limit {
		page.Text = string(runes[:limit])
		page.Truncated = true
	}
	return page, nil
}

func contentType(header, path string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(data)
		if i := strings.Index(mediaType, ";"); i >= 0 {
			mediaType = mediaType[:i]
		}
	}
	if mediaType != mimePDF && (bytes.HasPrefix(data, []byte("%PDF-")) || strings.HasSuffix(strings.ToLower(path), ".pdf")) {
		return mimePDF
	}
	if mediaType == "application/xhtml+xml" {
		return mimeHTML
	}
	return mediaType
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return collapseSpace(buf.String()), nil
}

// extractHTML returns the document title and the visible body text.
func extractHTML(data []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var title string
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Svg, atom.Template, atom.Head:
				if n.DataAtom == atom.Head {
					title = findTitle(n)
				}
				return
			case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, collapseSpace(sb.String()), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// collapseSpace squeezes runs of spaces and keeps single line breaks.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
