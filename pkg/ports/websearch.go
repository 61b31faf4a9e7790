package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const searchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BraveSearch implements WebSearchPort against the Brave search API.
type BraveSearch struct {
	apiKey string
	client *http.Client
}

func NewBraveSearch(apiKey string) *BraveSearch {
	return &BraveSearch{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *BraveSearch) Search(ctx context.Context, query string, count int) (string, error) {
	searchURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "brave search", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "read response", Err: err}
	}

	var searchResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return "", &TransportError{Port: "websearch", Op: "parse response", Err: err}
	}

	results := searchResp.Web.Results
	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}

	lines := []string{fmt.Sprintf("Results for: %s", query)}
	for i, item := range results {
		if i >= count {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Description != "" {
			lines = append(lines, "   "+item.Description)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// DuckDuckGoSearch implements WebSearchPort by scraping the HTML endpoint.
// No API key needed; used as the fallback when Brave is not configured.
type DuckDuckGoSearch struct {
	client *http.Client
}

func NewDuckDuckGoSearch() *DuckDuckGoSearch {
	return &DuckDuckGoSearch{client: &http.Client{Timeout: 10 * time.Second}}
}

var (
	ddgLinkRegex    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRegex    = regexp.MustCompile(`<[^>]+>`)
)

func (p *DuckDuckGoSearch) Search(ctx context.Context, query string, count int) (string, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "duckduckgo search", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Port: "websearch", Op: "read response", Err: err}
	}
	return renderDuckDuckGoResults(string(body), count, query), nil
}

func renderDuckDuckGoResults(html string, count int, query string) string {
	matches := ddgLinkRegex.FindAllStringSubmatch(html, count+5)
	if len(matches) == 0 {
		return fmt.Sprintf("No results found or extraction failed. Query: %s", query)
	}
	snippets := ddgSnippetRegex.FindAllStringSubmatch(html, count+5)

	lines := []string{fmt.Sprintf("Results for: %s (via DuckDuckGo)", query)}
	for i := 0; i < len(matches) && i < count; i++ {
		urlStr := matches[i][1]
		title := strings.TrimSpace(htmlTagRegex.ReplaceAllString(matches[i][2], ""))

		// DDG wraps outbound links in a redirect with the target in uddg=.
		if strings.Contains(urlStr, "uddg=") {
			if u, err := url.QueryUnescape(urlStr); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					urlStr = u[idx+5:]
				}
			}
		}

		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, title, urlStr))
		if i < len(snippets) {
			if snippet := strings.TrimSpace(htmlTagRegex.ReplaceAllString(snippets[i][1], "")); snippet != "" {
				lines = append(lines, "   "+snippet)
			}
		}
	}
	return strings.Join(lines, "\n")
}
